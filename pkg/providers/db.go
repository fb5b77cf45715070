package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ormasoftchile/radrun/pkg/schema"
)

// PgxDatabase is the real Database over a pgx connection pool.
type PgxDatabase struct {
	pool *pgxpool.Pool
}

// NewPgxDatabase returns an unconnected database collaborator.
func NewPgxDatabase() *PgxDatabase {
	return &PgxDatabase{}
}

// Connect opens the pool and verifies the connection with a ping.
func (d *PgxDatabase) Connect(ctx context.Context, cfg *schema.DatabaseConfig) error {
	if d.pool != nil {
		return errors.New("database already connected")
	}
	if cfg == nil || cfg.DSN == "" {
		return errors.New("profile declares no database dsn")
	}

	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return fmt.Errorf("ping: %w", err)
	}
	d.pool = pool
	return nil
}

// Query runs one statement and materializes every row as column-name →
// string value. Verification queries are small; full materialization keeps
// the engine's expectation check trivial.
func (d *PgxDatabase) Query(ctx context.Context, sql string) (*QueryResult, error) {
	if d.pool == nil {
		return nil, errors.New("database not connected")
	}

	rows, err := d.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &QueryResult{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(Row, len(fields))
		for i, f := range fields {
			if values[i] == nil {
				row[f.Name] = ""
				continue
			}
			row[f.Name] = fmt.Sprintf("%v", values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// Close releases the pool. Safe to call when never connected.
func (d *PgxDatabase) Close() error {
	if d.pool != nil {
		d.pool.Close()
		d.pool = nil
	}
	return nil
}
