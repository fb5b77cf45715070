// Package store implements the persistence collaborator on SQLite:
// execution records, flushed log batches and result summaries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ormasoftchile/radrun/pkg/runtime"
)

// SQLiteStore is the durable backing for execution records and logs.
// Writes are keyed by execution id, so independent controllers can share
// one store.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and bootstraps the schema.
func Open(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initTables creates the database schema.
func (s *SQLiteStore) initTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		scenario_name TEXT NOT NULL,
		profile_name TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS execution_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		step_id TEXT,
		message TEXT NOT NULL,
		detail TEXT
	);

	CREATE TABLE IF NOT EXISTS execution_summaries (
		execution_id TEXT PRIMARY KEY REFERENCES executions(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		steps_total INTEGER NOT NULL,
		steps_passed INTEGER NOT NULL,
		steps_failed INTEGER NOT NULL,
		steps_skipped INTEGER NOT NULL,
		failed_step_id TEXT,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_logs_execution ON execution_logs(execution_id, seq);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize tables: %w", err)
	}
	return nil
}

// CreateExecution inserts a new record in the Running state.
func (s *SQLiteStore) CreateExecution(ctx context.Context, rec *runtime.ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, scenario_name, profile_name, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.ScenarioName, rec.ProfileName, string(rec.Status), rec.StartedAt)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

// FinishExecution moves a record from Running to a terminal status. The
// WHERE clause enforces the one-way transition: a record that already
// reached a terminal state is never overwritten.
func (s *SQLiteStore) FinishExecution(ctx context.Context, id string, status runtime.Status, endedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET status = ?, ended_at = ?
		WHERE id = ? AND status = ?
	`, string(status), endedAt, id, string(runtime.StatusRunning))
	if err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("execution %s is not running", id)
	}
	return nil
}

// AppendLogs persists one run's full batch in a single transaction.
func (s *SQLiteStore) AppendLogs(ctx context.Context, id string, entries []runtime.LogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin log batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO execution_logs (execution_id, seq, timestamp, level, step_id, message, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare log insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, id, i, e.Timestamp, e.Level, e.StepID, e.Message, e.Detail); err != nil {
			return fmt.Errorf("insert log %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit log batch: %w", err)
	}
	return nil
}

// CreateSummary writes the condensed per-run result.
func (s *SQLiteStore) CreateSummary(ctx context.Context, sum *runtime.RunSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_summaries
			(execution_id, status, steps_total, steps_passed, steps_failed, steps_skipped, failed_step_id, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sum.ExecutionID, string(sum.Status), sum.StepsTotal, sum.StepsPassed, sum.StepsFailed,
		sum.StepsSkipped, sum.FailedStepID, sum.Error)
	if err != nil {
		return fmt.Errorf("create summary: %w", err)
	}
	return nil
}

// GetExecution returns a single execution record by id.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*runtime.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, scenario_name, profile_name, status, started_at, ended_at
		FROM executions
		WHERE id = ?
	`, id)

	var rec runtime.ExecutionRecord
	var status string
	var ended sql.NullTime
	if err := row.Scan(&rec.ID, &rec.ScenarioName, &rec.ProfileName, &status, &rec.StartedAt, &ended); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no execution %s", id)
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	rec.Status = runtime.Status(status)
	if ended.Valid {
		t := ended.Time
		rec.EndedAt = &t
	}
	return &rec, nil
}

// ListExecutions returns all executions, most recent first.
func (s *SQLiteStore) ListExecutions(ctx context.Context) ([]runtime.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scenario_name, profile_name, status, started_at, ended_at
		FROM executions
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var records []runtime.ExecutionRecord
	for rows.Next() {
		var rec runtime.ExecutionRecord
		var status string
		var ended sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.ScenarioName, &rec.ProfileName, &status, &rec.StartedAt, &ended); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.Status = runtime.Status(status)
		if ended.Valid {
			t := ended.Time
			rec.EndedAt = &t
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return records, nil
}

// GetLogs returns the flushed log batch of one execution in emission order.
func (s *SQLiteStore) GetLogs(ctx context.Context, executionID string) ([]runtime.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, level, step_id, message, detail
		FROM execution_logs
		WHERE execution_id = ?
		ORDER BY seq
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("get logs: %w", err)
	}
	defer rows.Close()

	var entries []runtime.LogEntry
	for rows.Next() {
		var e runtime.LogEntry
		var stepID, detail sql.NullString
		if err := rows.Scan(&e.Timestamp, &e.Level, &stepID, &e.Message, &detail); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		e.StepID = stepID.String
		e.Detail = detail.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return entries, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
