// Package providers defines the collaborator capability interfaces the
// execution engine calls (SSH, database, RADIUS tool, HTTP, persistence)
// and their shared result types. The engine never touches a wire protocol
// directly; it talks to these interfaces.
package providers

import (
	"context"
	"time"

	"github.com/ormasoftchile/radrun/pkg/schema"
)

// SSHResult holds the output of a single remote command.
type SSHResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// SSHClient is one session against a target server. Connect must be called
// before Run; Close releases the session and is safe to call on every exit
// path.
// Implementations: CryptoSSHClient.
type SSHClient interface {
	Connect(ctx context.Context, profile *schema.Profile) error
	Run(ctx context.Context, command string) (*SSHResult, error)
	Close() error
}

// Row is one result row keyed by column name.
type Row map[string]string

// QueryResult holds the rows returned by a database query.
type QueryResult struct {
	Rows []Row `json:"rows"`
}

// Database runs verification queries against the target server's subscriber
// database.
// Implementations: PgxDatabase.
type Database interface {
	Connect(ctx context.Context, cfg *schema.DatabaseConfig) error
	Query(ctx context.Context, sql string) (*QueryResult, error)
	Close() error
}

// Packet is a fully resolved RADIUS packet ready for the tool: code plus
// attribute-value pairs with all placeholders substituted.
type Packet struct {
	Code       string             `json:"code"`
	Attributes []schema.Attribute `json:"attributes"`
	// Port is the resolved target port ("auth" steps use the profile's auth
	// port, "acct" steps the accounting port).
	Port int `json:"port"`
}

// ToolResult holds the outcome of one RADIUS exchange driven by the external
// tool.
type ToolResult struct {
	Sent      string        `json:"sent"`     // representation of the packet sent
	Received  string        `json:"received"` // representation of the reply, empty on timeout
	RawOutput string        `json:"raw_output"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
}

// RadiusTool performs one request/reply exchange with the target server.
// Implementations: RadclientTool.
type RadiusTool interface {
	Exchange(ctx context.Context, packet *Packet, profile *schema.Profile) (*ToolResult, error)
}

// HTTPRequest is one resolved HTTP call.
type HTTPRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// HTTPResult holds the response of one HTTP call.
type HTTPResult struct {
	Status   int               `json:"status"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     string            `json:"body"`
	Duration time.Duration     `json:"duration"`
}

// HTTPClient performs api_call steps.
// Implementations: StdHTTPClient.
type HTTPClient interface {
	Do(ctx context.Context, req *HTTPRequest) (*HTTPResult, error)
}
