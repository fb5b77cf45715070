// Package runtime implements the scenario execution engine: controller,
// step executor, preamble runner, variable resolver and log aggregation.
package runtime

import (
	"context"
	"time"

	"github.com/ormasoftchile/radrun/pkg/assertions"
)

// Status is the lifecycle state of one execution. Running is the initial
// state; the other three are terminal and mutually exclusive.
type Status string

const (
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusAborted   Status = "Aborted"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// ErrorKind classifies a step or command failure for diagnosability.
type ErrorKind string

const (
	// KindConnection is an SSH/DB/RADIUS-tool/HTTP transport failure.
	KindConnection ErrorKind = "connection"
	// KindValidation is an expected substring/column-value/status/attribute
	// mismatch, or a non-zero command exit.
	KindValidation ErrorKind = "validation"
	// KindConfiguration is a step referencing a missing packet template or
	// omitting a required field.
	KindConfiguration ErrorKind = "configuration"
	// KindCancellation is a user-initiated abort observed at a boundary.
	KindCancellation ErrorKind = "cancellation"
)

// Log levels.
const (
	LevelInfo    = "INFO"
	LevelDebug   = "DEBUG"
	LevelWarn    = "WARN"
	LevelError   = "ERROR"
	LevelSent    = "SENT"
	LevelRecv    = "RECV"
	LevelSSHCmd  = "SSH_CMD"
	LevelSSHOut  = "SSH_OUT"
	LevelSSHFail = "SSH_FAIL"
)

// LogEntry is one structured log line of a run. StepID is empty for
// preamble and lifecycle entries.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Level     string    `json:"level"     yaml:"level"`
	StepID    string    `json:"step_id,omitempty" yaml:"step_id,omitempty"`
	Message   string    `json:"message"   yaml:"message"`
	Detail    string    `json:"detail,omitempty" yaml:"detail,omitempty"` // raw blob: packet dump, query rows, response body
}

// ExecutionRecord is the durable record of one run's lifecycle. The
// controller exclusively owns it until the run reaches a terminal state.
type ExecutionRecord struct {
	ID           string     `json:"id"`
	ScenarioName string     `json:"scenario_name"`
	ProfileName  string     `json:"profile_name"`
	Status       Status     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"` // nil until terminal
}

// RunSummary is the condensed per-run result written at finalization.
type RunSummary struct {
	ExecutionID  string `json:"execution_id"`
	Status       Status `json:"status"`
	StepsTotal   int    `json:"steps_total"`
	StepsPassed  int    `json:"steps_passed"`
	StepsFailed  int    `json:"steps_failed"`
	StepsSkipped int    `json:"steps_skipped"`
	FailedStepID string `json:"failed_step_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// StepOutcome is the uniform result envelope of one step execution.
type StepOutcome struct {
	StepID     string               `json:"step_id"`
	Success    bool                 `json:"success"`
	Kind       ErrorKind            `json:"error_kind,omitempty"`
	Error      string               `json:"error,omitempty"`
	Assertions []*assertions.Result `json:"assertions,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	EndedAt    time.Time            `json:"ended_at"`
}

// PreambleOutcome is the result of the SSH preparation phase.
type PreambleOutcome struct {
	Success     bool      `json:"success"`
	Kind        ErrorKind `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	CommandsRun int       `json:"commands_run"`
	Skipped     int       `json:"skipped"`
}

// Store is the persistence collaborator. Implementations must support
// concurrent writes keyed by distinct execution ids.
// Implementations: store.SQLiteStore.
type Store interface {
	CreateExecution(ctx context.Context, rec *ExecutionRecord) error
	FinishExecution(ctx context.Context, id string, status Status, endedAt time.Time) error
	AppendLogs(ctx context.Context, id string, entries []LogEntry) error
	CreateSummary(ctx context.Context, summary *RunSummary) error
}

// RunManifest is written as run.yaml in the run's artifact directory after
// finalization.
type RunManifest struct {
	ExecutionID string `yaml:"execution_id" json:"execution_id"`
	Scenario    string `yaml:"scenario"     json:"scenario"`
	Profile     string `yaml:"profile"      json:"profile"`
	Status      Status `yaml:"status"       json:"status"`
	StartedAt   string `yaml:"started_at"   json:"started_at"`
	EndedAt     string `yaml:"ended_at"     json:"ended_at"`
	StepsTotal  int    `yaml:"steps_total"  json:"steps_total"`
	StepsPassed int    `yaml:"steps_passed" json:"steps_passed"`
	StepsFailed int    `yaml:"steps_failed" json:"steps_failed"`
}
