package runtime

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"
)

// redactedPlaceholder replaces secret material in log output.
const redactedPlaceholder = "******"

// LogAggregator collects the structured log entries of one run. Every entry
// goes to the in-memory batch, the JSONL trace (when configured) and the
// live event stream; Flush persists the batch exactly once at finalization.
//
// The aggregator exclusively owns the batch until Flush, after which the
// persistence collaborator owns the durable copy.
type LogAggregator struct {
	mu          sync.Mutex
	executionID string
	entries     []LogEntry
	redactions  []*regexp.Regexp
	trace       *TraceWriter
	emitter     EventEmitter
	store       Store
	flushed     bool
	lastStamp   time.Time
}

// NewLogAggregator creates an aggregator for one run. trace may be nil;
// emitter may be nil (treated as noop).
func NewLogAggregator(executionID string, store Store, trace *TraceWriter, emitter EventEmitter) *LogAggregator {
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	return &LogAggregator{
		executionID: executionID,
		trace:       trace,
		emitter:     emitter,
		store:       store,
	}
}

// AddSecrets registers literal strings to scrub from every subsequent entry
// (shared secrets, SSH passwords).
func (la *LogAggregator) AddSecrets(secrets ...string) {
	la.mu.Lock()
	defer la.mu.Unlock()
	for _, s := range secrets {
		if s == "" {
			continue
		}
		la.redactions = append(la.redactions, regexp.MustCompile(regexp.QuoteMeta(s)))
	}
}

// Append adds one entry to the batch, the trace, and the live stream. The
// timestamp is stamped here and forced non-decreasing within the run.
func (la *LogAggregator) Append(entry LogEntry) {
	la.mu.Lock()
	defer la.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Timestamp.Before(la.lastStamp) {
		entry.Timestamp = la.lastStamp
	}
	la.lastStamp = entry.Timestamp

	entry.Message = la.redact(entry.Message)
	entry.Detail = la.redact(entry.Detail)

	la.entries = append(la.entries, entry)

	if la.trace != nil {
		// Trace write failures must not take the run down; the batch copy
		// still reaches the store at flush.
		_ = la.trace.Write(entry)
	}
	la.emitter.Emit(EventLog, la.executionID, map[string]any{
		"level":     entry.Level,
		"step_id":   entry.StepID,
		"message":   entry.Message,
		"timestamp": entry.Timestamp.UnixMilli(),
	})
}

// redact applies the registered secret scrubs. Caller holds the lock.
func (la *LogAggregator) redact(s string) string {
	for _, re := range la.redactions {
		s = re.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

// Entries returns a copy of the current batch.
func (la *LogAggregator) Entries() []LogEntry {
	la.mu.Lock()
	defer la.mu.Unlock()
	out := make([]LogEntry, len(la.entries))
	copy(out, la.entries)
	return out
}

// Flush persists the full batch atomically, associated with the run's
// execution id. Called exactly once per run at finalization; later calls
// are rejected.
func (la *LogAggregator) Flush(ctx context.Context) error {
	la.mu.Lock()
	if la.flushed {
		la.mu.Unlock()
		return fmt.Errorf("logs for execution %s already flushed", la.executionID)
	}
	la.flushed = true
	batch := make([]LogEntry, len(la.entries))
	copy(batch, la.entries)
	la.mu.Unlock()

	if la.trace != nil {
		_ = la.trace.Sync()
	}
	if len(batch) == 0 {
		return nil
	}
	if err := la.store.AppendLogs(ctx, la.executionID, batch); err != nil {
		return fmt.Errorf("flush logs: %w", err)
	}
	return nil
}
