package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ormasoftchile/radrun/pkg/providers"
	"github.com/ormasoftchile/radrun/pkg/schema"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu         sync.Mutex
	executions map[string]*ExecutionRecord
	logs       map[string][]LogEntry
	summaries  map[string]*RunSummary
	appendErr  error
}

func newMemStore() *memStore {
	return &memStore{
		executions: make(map[string]*ExecutionRecord),
		logs:       make(map[string][]LogEntry),
		summaries:  make(map[string]*RunSummary),
	}
}

func (m *memStore) CreateExecution(ctx context.Context, rec *ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.executions[rec.ID] = &cp
	return nil
}

func (m *memStore) FinishExecution(ctx context.Context, id string, status Status, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.executions[id]
	if !ok {
		return fmt.Errorf("no execution %s", id)
	}
	if rec.Status != StatusRunning {
		return fmt.Errorf("execution %s is not running", id)
	}
	rec.Status = status
	rec.EndedAt = &endedAt
	return nil
}

func (m *memStore) AppendLogs(ctx context.Context, id string, entries []LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.logs[id] = append(m.logs[id], entries...)
	return nil
}

func (m *memStore) CreateSummary(ctx context.Context, summary *RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *summary
	m.summaries[summary.ExecutionID] = &cp
	return nil
}

func (m *memStore) executionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.executions)
}

func (m *memStore) record(id string) *ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executions[id]
}

func (m *memStore) flushedLogs(id string) []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logs[id]
}

func (m *memStore) summary(id string) *RunSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summaries[id]
}

// recordedEvent is one captured emitter call.
type recordedEvent struct {
	Event       string
	ExecutionID string
	Data        map[string]any
}

// memEmitter records emitted events.
type memEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (e *memEmitter) Emit(event string, executionID string, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, recordedEvent{Event: event, ExecutionID: executionID, Data: data})
}

func (e *memEmitter) byName(name string) []recordedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []recordedEvent
	for _, ev := range e.events {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

// fakeSSH scripts the SSH collaborator: results are consumed per command in
// order, keyed by command string when the map is set.
type fakeSSH struct {
	connectErr error
	results    map[string]*providers.SSHResult
	runErr     map[string]error

	connected bool
	closed    bool
	ran       []string
}

func (f *fakeSSH) Connect(ctx context.Context, profile *schema.Profile) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeSSH) Run(ctx context.Context, command string) (*providers.SSHResult, error) {
	f.ran = append(f.ran, command)
	if err := f.runErr[command]; err != nil {
		return nil, err
	}
	if r, ok := f.results[command]; ok {
		return r, nil
	}
	return &providers.SSHResult{ExitCode: 0}, nil
}

func (f *fakeSSH) Close() error {
	f.closed = true
	return nil
}

// fakeTool scripts RADIUS exchanges.
type fakeTool struct {
	result *providers.ToolResult
	err    error

	exchanges []*providers.Packet
}

func (f *fakeTool) Exchange(ctx context.Context, packet *providers.Packet, profile *schema.Profile) (*providers.ToolResult, error) {
	f.exchanges = append(f.exchanges, packet)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &providers.ToolResult{ExitCode: 0}, nil
}

// fakeDB scripts the database collaborator.
type fakeDB struct {
	connectErr error
	result     *providers.QueryResult
	queryErr   error

	connects int
	queries  []string
	closed   bool
}

func (f *fakeDB) Connect(ctx context.Context, cfg *schema.DatabaseConfig) error {
	f.connects++
	return f.connectErr
}

func (f *fakeDB) Query(ctx context.Context, query string) (*providers.QueryResult, error) {
	f.queries = append(f.queries, query)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return &providers.QueryResult{}, nil
}

func (f *fakeDB) Close() error {
	f.closed = true
	return nil
}

// fakeHTTP scripts the HTTP collaborator.
type fakeHTTP struct {
	result *providers.HTTPResult
	err    error

	requests []*providers.HTTPRequest
}

func (f *fakeHTTP) Do(ctx context.Context, req *providers.HTTPRequest) (*providers.HTTPResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &providers.HTTPResult{Status: 200}, nil
}

func testLogs(store Store) *LogAggregator {
	return NewLogAggregator("test-exec", store, nil, nil)
}
