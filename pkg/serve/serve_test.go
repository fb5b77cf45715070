package serve

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ormasoftchile/radrun/pkg/runtime"
)

type stubReader struct {
	records []runtime.ExecutionRecord
	logs    map[string][]runtime.LogEntry
}

func (s *stubReader) ListExecutions(ctx context.Context) ([]runtime.ExecutionRecord, error) {
	return s.records, nil
}

func (s *stubReader) GetLogs(ctx context.Context, executionID string) ([]runtime.LogEntry, error) {
	return s.logs[executionID], nil
}

func TestHubFiltersByExecution(t *testing.T) {
	hub := NewHub()

	all, unsubAll := hub.subscribe("")
	defer unsubAll()
	only, unsubOnly := hub.subscribe("exec-a")
	defer unsubOnly()

	hub.Emit(runtime.EventLog, "exec-a", map[string]any{"message": "a"})
	hub.Emit(runtime.EventLog, "exec-b", map[string]any{"message": "b"})

	if got := len(all); got != 2 {
		t.Errorf("unfiltered subscriber queued %d events, want 2", got)
	}
	if got := len(only); got != 1 {
		t.Errorf("filtered subscriber queued %d events, want 1", got)
	}
	ev := <-only
	if ev.ExecutionID != "exec-a" {
		t.Errorf("filtered subscriber got event for %q", ev.ExecutionID)
	}
}

func TestHubDropsOnFullQueue(t *testing.T) {
	hub := NewHub()
	_, unsub := hub.subscribe("")
	defer unsub()

	// Never read; the hub must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Emit(runtime.EventLog, "exec-a", nil)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub()
	_, unsub := hub.subscribe("")
	if hub.SubscriberCount() != 1 {
		t.Fatalf("count = %d, want 1", hub.SubscriberCount())
	}
	unsub()
	if hub.SubscriberCount() != 0 {
		t.Errorf("count = %d after unsubscribe, want 0", hub.SubscriberCount())
	}
}

func TestListExecutionsEndpoint(t *testing.T) {
	now := time.Now()
	reader := &stubReader{records: []runtime.ExecutionRecord{
		{ID: "exec-1", ScenarioName: "auth-flow", ProfileName: "lab", Status: runtime.StatusCompleted, StartedAt: now},
	}}
	srv := NewServer(NewHub(), reader)

	req := httptest.NewRequest(http.MethodGet, "/api/executions", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got []runtime.ExecutionRecord
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != "exec-1" {
		t.Errorf("body = %+v, want one record exec-1", got)
	}
}

func TestExecutionLogsEndpoint(t *testing.T) {
	reader := &stubReader{logs: map[string][]runtime.LogEntry{
		"exec-1": {{Level: runtime.LevelInfo, Message: "hello"}},
	}}
	srv := NewServer(NewHub(), reader)

	req := httptest.NewRequest(http.MethodGet, "/api/executions/exec-1/logs", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got []runtime.LogEntry
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Message != "hello" {
		t.Errorf("body = %+v", got)
	}

	// Unknown execution yields an empty array, not null.
	req = httptest.NewRequest(http.MethodGet, "/api/executions/nope/logs", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("unknown execution body = %q, want []", body)
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	hub := NewHub()
	srv := NewServer(hub, &stubReader{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?execution=exec-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait until the subscriber is registered before emitting.
	deadline := time.After(2 * time.Second)
	for hub.SubscriberCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("subscriber never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	hub.Emit(runtime.EventStarted, "exec-1", map[string]any{"scenario": "auth-flow"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Event != runtime.EventStarted || ev.ExecutionID != "exec-1" {
		t.Errorf("event = %+v", ev)
	}
}
