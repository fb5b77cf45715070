package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ormasoftchile/radrun/pkg/runtime"
)

// RunReader is the read side of the persisted runs, satisfied by the store.
type RunReader interface {
	ListExecutions(ctx context.Context) ([]runtime.ExecutionRecord, error)
	GetLogs(ctx context.Context, executionID string) ([]runtime.LogEntry, error)
}

// Server serves the live event stream and the read endpoints.
type Server struct {
	hub    *Hub
	reader RunReader

	upgrader websocket.Upgrader
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// NewServer wires the HTTP layer to the hub and the store's read side.
func NewServer(hub *Hub, reader RunReader) *Server {
	return &Server{
		hub:    hub,
		reader: reader,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The console is a lab tool; cross-origin local viewers are fine.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/executions", s.handleListExecutions)
	mux.HandleFunc("/api/executions/", s.handleExecutionLogs)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	records, err := s.reader.ListExecutions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

// handleExecutionLogs serves GET /api/executions/{id}/logs.
func (s *Server) handleExecutionLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/executions/")
	id, tail, ok := strings.Cut(rest, "/")
	if !ok || tail != "logs" || id == "" {
		http.NotFound(w, r)
		return
	}
	entries, err := s.reader.GetLogs(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []runtime.LogEntry{}
	}
	writeJSON(w, entries)
}

// handleWebSocket upgrades the connection and streams hub events. The
// optional ?execution= query filters to one run.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	events, unsubscribe := s.hub.subscribe(r.URL.Query().Get("execution"))
	defer unsubscribe()
	defer conn.Close()

	// Reader goroutine: drain client frames and detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
