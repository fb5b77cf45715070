package runtime

// Event names published by the controller and the log aggregator.
const (
	EventStarted   = "execution:started"
	EventLog       = "execution:log"
	EventCompleted = "execution:completed"
	EventFailed    = "execution:failed"
	EventAborted   = "execution:aborted"
)

// EventEmitter abstracts the live view. The serve package feeds WebSocket
// subscribers; tests record events in memory.
type EventEmitter interface {
	Emit(event string, executionID string, data map[string]any)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(event string, executionID string, data map[string]any) {}
