// Package serve exposes the live view: a WebSocket stream of execution
// events plus read endpoints over the persisted runs.
package serve

import (
	"sync"
	"time"
)

// Event is one frame pushed to subscribers.
type Event struct {
	Event       string         `json:"event"`
	ExecutionID string         `json:"execution_id"`
	Data        map[string]any `json:"data,omitempty"`
	At          time.Time      `json:"at"`
}

// Hub fans execution events out to WebSocket subscribers. It implements
// runtime.EventEmitter, so the controller publishes through it directly.
// Subscribers with an execution id filter receive only that run's events;
// an empty filter receives everything.
type Hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	filter string // execution id, empty for all
	ch     chan Event
}

// subscriberBuffer bounds the per-subscriber queue. A slow reader drops
// frames rather than stalling the run.
const subscriberBuffer = 256

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Emit implements runtime.EventEmitter.
func (h *Hub) Emit(event string, executionID string, data map[string]any) {
	frame := Event{Event: event, ExecutionID: executionID, Data: data, At: time.Now()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.filter != "" && sub.filter != executionID {
			continue
		}
		select {
		case sub.ch <- frame:
		default:
			// Queue full: drop the frame for this subscriber.
		}
	}
}

// subscribe registers a subscriber and returns its channel plus an
// unsubscribe func.
func (h *Hub) subscribe(executionID string) (<-chan Event, func()) {
	sub := &subscriber{filter: executionID, ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub.ch, func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
	}
}

// SubscriberCount reports the number of attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
