package voice

import (
	"context"
	"sync"
)

// EventType names an event emitted by the voice SDK.
type EventType string

const (
	EventReady EventType = "ready"
	EventError EventType = "error"
	EventEnded EventType = "call-end"
)

// Event is one notification from the SDK. Message carries the free-text
// failure description for EventError.
type Event struct {
	Type    EventType `json:"type"`
	Message string    `json:"message,omitempty"`
}

// Handler receives events of the type it subscribed to.
type Handler func(Event)

// StartOptions identify the assistant a call is placed with.
type StartOptions struct {
	APIKey      string `json:"apiKey"`
	AssistantID string `json:"assistantId"`
}

// Client is the contract of the external voice SDK. Readiness arrives
// once as EventReady after Connect; failures arrive as EventError at any
// time.
type Client interface {
	Connect(ctx context.Context) error
	Start(ctx context.Context, opts StartOptions) error
	Stop(ctx context.Context) error
	Subscribe(eventType EventType, handler Handler) (cancel func())
}

// Emitter keeps per-type handler lists and dispatches events to them
// synchronously, in subscription order. Emit calls are serialized so
// handlers observe events in delivery order.
type Emitter struct {
	mu       sync.RWMutex
	emitMu   sync.Mutex
	handlers map[EventType]map[int]Handler
	order    map[EventType][]int
	nextID   int
}

// NewEmitter returns an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{
		handlers: make(map[EventType]map[int]Handler),
		order:    make(map[EventType][]int),
	}
}

// Subscribe registers handler for eventType.
func (e *Emitter) Subscribe(eventType EventType, handler Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	if e.handlers[eventType] == nil {
		e.handlers[eventType] = make(map[int]Handler)
	}
	e.handlers[eventType][id] = handler
	e.order[eventType] = append(e.order[eventType], id)

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.handlers[eventType], id)
			ids := e.order[eventType]
			for i, candidate := range ids {
				if candidate == id {
					e.order[eventType] = append(ids[:i:i], ids[i+1:]...)
					break
				}
			}
		})
	}
}

// Emit delivers event to every current subscriber of its type and
// returns the number of handlers invoked.
func (e *Emitter) Emit(event Event) int {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.RLock()
	ids := e.order[event.Type]
	targets := make([]Handler, 0, len(ids))
	for _, id := range ids {
		if h, ok := e.handlers[event.Type][id]; ok {
			targets = append(targets, h)
		}
	}
	e.mu.RUnlock()

	for _, h := range targets {
		h(event)
	}
	return len(targets)
}
