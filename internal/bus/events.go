// Package bus implements the typed in-process event bus used by the workflow
// engine and trust gateway to publish lifecycle events. Delivery is
// synchronous and best-effort: a panicking subscriber is isolated and never
// prevents the remaining subscribers from seeing the event.
package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EventType is the closed set of event kinds the bus will route.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"
	EventTaskStarted       EventType = "task.started"
	EventTaskCompleted     EventType = "task.completed"
	EventTaskFailed        EventType = "task.failed"
	EventTaskRetrying      EventType = "task.retrying"
	EventTaskSkipped       EventType = "task.skipped"
	EventToolExecuted      EventType = "tool.executed"
	EventTrustPromoted     EventType = "trust.promoted"
	EventTrustReset        EventType = "trust.reset"
	EventTrustDenied       EventType = "trust.denied"
	EventMaintenanceRun    EventType = "maintenance.run"
)

var knownTypes = map[EventType]bool{
	EventWorkflowStarted:   true,
	EventWorkflowCompleted: true,
	EventWorkflowFailed:    true,
	EventTaskStarted:       true,
	EventTaskCompleted:     true,
	EventTaskFailed:        true,
	EventTaskRetrying:      true,
	EventTaskSkipped:       true,
	EventToolExecuted:      true,
	EventTrustPromoted:     true,
	EventTrustReset:        true,
	EventTrustDenied:       true,
	EventMaintenanceRun:    true,
}

// Event is a single published occurrence.
type Event struct {
	Type      EventType      `json:"type"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler is a subscriber callback.
type Handler func(Event)

type namedHandler struct {
	id      string
	handler Handler
}

// EventBus routes events to subscribers by type, keeps a bounded history
// buffer for replay, and isolates subscriber panics.
type EventBus struct {
	mu         sync.RWMutex
	handlers   map[EventType][]namedHandler
	nextSub    int
	history    []Event
	maxHistory int
	logger     *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers:   make(map[EventType][]namedHandler),
		maxHistory: 1000,
		logger:     logger,
	}
}

// Subscribe registers a handler for the given event types and returns a
// subscription ID. Unknown event types are rejected.
func (eb *EventBus) Subscribe(types []EventType, handler Handler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("subscribe: handler is nil")
	}
	if len(types) == 0 {
		return "", fmt.Errorf("subscribe: no event types given")
	}
	for _, t := range types {
		if !knownTypes[t] {
			return "", fmt.Errorf("subscribe: unknown event type %q", t)
		}
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextSub++
	id := fmt.Sprintf("sub-%d", eb.nextSub)
	for _, t := range types {
		eb.handlers[t] = append(eb.handlers[t], namedHandler{id: id, handler: handler})
	}
	return id, nil
}

// Unsubscribe removes every registration made under the subscription ID.
func (eb *EventBus) Unsubscribe(id string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for t, handlers := range eb.handlers {
		kept := handlers[:0]
		for _, h := range handlers {
			if h.id != id {
				kept = append(kept, h)
			}
		}
		eb.handlers[t] = kept
	}
}

// Publish delivers an event synchronously, in subscription order. An event
// with an unknown type tag is rejected rather than misrouted.
func (eb *EventBus) Publish(event Event) error {
	if !knownTypes[event.Type] {
		return fmt.Errorf("publish: unknown event type %q", event.Type)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)
	handlers := make([]namedHandler, len(eb.handlers[event.Type]))
	copy(handlers, eb.handlers[event.Type])
	eb.mu.Unlock()

	for _, h := range handlers {
		eb.deliver(h, event)
	}
	return nil
}

func (eb *EventBus) deliver(h namedHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", event.Type, "subscription", h.id, "panic", r)
		}
	}()
	h.handler(event)
}

// Replay returns buffered events of the given type published at or after
// since. An empty type matches every event.
func (eb *EventBus) Replay(eventType EventType, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// HistoryLen returns the current number of buffered events.
func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}
