package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a workflow event published for audit and integration.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// InstanceID is the associated workflow instance, if applicable.
	InstanceID string `json:"instance_id,omitempty"`

	// TaskID is the associated task, if applicable.
	TaskID string `json:"task_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types published by the engine.
const (
	EventTypeInstanceCreated = "instance.created"
	EventTypeInstanceReset   = "instance.reset"
	EventTypeTaskCompleted   = "task.completed"
	EventTypeTaskSkipped     = "task.skipped"
	EventTypeTaskExpired     = "task.expired"
	EventTypeBranchApplied   = "branch.applied"
	EventTypeDispatchFailed  = "dispatch.failed"
)

// EventHandler receives published events.
type EventHandler func(Event)

// EventPublisher fans events out to in-process subscribers. Publishing never
// blocks the engine: a subscriber with a full buffer drops events.
type EventPublisher struct {
	config EventsConfig

	mu          sync.RWMutex
	subscribers []chan Event
	closed      bool
}

// NewEventPublisher creates a new event publisher.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if cfg.Enabled && cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive")
	}
	return &EventPublisher{config: cfg}, nil
}

// Subscribe registers a handler. It returns an unsubscribe function.
func (p *EventPublisher) Subscribe(handler EventHandler) func() {
	if p == nil || !p.config.Enabled {
		return func() {}
	}

	ch := make(chan Event, p.config.BufferSize)

	p.mu.Lock()
	p.subscribers = append(p.subscribers, ch)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				handler(event)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, sub := range p.subscribers {
			if sub == ch {
				p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
				break
			}
		}
	}
}

// Publish sends an event to all subscribers.
func (p *EventPublisher) Publish(eventType, instanceID, taskID, message string, data map[string]interface{}) {
	if p == nil || !p.config.Enabled {
		return
	}

	event := Event{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Type:       eventType,
		InstanceID: instanceID,
		TaskID:     taskID,
		Message:    message,
		Data:       data,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	for _, ch := range p.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is saturated; drop rather than stall the engine.
		}
	}
}

// Shutdown closes all subscriber channels.
func (p *EventPublisher) Shutdown() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
}
