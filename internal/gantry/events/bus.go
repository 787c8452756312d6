package events

import (
	"context"
	"sync"

	"github.com/gantryci/gantry/internal/gantry/domain"
	"github.com/gantryci/gantry/pkg/errors"
)

// EventType represents different event types in the system
type EventType string

const (
	RunCreated  EventType = "run.created"
	RunFinished EventType = "run.finished"

	JobEligible   EventType = "job.eligible"
	JobManual     EventType = "job.manual"
	JobDelayed    EventType = "job.delayed"
	JobDispatched EventType = "job.dispatched"
	JobRetried    EventType = "job.retried"
	JobSkipped    EventType = "job.skipped"
	JobFinished   EventType = "job.finished"

	WorkerRegistered   EventType = "worker.registered"
	WorkerDraining     EventType = "worker.draining"
	WorkerOffline      EventType = "worker.offline"
	WorkerDeregistered EventType = "worker.deregistered"
)

// Event represents a state change somewhere in the orchestrator
type Event struct {
	Type      EventType
	RunID     string
	Job       string // Definition job name, when job-scoped
	WorkerID  string
	Data      interface{}
	Timestamp int64
}

// EventHandler handles system events
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
	SupportedEvents() []EventType
}

// EventBus manages event publishing and subscription
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler) error
	Unsubscribe(eventType EventType, handler EventHandler) error
}

// InMemoryEventBus is a simple in-memory event bus implementation
type InMemoryEventBus struct {
	handlers map[EventType][]EventHandler
	mutex    sync.RWMutex
}

// NewInMemoryEventBus creates a new in-memory event bus for decoupled component communication
func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Publish sends an event to all registered handlers concurrently
func (b *InMemoryEventBus) Publish(ctx context.Context, event Event) error {
	b.mutex.RLock()
	handlers, exists := b.handlers[event.Type]
	b.mutex.RUnlock()

	if !exists {
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 0)
	errorMutex := sync.Mutex{}

	for _, handler := range handlers {
		wg.Add(1)
		go func(h EventHandler) {
			defer wg.Done()
			if err := h.Handle(ctx, event); err != nil {
				errorMutex.Lock()
				errs = append(errs, err)
				errorMutex.Unlock()
			}
		}(handler)
	}

	wg.Wait()

	if len(errs) > 0 {
		return errors.JoinErrors(errs...)
	}

	return nil
}

// Subscribe registers an event handler to receive events of a specific type
func (b *InMemoryEventBus) Subscribe(eventType EventType, handler EventHandler) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make([]EventHandler, 0)
	}

	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return nil
}

// Unsubscribe removes an event handler from receiving events of a specific type
func (b *InMemoryEventBus) Unsubscribe(eventType EventType, handler EventHandler) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	handlers, exists := b.handlers[eventType]
	if !exists {
		return nil
	}

	for i, h := range handlers {
		if h == handler {
			b.handlers[eventType] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}

	return nil
}

// RunEventData carries run-level event details
type RunEventData struct {
	Pipeline string
	State    domain.RunState
}

// JobEventData carries job-level event details
type JobEventData struct {
	State       domain.JobState
	Attempt     int
	FailureKind domain.FailureKind
	Reason      string
}

// WorkerEventData carries worker-level event details
type WorkerEventData struct {
	Name     string
	Tags     []string
	Capacity int
	State    domain.WorkerState
}
