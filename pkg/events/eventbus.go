// Package events fans session, message and receipt events out to
// subscribers.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

// AllEvents subscribes a handler to every event type.
const AllEvents smpp.EventType = "*"

// EventBus is a synchronous smpp.EventPublisher. Handlers run on the
// publishing goroutine, so they must not block for long.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[smpp.EventType][]smpp.EventHandler
	logger      smpp.Logger
}

var _ smpp.EventPublisher = (*EventBus)(nil)

// NewEventBus creates an event bus without subscribers.
func NewEventBus(logger smpp.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[smpp.EventType][]smpp.EventHandler),
		logger:      logger,
	}
}

// Subscribe registers handler for eventType, or for everything when
// eventType is AllEvents. A handler id may subscribe once per type.
func (eb *EventBus) Subscribe(ctx context.Context, eventType smpp.EventType, handler smpp.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, h := range eb.subscribers[eventType] {
		if h.GetHandlerID() == handler.GetHandlerID() {
			return fmt.Errorf("handler %s already subscribed to event type %s", handler.GetHandlerID(), eventType)
		}
	}
	eb.subscribers[eventType] = append(eb.subscribers[eventType], handler)

	if eb.logger != nil {
		eb.logger.Debug("Handler subscribed to event",
			"handler_id", handler.GetHandlerID(),
			"event_type", eventType)
	}
	return nil
}

// Unsubscribe removes the handler with handler's id from eventType.
func (eb *EventBus) Unsubscribe(ctx context.Context, eventType smpp.EventType, handler smpp.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers := eb.subscribers[eventType]
	for i, h := range handlers {
		if h.GetHandlerID() != handler.GetHandlerID() {
			continue
		}
		// copy so publishers holding the old slice are unaffected
		next := make([]smpp.EventHandler, 0, len(handlers)-1)
		next = append(next, handlers[:i]...)
		next = append(next, handlers[i+1:]...)
		if len(next) == 0 {
			delete(eb.subscribers, eventType)
		} else {
			eb.subscribers[eventType] = next
		}
		return nil
	}

	return fmt.Errorf("handler %s not found for event type %s", handler.GetHandlerID(), eventType)
}

func (eb *EventBus) PublishSMSEvent(ctx context.Context, event *smpp.SMSEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	return eb.publish(ctx, event)
}

func (eb *EventBus) PublishConnectionEvent(ctx context.Context, event *smpp.ConnectionEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	return eb.publish(ctx, event)
}

func (eb *EventBus) PublishDeliveryEvent(ctx context.Context, event *smpp.DeliveryEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	return eb.publish(ctx, event)
}

// publish delivers event to its type's handlers and then to AllEvents
// handlers. Handler errors are logged, never returned.
func (eb *EventBus) publish(ctx context.Context, event smpp.Event) error {
	eb.mu.RLock()
	typed := eb.subscribers[event.GetEventType()]
	wildcard := eb.subscribers[AllEvents]
	eb.mu.RUnlock()

	for _, handlers := range [][]smpp.EventHandler{typed, wildcard} {
		for _, handler := range handlers {
			if err := eb.handleEventSafely(ctx, handler, event); err != nil && eb.logger != nil {
				eb.logger.Error("Error handling event",
					"handler_id", handler.GetHandlerID(),
					"event_type", event.GetEventType(),
					"error", err)
			}
		}
	}
	return nil
}

func (eb *EventBus) handleEventSafely(ctx context.Context, handler smpp.EventHandler, event smpp.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in event handler: %v", r)
		}
	}()
	return handler.HandleEvent(ctx, event)
}

// GetSubscriberCount returns the number of subscribers for an event type
func (eb *EventBus) GetSubscriberCount(eventType smpp.EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers[eventType])
}

// Clear removes all subscribers
func (eb *EventBus) Clear() {
	eb.mu.Lock()
	eb.subscribers = make(map[smpp.EventType][]smpp.EventHandler)
	eb.mu.Unlock()
}

// AsyncEventBus queues events and delivers them on one worker goroutine,
// so a slow handler never stalls a session loop. Events published while
// the queue is full are dropped.
type AsyncEventBus struct {
	*EventBus
	queue     chan queuedEvent
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type queuedEvent struct {
	ctx   context.Context
	event smpp.Event
}

var _ smpp.EventPublisher = (*AsyncEventBus)(nil)

// NewAsyncEventBus starts an async bus with a queue of bufferSize events.
func NewAsyncEventBus(logger smpp.Logger, bufferSize int) *AsyncEventBus {
	if bufferSize < 1 {
		bufferSize = 1
	}
	aeb := &AsyncEventBus{
		EventBus: NewEventBus(logger),
		queue:    make(chan queuedEvent, bufferSize),
		done:     make(chan struct{}),
	}

	aeb.wg.Add(1)
	go aeb.run()
	return aeb
}

func (aeb *AsyncEventBus) run() {
	defer aeb.wg.Done()
	for {
		select {
		case q := <-aeb.queue:
			aeb.EventBus.publish(q.ctx, q.event)
		case <-aeb.done:
			// drain what is already queued
			for {
				select {
				case q := <-aeb.queue:
					aeb.EventBus.publish(q.ctx, q.event)
				default:
					return
				}
			}
		}
	}
}

func (aeb *AsyncEventBus) PublishSMSEvent(ctx context.Context, event *smpp.SMSEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	return aeb.enqueue(ctx, event)
}

func (aeb *AsyncEventBus) PublishConnectionEvent(ctx context.Context, event *smpp.ConnectionEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	return aeb.enqueue(ctx, event)
}

func (aeb *AsyncEventBus) PublishDeliveryEvent(ctx context.Context, event *smpp.DeliveryEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	return aeb.enqueue(ctx, event)
}

func (aeb *AsyncEventBus) enqueue(ctx context.Context, event smpp.Event) error {
	select {
	case <-aeb.done:
		return fmt.Errorf("event bus closed")
	default:
	}

	// Handlers run after the publisher returns, so they must not inherit
	// its cancellation.
	q := queuedEvent{ctx: context.WithoutCancel(ctx), event: event}
	select {
	case aeb.queue <- q:
		return nil
	default:
		if aeb.logger != nil {
			aeb.logger.Warn("Event bus queue full, dropping event", "event_type", event.GetEventType())
		}
		return fmt.Errorf("event bus queue full")
	}
}

// Close stops the worker after delivering queued events.
func (aeb *AsyncEventBus) Close() {
	aeb.closeOnce.Do(func() {
		close(aeb.done)
		aeb.wg.Wait()
	})
}
