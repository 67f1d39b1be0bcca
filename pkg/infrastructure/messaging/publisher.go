// Package messaging provides the in-process event publisher used for session
// lifecycle notifications.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Azure/containerization-assist/pkg/domain/events"
)

// Publisher dispatches domain events to registered handlers. Handlers are
// isolated: one handler's error or panic never blocks another handler or the
// emitting call.
type Publisher struct {
	handlers   map[string][]events.Handler
	logger     *slog.Logger
	mu         sync.RWMutex
	workerPool chan struct{} // Limits concurrent async operations
	wg         sync.WaitGroup
}

// NewPublisher creates an event publisher.
func NewPublisher(logger *slog.Logger) *Publisher {
	return &Publisher{
		logger:     logger.With("component", "event_publisher"),
		handlers:   make(map[string][]events.Handler),
		workerPool: make(chan struct{}, 10),
	}
}

// Subscribe registers a handler for an event type.
func (p *Publisher) Subscribe(eventType string, handler events.Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.handlers[eventType] = append(p.handlers[eventType], handler)
}

// Publish invokes all handlers for the event. Handler errors are logged, not
// returned: lifecycle notification is best effort.
func (p *Publisher) Publish(ctx context.Context, event events.DomainEvent) error {
	p.mu.RLock()
	handlers := p.handlers[event.EventType()]
	p.mu.RUnlock()

	for _, handler := range handlers {
		p.invoke(ctx, event, handler)
	}
	return nil
}

func (p *Publisher) invoke(ctx context.Context, event events.DomainEvent, handler events.Handler) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("event handler panicked",
				"event", event.EventType(),
				"panic", fmt.Sprint(r))
		}
	}()
	if err := handler(ctx, event); err != nil {
		p.logger.Warn("event handler failed", "event", event.EventType(), "error", err)
	}
}

// PublishAsync publishes an event without waiting for handlers. A worker pool
// bounds concurrent dispatches; when the pool is full the event is dropped
// with a log line rather than blocking the caller.
func (p *Publisher) PublishAsync(ctx context.Context, event events.DomainEvent) {
	select {
	case p.workerPool <- struct{}{}:
		p.wg.Add(1)
		go func() {
			defer func() {
				<-p.workerPool
				p.wg.Done()
			}()

			asyncCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = p.Publish(asyncCtx, event)
		}()
	case <-time.After(100 * time.Millisecond):
		p.logger.Warn("event worker pool full, dropping event", "event", event.EventType())
	}
}

// HandlerCount returns the number of handlers for an event type.
func (p *Publisher) HandlerCount(eventType string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.handlers[eventType])
}

// Close waits for in-flight async dispatches to finish.
func (p *Publisher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ events.Publisher = (*Publisher)(nil)
