// Package events fans domain events out to in-process subscribers.
package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/clock/system"
	"github.com/JakeFAU/catalog-ingest/internal/metrics"
)

// Handler reacts to one event. Handlers run on the publisher's goroutine and must hand network
// work off to their own queues.
type Handler interface {
	Handle(ctx context.Context, event catalog.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event catalog.Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, event catalog.Event) error {
	return f(ctx, event)
}

type subscription struct {
	name    string
	handler Handler
}

// Bus is a synchronous publish/subscribe hub. It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	clock  catalog.Clock
	logger *zap.Logger
}

// NewBus returns an empty Bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{clock: system.New(), logger: logger.Named("events")}
}

// Subscribe registers handler under name. Handlers run in registration order.
func (b *Bus) Subscribe(name string, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, handler: handler})
}

// Publish delivers the event to every subscriber. A handler error or panic is logged and does
// not stop the remaining handlers.
func (b *Bus) Publish(ctx context.Context, event catalog.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = b.clock.Now()
	}
	event.Timestamp = event.Timestamp.UTC()
	if event.Data == nil {
		event.Data = map[string]any{}
	}
	metrics.ObserveEvent(string(event.Type))

	b.mu.RLock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := b.invoke(ctx, sub, event); err != nil {
			b.logger.Warn("event handler failed",
				zap.String("handler", sub.name),
				zap.String("event_type", string(event.Type)),
				zap.Error(err),
			)
		}
	}
}

func (b *Bus) invoke(ctx context.Context, sub subscription, event catalog.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return sub.handler.Handle(ctx, event)
}
