package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/richardliu001/eventkernel/internal/es"
)

// Handler consumes one event in-process.
type Handler func(ctx context.Context, evt es.Event) error

// LocalBus delivers events synchronously to in-process subscribers, for
// example local projections and cache invalidation.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	all      []Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[string][]Handler)}
}

// Subscribe registers h for one event type.
func (b *LocalBus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
	b.mu.Unlock()
}

// SubscribeAll registers h for every event.
func (b *LocalBus) SubscribeAll(h Handler) {
	b.mu.Lock()
	b.all = append(b.all, h)
	b.mu.Unlock()
}

// Publish runs type subscribers, then catch-all subscribers, in registration
// order. The first error stops delivery and is returned.
func (b *LocalBus) Publish(ctx context.Context, evt es.Event) error {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[evt.EventType()])+len(b.all))
	hs = append(hs, b.handlers[evt.EventType()]...)
	hs = append(hs, b.all...)
	b.mu.RUnlock()

	for _, h := range hs {
		if err := h(ctx, evt); err != nil {
			return fmt.Errorf("subscriber for %s: %w", evt.EventType(), err)
		}
	}
	return nil
}
