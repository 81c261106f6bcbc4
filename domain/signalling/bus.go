package signalling

import (
	"log/slog"
	"sync"

	"github.com/signalhouse/calltrace/pkg/logger"
)

// Bus is a synchronous in-process event dispatcher. Publish runs every
// subscribed handler in the caller's goroutine before returning, so
// subscribers observe events in exactly the order they were published.
type Bus struct {
	log *slog.Logger

	mu      sync.RWMutex
	nextID  int
	handler map[int]func(Event)

	// publishMu serializes Publish calls so handler invocations never
	// interleave even when multiple goroutines publish.
	publishMu sync.Mutex
}

// NewBus creates an event bus.
func NewBus(log *slog.Logger) *Bus {
	return &Bus{
		log:     log.With(logger.Scope("signalling.bus")),
		handler: make(map[int]func(Event)),
	}
}

// Subscribe registers a handler for every event published on the bus and
// returns a function that removes the subscription. The returned function is
// idempotent.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handler[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handler, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to all current subscribers before returning. Ordering
// across Publish calls is preserved; ordering among subscribers within one
// call is not.
func (b *Bus) Publish(ev Event) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.handler))
	for _, fn := range b.handler {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handler)
}
