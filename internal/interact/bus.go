package interact

import (
	"log/slog"
	"sync"

	"github.com/coday-ai/coday/pkg/events"
)

const subscriberBuffer = 64

// Bus fans one session's events out to its subscribers (SSE
// connections, mostly). Publish never blocks: a subscriber that stops
// draining loses events rather than stalling the agent loop.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[chan events.Event]struct{}
	closed bool
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger.With("component", "bus"),
		subs:   make(map[chan events.Event]struct{}),
	}
}

// Subscribe registers a listener. The cancel func is idempotent and
// closes the returned channel; call it when the listener goes away.
// Subscribing to a closed bus yields an already-closed channel.
func (b *Bus) Subscribe() (<-chan events.Event, func()) {
	ch := make(chan events.Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			_, ok := b.subs[ch]
			if ok {
				delete(b.subs, ch)
			}
			b.mu.Unlock()
			if ok {
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers e to every subscriber.
func (b *Bus) Publish(e events.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Debug("subscriber lagging, event dropped", "type", e.Type)
		}
	}
}

// Close closes every subscriber channel and makes Publish a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[chan events.Event]struct{})
	b.mu.Unlock()

	for ch := range subs {
		close(ch)
	}
}
