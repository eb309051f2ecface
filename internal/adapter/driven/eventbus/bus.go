// Package eventbus implements the EventPublisher port as an in-process
// fan-out to buffered subscriber channels.
package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
	"github.com/ericfisherdev/tryonkit/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.EventPublisher = (*Bus)(nil)

// Bus delivers each event to every current subscriber. A subscriber whose
// buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan model.Event
	nextID int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan model.Event)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel function unregisters it and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan model.Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan model.Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish never blocks.
func (b *Bus) Publish(_ context.Context, event model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			slog.Debug("event dropped for slow subscriber", "subscriber", id, "type", event.Type)
		}
	}
}
