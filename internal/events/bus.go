// Package events provides the fan-out channel between the execution engine
// and its observers (UI bridge, agent loop, tests).
package events

import (
	"sync"

	"github.com/coralsh/coral/internal/types"
)

// DefaultBuffer is the per-subscriber channel depth.
const DefaultBuffer = 256

type subscription struct {
	ch   chan types.Event
	done chan struct{}
}

// Bus fans engine events out to subscribers. Publish preserves publication
// order for every subscriber; a slow subscriber applies backpressure rather
// than losing events.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Subscribe registers a new observer. The returned cancel must be called
// when the observer departs; pending sends to the channel are abandoned.
func (b *Bus) Subscribe() (<-chan types.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		ch:   make(chan types.Event, DefaultBuffer),
		done: make(chan struct{}),
	}
	if b.closed {
		close(sub.done)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.done)
		})
	}
	return sub.ch, cancel
}

// Publish delivers an event to every live subscriber.
func (b *Bus) Publish(ev types.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	targets := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		}
	}
}

// SubscriberCount reports current observer count.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close shuts the bus down; subsequent publishes are dropped and blocked
// publishers are released.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.done)
		delete(b.subs, id)
	}
}
