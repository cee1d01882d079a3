// Package eventbus carries the queue engine's lifecycle events (item
// enqueued/published/failed, breaker opened, engine started/stopped) to
// observers such as the alert channel without coupling them to the engine.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is one engine lifecycle signal. Type names the event
// ("item.published", "breaker.open"), Data carries the typed payload.
//
// Publish never blocks: the engine emits events from inside its dispatch
// path, so a slow observer loses events rather than stalling publishes.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines; delivery
// happens on the publisher's stack.
func New() Bus {
	return &fanout{subs: map[uint64]chan Event{}}
}

type fanout struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID atomic.Uint64
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot the subscriber set first; sends happen outside the lock.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		trySend(ch, e)
	}
}

// trySend delivers without blocking; a full buffer drops the event. The
// recover covers a subscriber closing its channel between the snapshot and
// the send.
func trySend(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
	}
}

func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
