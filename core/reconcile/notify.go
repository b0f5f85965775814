package reconcile

import (
	"context"
	"sync"
)

// Notifier receives a Change after every committed reconcile.
type Notifier interface {
	Notify(ctx context.Context, change Change) error
}

// NopNotifier discards changes.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, Change) error { return nil }

// Bus is an in-process fan-out of changes. Delivery never blocks the publisher:
// a subscriber whose buffer is full misses the change and must re-query on the next one.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Change
	buffer int
}

// NewBus creates a bus whose subscriber channels hold up to buffer pending changes.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus{subs: make(map[int]chan Change), buffer: buffer}
}

// Subscribe registers a listener. The returned cancel func closes the channel.
func (b *Bus) Subscribe() (<-chan Change, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Change, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Notify implements Notifier.
func (b *Bus) Notify(_ context.Context, change Change) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- change:
		default:
		}
	}
	return nil
}

// Subscribers returns the number of active listeners.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
