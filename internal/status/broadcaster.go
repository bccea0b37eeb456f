package status

import (
	"sync"

	"github.com/BTreeMap/StatusPipe/internal/models"
)

// Broadcaster fans state changes out to subscribers. Each subscription holds
// at most one pending state; a newer state replaces an unread one, so a slow
// subscriber never blocks the machine.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan models.StatusState
	nextID int
	closed bool
}

func newBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan models.StatusState)}
}

// Subscribe registers a subscriber. The returned func unsubscribes and closes
// the channel; it is safe to call more than once. Subscribing to a closed
// broadcaster returns an already closed channel.
func (b *Broadcaster) Subscribe() (<-chan models.StatusState, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan models.StatusState, 1)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

func (b *Broadcaster) publish(state models.StatusState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- state:
		default:
			// Drop the stale pending state and replace it.
			select {
			case <-ch:
			default:
			}
			ch <- state
		}
	}
}

// Close closes every subscription. Later publishes are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
