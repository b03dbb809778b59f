// Package bus provides the in-process change notification bus.
//
// The bus fans the materialized active task list out to subscribers whenever
// the record store mutates. Each subscriber owns a coalescing buffer of
// exactly one snapshot: if a subscriber is slow, intermediate snapshots are
// dropped and only the most recent is delivered. No subscriber can block or
// slow another, and delivery is at-least-once for the latest state.
package bus

import (
	"log"
	"os"
	"sync"

	"github.com/pocketdo/pocketdo/internal/store"
	"github.com/pocketdo/pocketdo/internal/task"
)

// Bus delivers task-list snapshots from the record store to subscribers.
type Bus struct {
	mu        sync.Mutex
	subs      map[int]chan []*task.Task
	nextID    int
	closed    bool
	cancelObs func()
	logger    *log.Logger
}

// New creates a Bus wired to the given store.
//
// The bus registers itself as a store observer and starts delivering
// snapshots immediately. If logger is nil, a default logger writing to
// stderr is used.
func New(st *store.Store, logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(os.Stderr, "[bus] ", log.LstdFlags)
	}

	b := &Bus{
		subs:   make(map[int]chan []*task.Task),
		logger: logger,
	}
	b.cancelObs = st.Observe(b.publish)
	return b
}

// Subscribe registers a new subscriber and returns its snapshot channel plus
// a cancel function. The channel carries the materialized active task list;
// it is closed when the subscription is cancelled or the bus is closed.
//
// Cancelling twice, or after Close, is a no-op, not an error.
func (b *Bus) Subscribe() (<-chan []*task.Task, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan []*task.Task, 1)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.logger.Printf("Subscriber added (total: %d)", len(b.subs))

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
			b.logger.Printf("Subscriber removed (total: %d)", len(b.subs))
		}
	}
}

// publish delivers a snapshot to every subscriber, latest-wins.
func (b *Bus) publish(tasks []*task.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		// Replace any undelivered snapshot with the fresh one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- tasks:
		default:
		}
	}
}

// Close detaches the bus from the store and closes all subscriber channels.
// Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	if b.cancelObs != nil {
		b.cancelObs()
	}
	n := len(b.subs)
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.logger.Printf("Change bus closed (%d subscriber(s) detached)", n)
}
