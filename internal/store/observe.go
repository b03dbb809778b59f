package store

import (
	"context"
	"fmt"
	"os"

	"github.com/pocketdo/pocketdo/internal/task"
)

// Observer receives the fresh materialized active task list after every
// successful mutation (upsert, delete, remote apply, purge). The list never
// contains tombstoned records.
//
// Observers are invoked synchronously in mutation order; anything that can
// block must hand the snapshot off to its own goroutine (the change bus
// does exactly that).
type Observer func(tasks []*task.Task)

// Observe registers an observer and returns a cancel function that stops
// delivery. Cancelling twice, or after Close, is a no-op.
func (s *Store) Observe(fn Observer) (cancel func()) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()

	if s.closed {
		return func() {}
	}

	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = fn

	return func() {
		s.observersMu.Lock()
		defer s.observersMu.Unlock()
		delete(s.observers, id)
	}
}

// notify delivers the current active list to all observers.
// Called with writeMu held so snapshots arrive in mutation order.
func (s *Store) notify(ctx context.Context) {
	s.observersMu.Lock()
	if len(s.observers) == 0 {
		s.observersMu.Unlock()
		return
	}
	observers := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.observersMu.Unlock()

	tasks, err := s.QueryActive(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to materialize active tasks for observers: %v\n", err)
		return
	}

	for _, fn := range observers {
		fn(tasks)
	}
}
