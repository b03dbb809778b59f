// Package connectivity tracks whether the remote authority is reachable.
//
// The monitor is an observable online/offline flag. The sync engine uses it
// two ways: to fail cycles fast while offline instead of waiting for network
// timeouts, and to trigger an immediate sync attempt when connectivity
// returns.
package connectivity

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// Monitor is an observable online/offline flag.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(online bool)
	nextID int
}

// NewMonitor creates a monitor with the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online: online,
		subs:   make(map[int]func(bool)),
	}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set updates the state. Subscribers are notified only on transitions.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

// Subscribe registers a transition callback and returns a cancel function.
// Cancelling twice is a no-op.
func (m *Monitor) Subscribe(fn func(online bool)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Pinger checks reachability of the remote authority.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probe periodically pings the remote authority and feeds the result into
// the monitor. It blocks until ctx is cancelled.
//
// If logger is nil, a default logger writing to stderr is used.
func Probe(ctx context.Context, m *Monitor, p Pinger, interval time.Duration, logger *log.Logger) {
	if logger == nil {
		logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, interval)
		err := p.Ping(pctx)
		cancel()

		online := err == nil
		if online != m.Online() {
			if online {
				logger.Printf("Connectivity restored")
			} else {
				logger.Printf("Connectivity lost: %v", err)
			}
		}
		m.Set(online)
	}

	probe()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}
