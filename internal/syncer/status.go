package syncer

import (
	"sync"
	"time"
)

// Status is the process-wide sync status projection observed by the UI and
// telemetry.
//
// It is written only by the sync engine, at cycle boundaries and on
// initialize/destroy, and is never persisted: pending counts are recomputed
// from the record store on restart.
type Status struct {
	// PendingChanges is the count of dirty and tombstoned records awaiting
	// push.
	PendingChanges int

	// Syncing is true while a cycle is in flight.
	Syncing bool

	// LastSync is the completion time of the last fully successful cycle.
	LastSync *time.Time

	// Error describes the last failure, empty when the last cycle was
	// clean.
	Error string
}

// statusProjection guards the shared Status snapshot.
// Writers: the sync engine only. Readers: anyone, any time.
type statusProjection struct {
	mu  sync.RWMutex
	cur Status
}

func (p *statusProjection) snapshot() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := p.cur
	if s.LastSync != nil {
		t := *s.LastSync
		s.LastSync = &t
	}
	return s
}

func (p *statusProjection) beginCycle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cur.Syncing = true
	p.cur.Error = ""
}

func (p *statusProjection) endCycle(pending int, lastSync *time.Time, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cur.Syncing = false
	p.cur.PendingChanges = pending
	p.cur.Error = errMsg
	if lastSync != nil {
		t := *lastSync
		p.cur.LastSync = &t
	}
}

func (p *statusProjection) setPending(pending int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cur.PendingChanges = pending
}
