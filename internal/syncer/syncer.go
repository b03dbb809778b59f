// Package syncer implements the sync orchestrator: the state machine that
// reconciles the local record store with the remote authority.
//
// One cycle pushes local dirty records (updates and tombstones), then pulls
// remote changes and applies them with last-write-wins conflict resolution
// by updated_at, ties broken in favor of the remote copy. At most one cycle
// runs at a time; overlapping triggers are coalesced into "run once more
// after this one finishes". Cycles are per-record idempotent, so a retried
// cycle never resends work that was already acknowledged.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/pocketdo/pocketdo/internal/connectivity"
	"github.com/pocketdo/pocketdo/internal/creds"
	"github.com/pocketdo/pocketdo/internal/remote"
	"github.com/pocketdo/pocketdo/internal/store"
	"github.com/pocketdo/pocketdo/internal/task"
)

// State is the orchestrator lifecycle state.
type State int

const (
	// StateUninitialized means Initialize has not run (or the loop halted
	// on an auth failure and awaits fresh credentials).
	StateUninitialized State = iota
	// StateIdle means the background loop is running and no cycle is in
	// flight.
	StateIdle
	// StateSyncing means a cycle is in flight.
	StateSyncing
	// StateStopped is terminal: Destroy was called.
	StateStopped
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds engine configuration.
type Config struct {
	// Interval between periodic sync cycles.
	Interval time.Duration

	// BackoffBase is the first retry delay after a retriable failure.
	BackoffBase time.Duration

	// BackoffMax caps the exponential retry delay.
	BackoffMax time.Duration

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:    5 * time.Minute,
		BackoffBase: 5 * time.Second,
		BackoffMax:  5 * time.Minute,
		Logger:      log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Engine owns the sync state machine and the background loop that drives it.
type Engine struct {
	store     *store.Store
	transport remote.Transport
	conn      *connectivity.Monitor
	config    *Config

	status  statusProjection
	backoff *backoff

	mu       sync.Mutex
	state    State
	lastSync *time.Time
	// residualPending is the pending count left behind by the last cycle.
	// Store mutations that push the count above it are user edits and
	// trigger an on-demand cycle; the engine's own bookkeeping writes do
	// not.
	residualPending int

	trigger    chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	cancelObs  func()
	cancelConn func()
	retryTimer *time.Timer
}

// New creates an engine. Call Initialize to start the background loop.
func New(st *store.Store, tr remote.Transport, conn *connectivity.Monitor, config *Config) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if tr == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if conn == nil {
		conn = connectivity.NewMonitor(true)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}

	return &Engine{
		store:     st,
		transport: tr,
		conn:      conn,
		config:    config,
		backoff:   newBackoff(config.BackoffBase, config.BackoffMax),
		trigger:   make(chan struct{}, 1),
		state:     StateUninitialized,
	}, nil
}

// Initialize transitions Uninitialized -> Idle and starts the background
// loop (periodic timer plus on-demand triggers from local mutations and
// connectivity-restored events).
//
// Returns remote.ErrAuthRequired if no valid credentials are present.
// Calling Initialize while already initialized is a no-op. Initializing a
// destroyed engine is an error.
func (e *Engine) Initialize(credentials creds.Provider) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateIdle, StateSyncing:
		return nil
	case StateStopped:
		return fmt.Errorf("engine is stopped")
	}

	if credentials == nil || !credentials.Valid() {
		return remote.ErrAuthRequired
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.state = StateIdle

	// Pending work survives restarts; recompute it now rather than
	// persisting the projection.
	if pending, err := e.store.PendingCount(e.ctx); err == nil {
		e.status.setPending(pending)
		e.residualPending = pending
		if pending > 0 {
			e.requestCycle()
		}
	}

	e.cancelObs = e.store.Observe(e.onStoreChange)
	e.cancelConn = e.conn.Subscribe(e.onConnectivityChange)

	e.wg.Add(1)
	go e.run()

	e.config.Logger.Printf("Sync engine initialized (interval %v)", e.config.Interval)
	return nil
}

// Destroy stops the background loop and releases resources; the engine
// transitions to Stopped.
//
// Safe to call from any state, including while a cycle is in flight: it
// signals cancellation, lets the in-flight per-record operation complete,
// and returns once the loop has exited. Safe to call more than once.
func (e *Engine) Destroy() error {
	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return nil
	}
	if e.state == StateUninitialized {
		e.state = StateStopped
		e.mu.Unlock()
		return nil
	}
	e.teardownLocked()
	e.state = StateStopped
	e.mu.Unlock()

	e.wg.Wait()
	e.config.Logger.Printf("Sync engine stopped")
	return nil
}

// teardownLocked cancels the loop and detaches observers. Caller holds e.mu.
func (e *Engine) teardownLocked() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.cancelObs != nil {
		e.cancelObs()
		e.cancelObs = nil
	}
	if e.cancelConn != nil {
		e.cancelConn()
		e.cancelConn = nil
	}
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
}

// TriggerSync requests a cycle. If one is already in flight the request is
// coalesced into a single follow-up cycle, never queued unboundedly.
func (e *Engine) TriggerSync() {
	e.requestCycle()
}

func (e *Engine) requestCycle() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Status returns a copy of the current sync status projection.
func (e *Engine) Status() Status {
	return e.status.snapshot()
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// onStoreChange updates the pending count and requests a cycle when a user
// edit added new work.
func (e *Engine) onStoreChange(_ []*task.Task) {
	e.mu.Lock()
	ctx := e.ctx
	residual := e.residualPending
	e.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	pending, err := e.store.PendingCount(ctx)
	if err != nil {
		return
	}
	e.status.setPending(pending)

	if pending > residual {
		e.requestCycle()
	}
}

// onConnectivityChange syncs immediately when connectivity returns.
func (e *Engine) onConnectivityChange(online bool) {
	if online {
		e.config.Logger.Printf("Back online, triggering sync")
		e.backoff.reset()
		e.requestCycle()
	}
}

// run is the background loop. At most one cycle is ever in flight.
func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
		case <-e.trigger:
		}

		if e.ctx.Err() != nil {
			return
		}
		e.runCycle()
	}
}

// runCycle executes one full cycle and updates the status projection.
func (e *Engine) runCycle() {
	e.setState(StateSyncing)
	e.status.beginCycle()

	err := e.cycle(e.ctx)

	pending, cntErr := e.store.PendingCount(context.Background())
	if cntErr != nil {
		pending = e.status.snapshot().PendingChanges
	}

	e.mu.Lock()
	e.residualPending = pending
	e.mu.Unlock()

	switch {
	case err == nil:
		now := time.Now().UTC()
		e.mu.Lock()
		e.lastSync = &now
		e.mu.Unlock()
		e.backoff.reset()
		e.status.endCycle(pending, &now, "")
		e.setState(StateIdle)
		e.config.Logger.Printf("Sync cycle complete (pending=%d)", pending)

	case errors.Is(err, context.Canceled):
		// Destroy mid-cycle: partial progress is preserved, remaining
		// work stays dirty.
		e.status.endCycle(pending, nil, "")
		e.setState(StateIdle)

	case remote.IsFatal(err):
		e.status.endCycle(pending, nil, err.Error())
		e.config.Logger.Printf("Sync halted: %v", err)
		e.haltForAuth()

	case remote.IsRetriable(err):
		delay := e.backoff.next()
		e.status.endCycle(pending, nil, err.Error())
		e.setState(StateIdle)
		e.config.Logger.Printf("Sync cycle failed (retry in %v): %v", delay, err)
		e.scheduleRetry(delay)

	default:
		var rej *rejectionSummary
		if errors.As(err, &rej) {
			// Record-level rejections: the cycle itself completed, the
			// affected records stay dirty and are reported, but the pull
			// window still advances.
			now := time.Now().UTC()
			e.mu.Lock()
			e.lastSync = &now
			e.mu.Unlock()
			e.backoff.reset()
			e.status.endCycle(pending, &now, err.Error())
			e.setState(StateIdle)
			e.config.Logger.Printf("Sync cycle completed with rejections: %v", err)
			return
		}

		// Local failure mid-cycle (store read/write error). Pulled changes
		// may not have been applied, so the pull window must not advance
		// past them; retry with backoff.
		delay := e.backoff.next()
		e.status.endCycle(pending, nil, err.Error())
		e.setState(StateIdle)
		e.config.Logger.Printf("Sync cycle failed (retry in %v): %v", delay, err)
		e.scheduleRetry(delay)
	}
}

// haltForAuth stops the loop until Initialize is called again with fresh
// credentials.
func (e *Engine) haltForAuth() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateStopped {
		return
	}
	e.teardownLocked()
	e.state = StateUninitialized
}

// scheduleRetry requests a cycle after the backoff delay unless the engine
// is torn down first.
func (e *Engine) scheduleRetry(delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil || e.ctx.Err() != nil {
		return
	}
	if e.retryTimer != nil {
		e.retryTimer.Stop()
	}
	ctx := e.ctx
	e.retryTimer = time.AfterFunc(delay, func() {
		if ctx.Err() == nil {
			e.requestCycle()
		}
	})
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateStopped {
		return
	}
	e.state = s
}

// cycle runs the push phase then the pull phase.
//
// All pushes for records dirty at cycle start are attempted before the pull
// begins, so locally authored changes are not overwritten by a stale pull.
// Returns nil on full success, a retriable/fatal error on phase abort, a
// context error on cancellation, or a *rejectionSummary when the only
// failures were record-level rejections.
func (e *Engine) cycle(ctx context.Context) error {
	if !e.conn.Online() {
		// Fail fast instead of waiting for a network timeout.
		return remote.Retriable(errors.New("offline"))
	}

	rejected, err := e.pushPhase(ctx)
	if err != nil {
		return err
	}

	pullRejected, err := e.pullPhase(ctx)
	if err != nil {
		return err
	}
	rejected += pullRejected

	if rejected > 0 {
		return &rejectionSummary{count: rejected}
	}
	return nil
}

// rejectionSummary reports record-level rejections from a cycle that
// otherwise ran to completion. It is a distinct type so the cycle outcome
// handling cannot confuse it with a mid-cycle failure: rejections leave the
// affected records dirty but still advance the pull window, while any other
// error must not.
type rejectionSummary struct {
	count int
}

func (r *rejectionSummary) Error() string {
	return fmt.Sprintf("%d record(s) rejected, left pending", r.count)
}

// pushPhase drains the dirty work queue. Rejecting errors are isolated
// per-record; retriable and auth errors abort the phase.
func (e *Engine) pushPhase(ctx context.Context) (rejected int, err error) {
	queue, err := e.store.QueryDirty(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read work queue: %w", err)
	}

	for _, rec := range queue {
		if ctx.Err() != nil {
			return rejected, ctx.Err()
		}

		if rec.Status == task.StatusTombstoned {
			if err := e.pushDelete(ctx, rec); err != nil {
				if remote.IsRejecting(err) {
					rejected++
					e.config.Logger.Printf("Delete of %s rejected: %v", rec.ID, err)
					continue
				}
				return rejected, err
			}
			continue
		}

		if err := e.pushUpdate(ctx, rec); err != nil {
			if remote.IsRejecting(err) {
				rejected++
				e.config.Logger.Printf("Push of %s rejected: %v", rec.ID, err)
				continue
			}
			return rejected, err
		}
	}

	return rejected, nil
}

// pushUpdate sends one dirty record and marks it clean, unless a further
// local edit landed while the push was in flight.
func (e *Engine) pushUpdate(ctx context.Context, rec *task.Task) error {
	base := rec.UpdatedAt

	if err := e.transport.PushUpdate(ctx, rec, base); err != nil {
		return err
	}

	cleaned, err := e.store.MarkCleanIf(ctx, rec.ID, base, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark %s clean: %w", rec.ID, err)
	}
	if !cleaned {
		// Edited during the push; stays dirty for the next cycle.
		e.config.Logger.Printf("Task %s changed mid-push, re-queued", rec.ID)
	}
	return nil
}

// pushDelete sends one tombstone and purges the record on acknowledgment.
func (e *Engine) pushDelete(ctx context.Context, rec *task.Task) error {
	if err := e.transport.PushDelete(ctx, rec.ID); err != nil {
		return err
	}

	if err := e.store.Purge(ctx, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to purge %s: %w", rec.ID, err)
	}
	return nil
}

// pullPhase fetches remote changes since the last successful cycle and
// applies them with last-write-wins resolution. Applying a delta twice is a
// no-op, so retried pulls are safe.
func (e *Engine) pullPhase(ctx context.Context) (rejected int, err error) {
	e.mu.Lock()
	since := e.lastSync
	e.mu.Unlock()

	changes, err := e.transport.PullChangesSince(ctx, since)
	if err != nil {
		return 0, err
	}

	for _, ch := range changes {
		if ctx.Err() != nil {
			return rejected, ctx.Err()
		}
		if ch.Task == nil || ch.Task.ID == "" {
			rejected++
			e.config.Logger.Printf("Skipping remote change without id")
			continue
		}

		if ch.Tombstone {
			if _, err := e.store.ApplyRemoteDelete(ctx, ch.Task.ID, ch.UpdatedAt); err != nil {
				return rejected, fmt.Errorf("failed to apply remote delete for %s: %w", ch.Task.ID, err)
			}
			continue
		}

		if _, err := e.store.ApplyRemote(ctx, ch.Task, ch.UpdatedAt); err != nil {
			if errors.Is(err, store.ErrValidation) {
				rejected++
				e.config.Logger.Printf("Skipping invalid remote record %s: %v", ch.Task.ID, err)
				continue
			}
			return rejected, fmt.Errorf("failed to apply remote record %s: %w", ch.Task.ID, err)
		}
	}

	return rejected, nil
}
