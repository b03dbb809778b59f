// Package remote defines the transport abstraction for the remote task
// authority and its error taxonomy.
//
// The sync engine only ever talks to the server through the Transport
// interface; the HTTP implementation lives in this package, fakes live in
// tests.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pocketdo/pocketdo/internal/task"
)

// Change is one record exchanged with the remote authority.
//
// The wire contract is deliberately small: id, fields, updated_at and a
// tombstone flag. UpdatedAt is the server's durably committed timestamp for
// the record and drives last-write-wins resolution on pull.
type Change struct {
	Task      *task.Task
	UpdatedAt time.Time
	Tombstone bool
}

// Transport is the remote authority consumed by the sync engine.
//
// All calls attach the current auth token and carry a timeout; an expired or
// invalid token surfaces as ErrAuthRequired.
type Transport interface {
	// PushUpdate sends a locally modified task to the server.
	// baseUpdatedAt is the local updated_at snapshot taken when the record
	// was read from the work queue.
	PushUpdate(ctx context.Context, t *task.Task, baseUpdatedAt time.Time) error

	// PushDelete asks the server to delete a task. Deleting an id the
	// server does not know is an ack, not an error (idempotent).
	PushDelete(ctx context.Context, id string) error

	// PullChangesSince returns records changed on the server after the
	// given timestamp. A nil since requests a full sync.
	PullChangesSince(ctx context.Context, since *time.Time) ([]Change, error)
}

// ErrAuthRequired is returned when the server rejects the credentials.
// The sync loop halts entirely until re-initialized with a fresh token.
var ErrAuthRequired = errors.New("authentication required")

// RetriableError marks a failure that is expected to succeed on retry:
// network errors, timeouts, connectivity loss, and server 5xx responses.
// The sync engine responds with bounded exponential backoff; no data is
// dropped.
type RetriableError struct {
	Err error
}

func (e *RetriableError) Error() string {
	return fmt.Sprintf("retriable: %v", e.Err)
}

func (e *RetriableError) Unwrap() error { return e.Err }

// Retriable wraps err as a RetriableError. Returns nil for a nil err.
func Retriable(err error) error {
	if err == nil {
		return nil
	}
	return &RetriableError{Err: err}
}

// RejectingError marks a failure the server will repeat on retry (4xx,
// server-side validation). The affected record is left dirty and surfaced in
// the sync status; it is not retried automatically.
type RejectingError struct {
	StatusCode int
	Reason     string
}

func (e *RejectingError) Error() string {
	return fmt.Sprintf("rejected by server (status %d): %s", e.StatusCode, e.Reason)
}

// IsRetriable returns true if the error should be retried with backoff.
func IsRetriable(err error) bool {
	var re *RetriableError
	return errors.As(err, &re)
}

// IsRejecting returns true if the server rejected the record and a retry
// would fail the same way.
func IsRejecting(err error) bool {
	var re *RejectingError
	return errors.As(err, &re)
}

// IsFatal returns true if the error halts the sync loop until the engine is
// re-initialized with fresh credentials.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthRequired)
}
