package store

import "errors"

// Common errors returned by Record Store operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, store.ErrNotFound) {
//	    // Handle missing record
//	}
var (
	// ErrValidation is returned when a local mutation is malformed, for
	// example an empty title. Validation failures are rejected at the store
	// boundary and never reach the network.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when the operation targets a record that does
	// not exist in the store.
	ErrNotFound = errors.New("task not found")

	// ErrInvariant is returned when an operation would violate a store
	// invariant, such as purging a record that is not tombstoned.
	ErrInvariant = errors.New("store invariant violated")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("store is closed")
)
