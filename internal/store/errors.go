package store

import "errors"

var (
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not found")
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
	// ErrTransient marks failures that are safe to retry as a whole, such as serialization
	// failures, deadlocks and dropped connections.
	ErrTransient = errors.New("transient storage failure")
)
