package domain

import "errors"

// Sentinel errors for the application.
var (
	// ErrAuth is terminal: the session must be re-authenticated.
	ErrAuth = errors.New("authentication failed")
	// ErrTransport is transient: retried with backoff, surfaced only as a
	// connection-state change.
	ErrTransport = errors.New("transport failure")
	// ErrWrite is a rejected REST mutation; it fails exactly one optimistic
	// item and is surfaced to the initiating caller only.
	ErrWrite = errors.New("write rejected")
	// ErrTimeout marks an optimistic action whose confirmation never arrived.
	// It is treated as a write failure for resolution purposes.
	ErrTimeout = errors.New("confirmation timed out")
	// ErrPersistence is non-fatal: the caller falls back to default state.
	ErrPersistence = errors.New("local persistence failure")

	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("resource already exists")
	ErrInvalidInput = errors.New("invalid input")
)
