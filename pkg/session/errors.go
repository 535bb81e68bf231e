package session

import "errors"

var (
	// ErrClosed is returned by operations on a manager after Close.
	ErrClosed = errors.New("session: manager closed")

	// ErrNoBackend is returned when an operation requires a persistence
	// adapter and the manager runs memory-only.
	ErrNoBackend = errors.New("session: no persistence adapter configured")
)
