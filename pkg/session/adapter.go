package session

import (
	"context"
	"time"
)

// Adapter is the contract a persistence backend must satisfy. All methods
// are keyed by the adapter's configured table or key namespace and must be
// safe under concurrent use from multiple processes sharing one backend.
// Delete and Cleanup are idempotent.
type Adapter interface {
	// Store writes or replaces the payload for id with its expiry.
	Store(ctx context.Context, id string, payload []byte, expires time.Time) error

	// Load returns the payload for id. The bool is false when no live row
	// exists; that is not an error.
	Load(ctx context.Context, id string) ([]byte, bool, error)

	// Delete removes the row for id, if any.
	Delete(ctx context.Context, id string) error

	// Exists reports whether a row for id exists. A backend failure here
	// must surface as an error, never as "does not exist": identifier
	// issuance depends on it.
	Exists(ctx context.Context, id string) (bool, error)

	// Count returns the number of live rows.
	Count(ctx context.Context) (int64, error)

	// Cleanup bulk-removes rows whose expiry is at or before expiredBefore.
	Cleanup(ctx context.Context, expiredBefore time.Time) error
}

// Initiator is implemented by adapters that can prepare their backing
// schema or namespace. Manager.Open calls it when present.
type Initiator interface {
	Initiate(ctx context.Context) error
}
