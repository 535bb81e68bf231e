package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the server-side state for one session. It lives in the manager's
// in-memory table and, when Storable is set, is written through to the
// configured persistence adapter. All access goes through the sharded table's
// exclusive-entry primitive; Record itself carries no lock.
type Record struct {
	// ID is the session identifier. Immutable except for rotation at
	// finalize, which re-keys the record under a freshly issued ID.
	ID string

	// Data maps application keys to JSON-encoded values.
	Data map[string]string

	// Expires is the absolute time after which the record is eligible for
	// eviction by the sweeper.
	Expires time.Time

	// Longterm selects the long lifetime policy when the expiry is
	// recomputed at finalize.
	Longterm bool

	// Storable marks the record as eligible for persistent write-through.
	Storable bool

	// Destroy requests removal from memory and storage at the next
	// finalize or sweep pass.
	Destroy bool

	// Renew requests identifier rotation at the next finalize.
	Renew bool

	// Update is the dirty flag: true iff the record has diverged from the
	// last committed snapshot. Read-and-cleared by the flush path.
	Update bool

	// stored tracks whether the backend may hold a row for this ID, so the
	// flush path knows when a destroy or a storable=false transition needs
	// a backend delete.
	stored bool
}

// newRecord returns a fresh record for an issued identifier.
func newRecord(id string, expires time.Time, storable bool) *Record {
	return &Record{
		ID:       id,
		Data:     make(map[string]string),
		Expires:  expires,
		Storable: storable,
		Update:   true,
	}
}

// expired reports whether the record's expiry has passed at now.
func (r *Record) expired(now time.Time) bool {
	return now.After(r.Expires)
}

// recordPayload is the persisted encoding of a Record. Every Record field
// round-trips so a session reloaded on another node is indistinguishable
// from the one that was flushed.
type recordPayload struct {
	ID       string            `json:"id"`
	Data     map[string]string `json:"data"`
	Expires  time.Time         `json:"expires"`
	Longterm bool              `json:"longterm"`
	Storable bool              `json:"storable"`
	Destroy  bool              `json:"destroy"`
	Renew    bool              `json:"renew"`
	Update   bool              `json:"update"`
}

// encode serializes the record for write-through.
func (r *Record) encode() ([]byte, error) {
	payload, err := json.Marshal(recordPayload{
		ID:       r.ID,
		Data:     r.Data,
		Expires:  r.Expires,
		Longterm: r.Longterm,
		Storable: r.Storable,
		Destroy:  r.Destroy,
		Renew:    r.Renew,
		Update:   r.Update,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding session record: %w", err)
	}
	return payload, nil
}

// decodeRecord reconstructs a record from its persisted encoding. The
// record is marked as backed by storage so later transitions issue the
// matching backend delete.
func decodeRecord(payload []byte) (*Record, error) {
	var p recordPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decoding session record: %w", err)
	}
	if p.Data == nil {
		p.Data = make(map[string]string)
	}
	return &Record{
		ID:       p.ID,
		Data:     p.Data,
		Expires:  p.Expires,
		Longterm: p.Longterm,
		Storable: p.Storable,
		Destroy:  p.Destroy,
		Renew:    p.Renew,
		Update:   p.Update,
		stored:   true,
	}, nil
}
