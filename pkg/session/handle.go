package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Session is a per-request handle bound to one identifier. Every operation
// acquires the record's critical section, mutates, and releases; there is
// no cross-operation transaction. Handles for the same identifier may be
// used concurrently from multiple requests.
type Session struct {
	manager *Manager

	mu sync.Mutex
	id string
}

// ID returns the handle's current identifier. It changes only when a
// requested renewal is applied at finalize.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) setID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
}

// tap runs fn inside the record's critical section. A missing record is
// not an error for the caller: it is logged and fn is skipped, so session
// operations degrade to no-ops instead of failing the request.
func (s *Session) tap(fn func(*Record)) bool {
	id := s.ID()
	ok := s.manager.table.withRecord(id, fn)
	if !ok {
		slog.Warn("session data unexpectedly missing", "session_id", id)
	}
	return ok
}

// Get decodes the value stored under key. The bool is false when the key
// is absent or the stored value does not decode into T; a shape mismatch
// is treated the same as a missing key.
func Get[T any](s *Session, key string) (T, bool) {
	var zero T

	var raw string
	var present bool
	s.tap(func(rec *Record) { raw, present = rec.Data[key] })
	if !present {
		return zero, false
	}

	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return zero, false
	}
	return out, true
}

// GetRemove is Get that also deletes the key, dirtying the record when the
// key existed.
func GetRemove[T any](s *Session, key string) (T, bool) {
	var zero T

	var raw string
	var present bool
	s.tap(func(rec *Record) {
		raw, present = rec.Data[key]
		if present {
			delete(rec.Data, key)
			rec.Update = true
		}
	})
	if !present {
		return zero, false
	}

	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return zero, false
	}
	return out, true
}

// Set stores value under key. Writing a value whose encoding matches what
// is already stored leaves the dirty flag untouched, so idle traffic does
// not cause persistence churn. json.Marshal output is canonical for a
// given value (struct order fixed, map keys sorted), which makes the byte
// comparison sound.
func (s *Session) Set(key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding session value for %q: %w", key, err)
	}

	s.tap(func(rec *Record) {
		current, present := rec.Data[key]
		if !present || current != string(encoded) {
			rec.Data[key] = string(encoded)
			rec.Update = true
		}
	})
	return nil
}

// Remove deletes key and dirties the record, whether or not the key was
// present.
func (s *Session) Remove(key string) {
	s.tap(func(rec *Record) {
		delete(rec.Data, key)
		rec.Update = true
	})
}

// Clear empties the record's data map.
func (s *Session) Clear() {
	s.tap(func(rec *Record) {
		rec.Data = make(map[string]string)
		rec.Update = true
	})
}

// Renew requests identifier rotation, applied at the next finalize.
func (s *Session) Renew() {
	s.tap(func(rec *Record) {
		rec.Renew = true
		rec.Update = true
	})
}

// Destroy requests termination; the record is removed from memory and
// storage by the next finalize or sweep pass.
func (s *Session) Destroy() {
	s.tap(func(rec *Record) {
		rec.Destroy = true
		rec.Update = true
	})
}

// SetLongterm selects the long or short expiry policy applied when the
// lease is next refreshed.
func (s *Session) SetLongterm(longterm bool) {
	s.tap(func(rec *Record) {
		rec.Longterm = longterm
		rec.Update = true
	})
}

// SetStorable toggles persistence eligibility. Turning it off removes the
// record's backend row at the next finalize; turning it on enables future
// write-through.
func (s *Session) SetStorable(storable bool) {
	s.tap(func(rec *Record) {
		rec.Storable = storable
		rec.Update = true
	})
}

// Count reports the session population: the backend row count when
// persistence is configured, the resident count otherwise.
func (s *Session) Count(ctx context.Context) (int64, error) {
	return s.manager.Count(ctx)
}
