// Package session implements a server-side session lifecycle engine: a
// concurrent in-memory record table fronting an optional persistence
// adapter, with collision-checked identifier issuance, per-request session
// handles and a background expiration sweeper.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Manager owns the in-memory session table, the identifier issuer and the
// sweeper. It is constructed explicitly and shared by reference; there is
// no package-level instance.
type Manager struct {
	cfg     Config
	adapter Adapter
	table   *shardedTable

	closed atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a session manager. A nil adapter selects memory-only
// mode: every persistence call, including the issuance existence check and
// the storage sweep, is skipped.
func NewManager(cfg Config, adapter Adapter) (*Manager, error) {
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:     cfg,
		adapter: adapter,
		table:   newShardedTable(cfg.ShardCount),
	}, nil
}

// Config returns the manager's effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Persistent reports whether a persistence adapter is configured.
func (m *Manager) Persistent() bool { return m.adapter != nil }

// Open prepares the backend when the adapter supports it and starts the
// sweeper. Call once; pair with Close.
func (m *Manager) Open(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if init, ok := m.adapter.(Initiator); ok && m.adapter != nil {
		if err := init.Initiate(ctx); err != nil {
			return fmt.Errorf("initiating session backend: %w", err)
		}
	}
	m.startSweeper()
	return nil
}

// Close stops the sweeper and waits for it to exit. Safe to call even if
// Open never ran, and safe to call twice.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	return nil
}

// Resolve returns a handle for the presented identifier. A live resident
// record is used as-is; a destroy-pending one is never handed out. On
// memory miss with persistence configured the record is reloaded from the
// backend; otherwise a fresh identifier is issued and an empty record
// inserted. An empty presentedID always creates.
func (m *Manager) Resolve(ctx context.Context, presentedID string) (*Session, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	if presentedID != "" {
		var destroyed bool
		if m.table.withRecord(presentedID, func(rec *Record) { destroyed = rec.Destroy }) {
			if !destroyed {
				return &Session{manager: m, id: presentedID}, nil
			}
			// Condemned record awaiting its finalize or sweep; a presenter
			// of its identifier gets a fresh session instead.
		} else if m.adapter != nil {
			payload, ok, err := m.adapter.Load(ctx, presentedID)
			if err != nil {
				return nil, fmt.Errorf("loading session from backend: %w", err)
			}
			if ok {
				rec, err := decodeRecord(payload)
				switch {
				case err != nil:
					slog.Warn("session: discarding undecodable record",
						"session_id", presentedID, "error", err)
				case rec.Destroy || rec.expired(time.Now()):
					// Stale row; leave it for the storage sweep.
				default:
					m.table.insert(presentedID, rec)
					return &Session{manager: m, id: presentedID}, nil
				}
			}
		}
	}

	return m.create(ctx)
}

// create issues a collision-free identifier and inserts an empty record.
func (m *Manager) create(ctx context.Context) (*Session, error) {
	id, err := m.issueID(ctx)
	if err != nil {
		return nil, err
	}

	rec := newRecord(id, time.Now().Add(m.cfg.Lifetime), m.cfg.AlwaysStore)
	m.table.insert(id, rec)
	return &Session{manager: m, id: id}, nil
}

// Finalize flushes the handle's record: destruction removes it from memory
// and backend, renewal rotates the identifier, and otherwise a dirty
// storable record is written through. The expiry lease is refreshed per
// the record's longterm policy. Backend errors on these paths are
// correctness-critical and propagate to the caller; the dirty flag is
// restored so the next flush retries.
func (m *Manager) Finalize(ctx context.Context, s *Session) error {
	if m.closed.Load() {
		return ErrClosed
	}

	id := s.ID()
	var destroy, renew bool
	if !m.table.withRecord(id, func(rec *Record) {
		destroy = rec.Destroy
		renew = rec.Renew
	}) {
		slog.Warn("session data unexpectedly missing", "session_id", id)
		return nil
	}

	if destroy {
		rec, ok := m.table.remove(id)
		if ok && m.adapter != nil && (rec.stored || rec.Storable) {
			if err := m.adapter.Delete(ctx, id); err != nil {
				return fmt.Errorf("deleting destroyed session: %w", err)
			}
		}
		return nil
	}

	if renew {
		if err := m.rotate(ctx, s); err != nil {
			return err
		}
		id = s.ID()
	}

	return m.writeThrough(ctx, id)
}

// rotate retires the handle's identifier and re-keys its record under a
// freshly issued one. The old backend row is removed before the re-key so
// the old identifier is never resurrectable from storage.
func (m *Manager) rotate(ctx context.Context, s *Session) error {
	oldID := s.ID()

	newID, err := m.issueID(ctx)
	if err != nil {
		return fmt.Errorf("rotating session identifier: %w", err)
	}

	var stored bool
	m.table.withRecord(oldID, func(rec *Record) { stored = rec.stored })
	if stored && m.adapter != nil {
		if err := m.adapter.Delete(ctx, oldID); err != nil {
			return fmt.Errorf("retiring rotated identifier: %w", err)
		}
	}

	if !m.table.rekey(oldID, newID) {
		// Lost a race with a concurrent flush or sweep; the record under
		// oldID is gone and there is nothing left to move.
		slog.Warn("session: rotation found no record", "session_id", oldID)
		return nil
	}

	m.table.withRecord(newID, func(rec *Record) {
		rec.Renew = false
		rec.stored = false
		rec.Update = true
	})
	s.setID(newID)
	return nil
}

// writeThrough refreshes the record's expiry and, when dirty, commits it:
// to the backend for storable records, to memory alone otherwise. A record
// that stopped being storable has its backend row deleted.
func (m *Manager) writeThrough(ctx context.Context, id string) error {
	now := time.Now()

	var (
		payload           []byte
		expires           time.Time
		encErr            error
		doStore, doDelete bool
	)
	if !m.table.withRecord(id, func(rec *Record) {
		rec.Expires = now.Add(m.cfg.lifetimeFor(rec.Longterm))
		expires = rec.Expires
		if !rec.Update {
			return
		}
		switch {
		case m.adapter == nil:
			rec.Update = false
		case rec.Storable:
			payload, encErr = rec.encode()
			if encErr == nil {
				rec.Update = false
				doStore = true
			}
		default:
			rec.Update = false
			doDelete = rec.stored
		}
	}) {
		slog.Warn("session data unexpectedly missing", "session_id", id)
		return nil
	}
	if encErr != nil {
		return encErr
	}

	if doDelete {
		if err := m.adapter.Delete(ctx, id); err != nil {
			m.table.withRecord(id, func(rec *Record) { rec.Update = true })
			return fmt.Errorf("removing non-storable session: %w", err)
		}
		m.table.withRecord(id, func(rec *Record) { rec.stored = false })
	}

	if doStore {
		if err := m.adapter.Store(ctx, id, payload, expires); err != nil {
			m.table.withRecord(id, func(rec *Record) { rec.Update = true })
			return fmt.Errorf("writing session through: %w", err)
		}
		m.table.withRecord(id, func(rec *Record) { rec.stored = true })
	}

	return nil
}

// PurgeExpired removes expired rows from the persistence backend
// immediately, outside the sweeper schedule.
func (m *Manager) PurgeExpired(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.adapter == nil {
		return ErrNoBackend
	}
	if err := m.adapter.Cleanup(ctx, time.Now()); err != nil {
		return fmt.Errorf("purging expired sessions: %w", err)
	}
	return nil
}

// Count returns the backend row count when persistence is configured,
// otherwise the number of resident records.
func (m *Manager) Count(ctx context.Context) (int64, error) {
	if m.adapter != nil {
		n, err := m.adapter.Count(ctx)
		if err != nil {
			return 0, fmt.Errorf("counting persisted sessions: %w", err)
		}
		return n, nil
	}
	return int64(m.table.len()), nil
}
