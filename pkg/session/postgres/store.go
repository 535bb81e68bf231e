// Package postgres provides PostgreSQL persistence for sessions.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/sessionkit/pkg/session"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// identPattern restricts table names to plain SQL identifiers; the table
// name is interpolated into statements, not bound.
var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Store implements session.Adapter using PostgreSQL.
type Store struct {
	db    *sql.DB
	table string
}

// Config configures the PostgreSQL session store.
type Config struct {
	// TableName is the sessions table. Defaults to "sessions".
	TableName string
}

// New creates a PostgreSQL session adapter.
func New(db *sql.DB, cfg Config) (*Store, error) {
	if cfg.TableName == "" {
		cfg.TableName = "sessions"
	}
	if !identPattern.MatchString(cfg.TableName) {
		return nil, fmt.Errorf("invalid table name %q", cfg.TableName)
	}
	return &Store{db: db, table: cfg.TableName}, nil
}

// Initiate creates the sessions table and its expiry index if missing.
// Deployments that manage schema through migrations can skip it.
func (s *Store) Initiate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id      TEXT PRIMARY KEY,
			payload BYTEA NOT NULL,
			expires TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]s_expires_idx ON %[1]s (expires);
	`, s.table)

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating sessions table: %w", err)
	}
	return nil
}

// Store upserts the payload for id.
func (s *Store) Store(ctx context.Context, id string, payload []byte, expires time.Time) error {
	query, args, err := psq.Insert(s.table).
		Columns("id", "payload", "expires").
		Values(id, payload, expires).
		Suffix("ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, expires = EXCLUDED.expires").
		ToSql()
	if err != nil {
		return fmt.Errorf("building session upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// Load returns the payload for a live row. Expired rows read as absent.
func (s *Store) Load(ctx context.Context, id string) ([]byte, bool, error) {
	query, args, err := psq.Select("payload").
		From(s.table).
		Where(sq.Eq{"id": id}).
		Where(sq.Expr("expires > NOW()")).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("building session select: %w", err)
	}

	var payload []byte
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading session: %w", err)
	}
	return payload, true, nil
}

// Delete removes the row for id, if any.
func (s *Store) Delete(ctx context.Context, id string) error {
	query, args, err := psq.Delete(s.table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("building session delete: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// Exists reports whether any row exists for id, live or expired. An
// expired but not yet purged row still blocks identifier reuse.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	inner, args, err := psq.Select("1").From(s.table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return false, fmt.Errorf("building session exists: %w", err)
	}

	var exists bool
	query := fmt.Sprintf("SELECT EXISTS (%s)", inner)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking session existence: %w", err)
	}
	return exists, nil
}

// Count returns the number of live rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	query, args, err := psq.Select("COUNT(*)").
		From(s.table).
		Where(sq.Expr("expires > NOW()")).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building session count: %w", err)
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return count, nil
}

// Cleanup bulk-removes rows expired at or before expiredBefore.
func (s *Store) Cleanup(ctx context.Context, expiredBefore time.Time) error {
	query, args, err := psq.Delete(s.table).
		Where(sq.LtOrEq{"expires": expiredBefore}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building session cleanup: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("cleaning up sessions: %w", err)
	}
	return nil
}

// Verify interface compliance.
var (
	_ session.Adapter   = (*Store)(nil)
	_ session.Initiator = (*Store)(nil)
)
