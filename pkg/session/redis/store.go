// Package redis provides Redis persistence for sessions. Row expiry maps
// onto native key TTLs, so most of the purge work is done by Redis itself.
package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/txn2/sessionkit/pkg/session"
)

const scanBatch = 256

// Store implements session.Adapter using Redis.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// Config configures the Redis session store.
type Config struct {
	// Namespace prefixes every session key. Defaults to "sessions".
	Namespace string
}

// New creates a Redis session adapter.
func New(rdb *redis.Client, cfg Config) *Store {
	if cfg.Namespace == "" {
		cfg.Namespace = "sessions"
	}
	return &Store{rdb: rdb, prefix: cfg.Namespace + ":"}
}

func (s *Store) key(id string) string { return s.prefix + id }

// Store writes the payload under the session key with a TTL derived from
// expires. An already-expired record is deleted instead of written.
func (s *Store) Store(ctx context.Context, id string, payload []byte, expires time.Time) error {
	ttl := time.Until(expires)
	if ttl <= 0 {
		return s.Delete(ctx, id)
	}

	if err := s.rdb.Set(ctx, s.key(id), payload, ttl).Err(); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// Load returns the payload for id. A missing or TTL-expired key reads as
// absent.
func (s *Store) Load(ctx context.Context, id string) ([]byte, bool, error) {
	payload, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading session: %w", err)
	}
	return payload, true, nil
}

// Delete removes the key for id, if any.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// Exists reports whether a key exists for id.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("checking session existence: %w", err)
	}
	return n > 0, nil
}

// Count scans the namespace and returns the number of session keys.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return count, nil
}

// Cleanup removes session keys that lost their TTL (PERSIST, a restore
// from a dump, or a Store crash between SET and EXPIRE on older servers).
// Keys with a live TTL are left to Redis's own expiry.
func (s *Store) Cleanup(ctx context.Context, _ time.Time) error {
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := s.rdb.TTL(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("checking session ttl: %w", err)
		}
		if ttl == -1 {
			if err := s.rdb.Del(ctx, key).Err(); err != nil {
				return fmt.Errorf("cleaning up session: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning sessions: %w", err)
	}
	return nil
}

// Verify interface compliance.
var _ session.Adapter = (*Store)(nil)
