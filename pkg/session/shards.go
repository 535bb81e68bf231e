package session

import (
	"hash/fnv"
	"sync"
	"time"
)

const defaultShardCount = 32

// shardedTable is the in-memory session table: a fixed set of
// mutex-guarded map shards keyed by identifier. Operations on identifiers
// in different shards never contend; operations on the same identifier are
// serialized by the shard lock. Callers get at records only through
// withRecord, so no lock can be held across adapter I/O.
type shardedTable struct {
	shards []*tableShard
	mask   uint32
}

type tableShard struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// newShardedTable constructs a table with shardCount shards, rounded up to
// a power of two for bitmask selection.
func newShardedTable(shardCount int) *shardedTable {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	n := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*tableShard, n)
	for i := range shards {
		shards[i] = &tableShard{records: make(map[string]*Record)}
	}
	return &shardedTable{shards: shards, mask: n - 1}
}

func nextPowerOfTwo(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	return v + 1
}

func (t *shardedTable) shard(id string) *tableShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return t.shards[h.Sum32()&t.mask]
}

// withRecord runs fn with exclusive access to the record for id. The shard
// lock is held for the duration of fn, which is the entry's critical
// section. Returns false if no record exists for id.
func (t *shardedTable) withRecord(id string, fn func(*Record)) bool {
	s := t.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false
	}
	fn(rec)
	return true
}

// contains reports whether a record exists for id.
func (t *shardedTable) contains(id string) bool {
	s := t.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.records[id]
	return ok
}

// insert adds or replaces the record for id.
func (t *shardedTable) insert(id string, rec *Record) {
	s := t.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[id] = rec
}

// remove drops the record for id, returning it if present.
func (t *shardedTable) remove(id string) (*Record, bool) {
	s := t.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if ok {
		delete(s.records, id)
	}
	return rec, ok
}

// rekey moves the record from oldID to newID, updating its ID field.
// Both shard locks are taken in slice order so concurrent rekeys cannot
// deadlock. Returns false if oldID is absent or newID is already taken.
func (t *shardedTable) rekey(oldID, newID string) bool {
	src, dst := t.shard(oldID), t.shard(newID)
	if src == dst {
		src.mu.Lock()
		defer src.mu.Unlock()
	} else {
		first, second := src, dst
		if shardIndex(t, second) < shardIndex(t, first) {
			first, second = second, first
		}
		first.mu.Lock()
		defer first.mu.Unlock()
		second.mu.Lock()
		defer second.mu.Unlock()
	}

	rec, ok := src.records[oldID]
	if !ok {
		return false
	}
	if _, taken := dst.records[newID]; taken {
		return false
	}
	delete(src.records, oldID)
	rec.ID = newID
	dst.records[newID] = rec
	return true
}

func shardIndex(t *shardedTable, s *tableShard) int {
	for i, candidate := range t.shards {
		if candidate == s {
			return i
		}
	}
	return -1
}

// len returns the number of resident records.
func (t *shardedTable) len() int {
	total := 0
	for _, s := range t.shards {
		s.mu.RLock()
		total += len(s.records)
		s.mu.RUnlock()
	}
	return total
}

// evicted describes a record removed by a sweep pass.
type evicted struct {
	id       string
	storable bool
	stored   bool
}

// sweep removes every record that is destroyed or expired at now and
// returns what was evicted so the caller can issue backend deletes. Each
// shard is locked independently; the table is never locked as a whole.
func (t *shardedTable) sweep(now time.Time) []evicted {
	var out []evicted
	for _, s := range t.shards {
		s.mu.Lock()
		for id, rec := range s.records {
			if rec.Destroy || rec.expired(now) {
				out = append(out, evicted{id: id, storable: rec.Storable, stored: rec.stored})
				delete(s.records, id)
			}
		}
		s.mu.Unlock()
	}
	return out
}
