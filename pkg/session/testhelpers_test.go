package session

import (
	"context"
	"sync"
	"time"
)

// fakeRow is one persisted session in the fake backend.
type fakeRow struct {
	payload []byte
	expires time.Time
}

// fakeAdapter is an in-memory Adapter with per-operation failure
// injection and call counters.
type fakeAdapter struct {
	mu   sync.Mutex
	rows map[string]fakeRow

	storeErr   error
	loadErr    error
	deleteErr  error
	existsErr  error
	countErr   error
	cleanupErr error

	// existsHits forces Exists to report true this many times regardless
	// of contents, to exercise the issuance retry loop.
	existsHits int

	stores   int
	deletes  int
	cleanups int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{rows: make(map[string]fakeRow)}
}

func (f *fakeAdapter) Store(_ context.Context, id string, payload []byte, expires time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return f.storeErr
	}
	f.stores++
	f.rows[id] = fakeRow{payload: payload, expires: expires}
	return nil
}

func (f *fakeAdapter) Load(_ context.Context, id string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, false, f.loadErr
	}
	row, ok := f.rows[id]
	if !ok {
		return nil, false, nil
	}
	return row.payload, true, nil
}

func (f *fakeAdapter) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes++
	delete(f.rows, id)
	return nil
}

func (f *fakeAdapter) Exists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	if f.existsHits > 0 {
		f.existsHits--
		return true, nil
	}
	_, ok := f.rows[id]
	return ok, nil
}

func (f *fakeAdapter) Count(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return int64(len(f.rows)), nil
}

func (f *fakeAdapter) Cleanup(_ context.Context, expiredBefore time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cleanupErr != nil {
		return f.cleanupErr
	}
	f.cleanups++
	for id, row := range f.rows {
		if !row.expires.After(expiredBefore) {
			delete(f.rows, id)
		}
	}
	return nil
}

func (f *fakeAdapter) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeAdapter) deleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deletes
}

func (f *fakeAdapter) cleanupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleanups
}

func (f *fakeAdapter) setDeleteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteErr = err
}

// Verify interface compliance.
var _ Adapter = (*fakeAdapter)(nil)

// testConfig returns a config suitable for unit tests.
func testConfig() Config {
	return Config{
		Lifetime:             time.Hour,
		LongtermLifetime:     24 * time.Hour,
		MemorySweepInterval:  time.Minute,
		StorageSweepInterval: time.Hour,
		AlwaysStore:          true,
	}
}

// newTestManager creates an unopened manager; tests that need the sweeper
// call Open themselves.
func newTestManager(t interface{ Fatalf(string, ...any) }, adapter Adapter) *Manager {
	m, err := NewManager(testConfig(), adapter)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}
