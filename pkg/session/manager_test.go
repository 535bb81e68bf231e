package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_ValidatesConfig(t *testing.T) {
	_, err := NewManager(Config{Lifetime: -time.Hour}, nil)
	assert.Error(t, err)
}

func TestManager_ResolveCreatesWhenEmpty(t *testing.T) {
	m := newTestManager(t, nil)

	sess, err := m.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID())
	assert.True(t, m.table.contains(sess.ID()))
}

func TestManager_ResolveReturnsResident(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	first, err := m.Resolve(ctx, "")
	require.NoError(t, err)
	require.NoError(t, first.Set("k", "v"))

	second, err := m.Resolve(ctx, first.ID())
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID())

	got, ok := Get[string](second, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestManager_ResolveUnknownIDCreatesFresh(t *testing.T) {
	m := newTestManager(t, nil)

	sess, err := m.Resolve(context.Background(), "forged-or-stale")
	require.NoError(t, err)
	assert.NotEqual(t, "forged-or-stale", sess.ID(),
		"an unknown identifier must not be adopted")
}

func TestManager_ResolveSkipsDestroyPendingRecord(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.Resolve(ctx, "")
	require.NoError(t, err)
	sess.Destroy()

	// Another request presenting the condemned identifier before finalize
	// must get a fresh session, never the destroy-pending record.
	other, err := m.Resolve(ctx, sess.ID())
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID(), other.ID())
}

func TestManager_ResolveLoadsFromBackendOnMiss(t *testing.T) {
	adapter := newFakeAdapter()
	ctx := context.Background()

	m1 := newTestManager(t, adapter)
	sess, err := m1.Resolve(ctx, "")
	require.NoError(t, err)
	require.NoError(t, sess.Set("user", "alice"))
	require.NoError(t, m1.Finalize(ctx, sess))

	// A second manager over the same backend simulates another process.
	m2 := newTestManager(t, adapter)
	reloaded, err := m2.Resolve(ctx, sess.ID())
	require.NoError(t, err)
	assert.Equal(t, sess.ID(), reloaded.ID())

	got, ok := Get[string](reloaded, "user")
	require.True(t, ok)
	assert.Equal(t, "alice", got)
}

func TestManager_ResolveBackendErrorPropagates(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.loadErr = errors.New("timeout")
	m := newTestManager(t, adapter)

	_, err := m.Resolve(context.Background(), "some-id")
	assert.ErrorContains(t, err, "timeout")
}

func TestManager_ResolveDiscardsUndecodableRow(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.rows["bad"] = fakeRow{payload: []byte("garbage"), expires: time.Now().Add(time.Hour)}
	m := newTestManager(t, adapter)

	sess, err := m.Resolve(context.Background(), "bad")
	require.NoError(t, err)
	assert.NotEqual(t, "bad", sess.ID())
}

func TestManager_FinalizeWritesThroughWhenDirty(t *testing.T) {
	adapter := newFakeAdapter()
	m := newTestManager(t, adapter)
	ctx := context.Background()

	sess, err := m.Resolve(ctx, "")
	require.NoError(t, err)
	require.NoError(t, sess.Set("k", 42))
	require.NoError(t, m.Finalize(ctx, sess))

	assert.Equal(t, 1, adapter.rowCount())

	var dirty bool
	m.table.withRecord(sess.ID(), func(rec *Record) { dirty = rec.Update })
	assert.False(t, dirty, "flush must clear the dirty flag")
}

func TestManager_FinalizeSkipsCleanRecords(t *testing.T) {
	adapter := newFakeAdapter()
	m := newTestManager(t, adapter)
	ctx := context.Background()

	sess, err := m.Resolve(ctx, "")
	require.NoError(t, err)
	require.NoError(t, m.Finalize(ctx, sess))
	storesAfterFirst := adapter.stores

	require.NoError(t, m.Finalize(ctx, sess))
	assert.Equal(t, storesAfterFirst, adapter.stores,
		"a clean record must not be written again")
}

func TestManager_FinalizeRestoresDirtyOnStoreFailure(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.storeErr = errors.New("backend down")
	m := newTestManager(t, adapter)
	ctx := context.Background()

	sess, err := m.Resolve(ctx, "")
	require.NoError(t, err)
	require.NoError(t, sess.Set("k", "v"))
	require.Error(t, m.Finalize(ctx, sess))

	var dirty bool
	m.table.withRecord(sess.ID(), func(rec *Record) { dirty = rec.Update })
	assert.True(t, dirty, "failed flush must leave the record dirty for retry")
}

func TestManager_FinalizeRefreshesLease(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.Resolve(ctx, "")
	require.NoError(t, err)

	var before time.Time
	m.table.withRecord(sess.ID(), func(rec *Record) {
		rec.Expires = time.Now().Add(time.Minute)
		before = rec.Expires
	})

	require.NoError(t, m.Finalize(ctx, sess))

	var after time.Time
	m.table.withRecord(sess.ID(), func(rec *Record) { after = rec.Expires })
	assert.True(t, after.After(before))
}

func TestManager_FinalizeLongtermLease(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.Resolve(ctx, "")
	require.NoError(t, err)
	sess.SetLongterm(true)
	require.NoError(t, m.Finalize(ctx, sess))

	var expires time.Time
	m.table.withRecord(sess.ID(), func(rec *Record) { expires = rec.Expires })
	assert.True(t, expires.After(time.Now().Add(m.cfg.Lifetime)),
		"longterm expiry must exceed the short lifetime horizon")
}

func TestManager_FinalizeDestroyRemovesEverywhere(t *testing.T) {
	adapter := newFakeAdapter()
	m := newTestManager(t, adapter)
	ctx := context.Background()

	sess, err := m.Resolve(ctx, "")
	require.NoError(t, err)
	require.NoError(t, sess.Set("k", "v"))
	require.NoError(t, m.Finalize(ctx, sess))
	require.Equal(t, 1, adapter.rowCount())

	sess.Destroy()
	require.NoError(t, m.Finalize(ctx, sess))

	assert.False(t, m.table.contains(sess.ID()))
	assert.Equal(t, 0, adapter.rowCount())
}

func TestManager_FinalizeDestroyBackendErrorPropagates(t *testing.T) {
	adapter := newFakeAdapter()
	m := newTestManager(t, adapter)
	ctx := context.Background()

	sess, err := m.Resolve(ctx, "")
	require.NoError(t, err)
	require.NoError(t, m.Finalize(ctx, sess))

	adapter.setDeleteErr(errors.New("backend down"))
	sess.Destroy()
	assert.Error(t, m.Finalize(ctx, sess))
}

func TestManager_FinalizeRenewRotatesIdentifier(t *testing.T) {
	adapter := newFakeAdapter()
	m := newTestManager(t, adapter)
	ctx := context.Background()

	sess, err := m.Resolve(ctx, "")
	require.NoError(t, err)
	oldID := sess.ID()
	require.NoError(t, sess.Set("k", "v"))
	require.NoError(t, m.Finalize(ctx, sess))

	sess.Renew()
	require.NoError(t, m.Finalize(ctx, sess))
	newID := sess.ID()

	assert.NotEqual(t, oldID, newID)
	assert.False(t, m.table.contains(oldID))
	assert.True(t, m.table.contains(newID))

	// Data survives rotation; the old backend row does not.
	got, ok := Get[string](sess, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	_, found, err := adapter.Load(ctx, oldID)
	require.NoError(t, err)
	assert.False(t, found, "old identifier must be retired from the backend")

	_, found, err = adapter.Load(ctx, newID)
	require.NoError(t, err)
	assert.True(t, found, "rotated record must be written under the new identifier")
}

func TestManager_FinalizeUnstorableDeletesRow(t *testing.T) {
	adapter := newFakeAdapter()
	m := newTestManager(t, adapter)
	ctx := context.Background()

	sess, err := m.Resolve(ctx, "")
	require.NoError(t, err)
	require.NoError(t, sess.Set("k", "v"))
	require.NoError(t, m.Finalize(ctx, sess))
	require.Equal(t, 1, adapter.rowCount())

	sess.SetStorable(false)
	require.NoError(t, m.Finalize(ctx, sess))

	assert.Equal(t, 0, adapter.rowCount(),
		"a record that stopped being storable must leave storage")
	assert.True(t, m.table.contains(sess.ID()),
		"the record stays resident for the rest of its life")
}

func TestManager_CountMemoryOnly(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	for range 3 {
		_, err := m.Resolve(ctx, "")
		require.NoError(t, err)
	}

	count, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestManager_CountUsesBackendWhenPersistent(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.rows["x"] = fakeRow{expires: time.Now().Add(time.Hour)}
	adapter.rows["y"] = fakeRow{expires: time.Now().Add(time.Hour)}
	m := newTestManager(t, adapter)

	count, err := m.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestManager_PurgeExpired(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.rows["live"] = fakeRow{expires: time.Now().Add(time.Hour)}
	adapter.rows["dead"] = fakeRow{expires: time.Now().Add(-time.Hour)}
	m := newTestManager(t, adapter)
	ctx := context.Background()

	require.NoError(t, m.PurgeExpired(ctx))
	assert.Equal(t, 1, adapter.rowCount())

	adapter.cleanupErr = errors.New("boom")
	assert.Error(t, m.PurgeExpired(ctx))
}

func TestManager_PurgeExpiredRequiresBackend(t *testing.T) {
	m := newTestManager(t, nil)
	err := m.PurgeExpired(context.Background())
	assert.ErrorIs(t, err, ErrNoBackend)
}

func TestManager_ClosedRejectsOperations(t *testing.T) {
	m := newTestManager(t, nil)
	require.NoError(t, m.Close())

	_, err := m.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, m.Close(), "Close is idempotent")
}

// The full persistence round trip: set values, finalize, reload through a
// fresh manager as if the process had restarted.
func TestManager_SetFinalizeReloadScenario(t *testing.T) {
	adapter := newFakeAdapter()
	ctx := context.Background()

	m1 := newTestManager(t, adapter)
	sess, err := m1.Resolve(ctx, "")
	require.NoError(t, err)
	id := sess.ID()

	require.NoError(t, sess.Set("a", 2))
	require.NoError(t, sess.Set("b", "Hello World"))
	require.NoError(t, m1.Finalize(ctx, sess))

	m2 := newTestManager(t, adapter)
	fresh, err := m2.Resolve(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, fresh.ID())

	a, ok := Get[int](fresh, "a")
	require.True(t, ok)
	assert.Equal(t, 2, a)

	b, ok := Get[string](fresh, "b")
	require.True(t, ok)
	assert.Equal(t, "Hello World", b)
}
