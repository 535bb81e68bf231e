package session

import (
	"context"
	"log/slog"
	"time"
)

// startSweeper launches the background sweep task. Two independent timers
// drive it: the memory cadence evicts destroyed and expired records from
// the table, the storage cadence bulk-purges expired backend rows that may
// never have been resident here. The goroutine is stopped by Close.
func (m *Manager) startSweeper() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		memTicker := time.NewTicker(m.cfg.MemorySweepInterval)
		defer memTicker.Stop()
		storageTicker := time.NewTicker(m.cfg.StorageSweepInterval)
		defer storageTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-memTicker.C:
				m.sweepMemory(ctx)
			case <-storageTicker.C:
				m.sweepStorage(ctx)
			}
		}
	}()
}

// sweepMemory evicts destroyed and expired records and issues asynchronous
// backend deletes for the ones that may have rows. Delete failures are
// logged only: deletes are idempotent and the row stays eligible for the
// storage sweep, so nothing is lost by retrying later.
func (m *Manager) sweepMemory(ctx context.Context) {
	victims := m.table.sweep(time.Now())
	if m.adapter == nil || len(victims) == 0 {
		return
	}

	// Deletes run off the sweep loop under their own deadline so backend
	// latency cannot delay the next tick.
	go func() {
		dctx, cancel := context.WithTimeout(ctx, m.cfg.SweepTimeout)
		defer cancel()

		for _, v := range victims {
			if !v.storable && !v.stored {
				continue
			}
			if err := m.adapter.Delete(dctx, v.id); err != nil {
				slog.Warn("session: sweep delete failed",
					"session_id", v.id, "error", err)
			}
		}
	}()
}

// sweepStorage asks the backend to purge every row expired as of now. The
// call is bounded by SweepTimeout; a failure is logged and the purge is
// retried on the next cadence tick.
func (m *Manager) sweepStorage(ctx context.Context) {
	if m.adapter == nil {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, m.cfg.SweepTimeout)
	defer cancel()

	if err := m.adapter.Cleanup(cctx, time.Now()); err != nil {
		slog.Warn("session: storage cleanup failed", "error", err)
	}
}
