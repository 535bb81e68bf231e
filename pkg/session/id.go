package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// issueID finds a free session identifier: a candidate UUIDv4 is rejected
// if it is resident in memory or, when persistence is configured, already
// exists in the backend. The loop has no retry cap; the 128-bit random
// space makes repeated collision negligible, and capping it would turn a
// backend outage into silent identifier reuse. A backend failure during
// the existence check therefore aborts issuance instead of treating the
// candidate as free.
//
// Issuance has no side effect: the caller inserts the identifier into the
// table as a separate step.
func (m *Manager) issueID(ctx context.Context) (string, error) {
	for {
		candidate := uuid.NewString()

		if m.table.contains(candidate) {
			continue
		}

		if m.adapter != nil {
			exists, err := m.adapter.Exists(ctx, candidate)
			if err != nil {
				return "", fmt.Errorf("checking candidate identifier against backend: %w", err)
			}
			if exists {
				continue
			}
		}

		return candidate, nil
	}
}
