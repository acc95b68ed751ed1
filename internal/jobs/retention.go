// Package jobs holds maintenance tasks that run alongside the worker
// pool.
package jobs

import (
	"context"
	"time"

	"countyscrape/internal/metrics"
)

// SnapshotJanitor clears bulky failure payloads from old job rows.
type SnapshotJanitor interface {
	ClearExpiredFailureContexts(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionStats captures the number of records touched by TTL cleanup.
type RetentionStats struct {
	SnapshotsCleared int64 `json:"snapshotsCleared"`
}

// CleanupExpiredSnapshots drops failure snapshots from jobs that
// finished more than days ago so the job table does not grow without
// bound. The rows themselves stay; term history is computed from them.
func CleanupExpiredSnapshots(ctx context.Context, st SnapshotJanitor, days int) RetentionStats {
	stats := RetentionStats{}
	if days <= 0 {
		return stats
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	if n, err := st.ClearExpiredFailureContexts(ctx, cutoff); err == nil && n > 0 {
		stats.SnapshotsCleared = n
		metrics.RecordSnapshotsCleared(n)
	}
	return stats
}
