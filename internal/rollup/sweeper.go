package rollup

import (
	"context"
	"log/slog"
	"time"

	"github.com/meterlab/tokenmeter/internal/core/storage"
)

// Sweeper purges buckets whose period has expired.
type Sweeper struct {
	buckets storage.BucketStore
}

// NewSweeper creates a sweeper over the given bucket store.
func NewSweeper(buckets storage.BucketStore) *Sweeper {
	return &Sweeper{buckets: buckets}
}

// CleanupExpiredData deletes all buckets with period_end < before in one
// bulk operation. Best effort: a storage failure is logged and reported as
// zero deletions, never as a partial sweep (the delete is all-or-nothing at
// the storage layer).
func (s *Sweeper) CleanupExpiredData(ctx context.Context, before time.Time) int64 {
	deleted, err := s.buckets.DeleteExpired(ctx, before)
	if err != nil {
		slog.Error("[Sweeper] Retention cleanup failed", "before", before, "error", err)
		return 0
	}

	if deleted > 0 {
		slog.Info("[Sweeper] Purged expired buckets", "before", before, "deleted", deleted)
	}
	return deleted
}
