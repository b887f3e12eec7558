package rollup

import (
	"context"
	"log/slog"
	"time"

	"github.com/meterlab/tokenmeter/internal/core/storage"
	"github.com/meterlab/tokenmeter/internal/core/usage"
)

// Scheduler drives the rollup engine on periodic intervals.
// It is stateless: each aggregation tick independently resumes from the
// durable watermark, and each retention tick recomputes its cutoff.
type Scheduler struct {
	interval        time.Duration
	cleanupInterval time.Duration
	retention       time.Duration

	aggregator *Aggregator
	sweeper    *Sweeper
	buckets    storage.BucketStore
}

// NewScheduler creates a scheduler running incremental aggregation every
// interval and retention sweeps every cleanupInterval, keeping buckets for
// the given retention duration.
func NewScheduler(
	interval, cleanupInterval, retention time.Duration,
	aggregator *Aggregator,
	sweeper *Sweeper,
	buckets storage.BucketStore,
) *Scheduler {
	return &Scheduler{
		interval:        interval,
		cleanupInterval: cleanupInterval,
		retention:       retention,
		aggregator:      aggregator,
		sweeper:         sweeper,
		buckets:         buckets,
	}
}

// Start begins periodic aggregation and retention sweeps.
// Runs until the context is cancelled, then performs one final aggregation
// pass so shutdown does not strand a partial window.
func (s *Scheduler) Start(ctx context.Context) error {
	aggTicker := time.NewTicker(s.interval)
	defer aggTicker.Stop()

	cleanupTicker := time.NewTicker(s.cleanupInterval)
	defer cleanupTicker.Stop()

	slog.Info("[Scheduler] Starting rollup scheduler",
		"interval", s.interval,
		"cleanup_interval", s.cleanupInterval,
		"retention", s.retention,
	)

	// Initial pass to catch up with any backlog.
	s.runAggregation(ctx)

	for {
		select {
		case <-aggTicker.C:
			s.runAggregation(ctx)
		case <-cleanupTicker.C:
			s.sweeper.CleanupExpiredData(ctx, time.Now().UTC().Add(-s.retention))
		case <-ctx.Done():
			slog.Info("[Scheduler] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			slog.Info("[Scheduler] Running final aggregation before shutdown...")
			s.runAggregation(shutdownCtx)
			slog.Info("[Scheduler] Final aggregation complete")

			return nil
		}
	}
}

// runAggregation aggregates [watermark, now) rounded down to the minute.
// Partial hours are safe: additive merges let the next tick extend the same
// hour bucket.
func (s *Scheduler) runAggregation(ctx context.Context) {
	from, err := s.buckets.Watermark(ctx, usage.DimensionAccessKey)
	if err != nil {
		slog.Error("[Scheduler] Failed to read watermark", "error", err)
		return
	}

	to := time.Now().UTC().Truncate(time.Minute)
	if !to.After(from) {
		return
	}

	result, err := s.aggregator.PerformIncrementalAggregation(ctx, from, to)
	if err != nil {
		slog.Error("[Scheduler] Aggregation tick failed", "from", from, "to", to, "error", err)
		return
	}

	for _, warning := range result.Errors {
		slog.Warn("[Scheduler] Aggregation warning", "warning", warning)
	}
}
