package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/meterlab/tokenmeter/internal/api/v1"
	"github.com/meterlab/tokenmeter/internal/core/usage"
)

// ErrDuplicate is returned when an event with the same request_id already exists.
var ErrDuplicate = errors.New("usage event already exists")

// ErrStaleWindow is returned when an aggregation window overlaps the durable
// watermark. Applying it would double-count tokens that a previous run
// already merged, so the whole transaction is rolled back.
var ErrStaleWindow = errors.New("aggregation window overlaps durable watermark")

// EventStore is the raw event store: append-only, read-only for the rollup
// engine apart from ingestion's SaveEvent.
type EventStore interface {
	// SaveEvent persists an event and populates IngestSeq.
	// Returns ErrDuplicate when the request_id was already ingested.
	SaveEvent(ctx context.Context, event *v1.UsageEvent) error

	// GroupedHourlyTotals reads events in [from, to) grouped by dimension
	// value and clock hour. Hour groups nest exactly into day and month
	// windows, so the aggregator derives all three granularities from one
	// read without double-counting across bucket boundaries.
	GroupedHourlyTotals(ctx context.Context, dim usage.DimensionType, from, to time.Time) ([]usage.DimensionHourUsage, error)

	// GroupedByOccurrence reads events for one dimension value in
	// [start, end] (inclusive bounds) grouped by exact occurrence timestamp.
	// Used by rebuild.
	GroupedByOccurrence(ctx context.Context, dim usage.DimensionType, dimensionID string, start, end time.Time) ([]usage.OccurrenceUsage, error)

	// FilteredTotals scans raw events with full filter support (model,
	// feature, arbitrary date bounds). Counters are zero-filled, never null.
	FilteredTotals(ctx context.Context, f usage.RawFilter) (usage.Totals, error)
}

// BucketStore is the aggregate store: bucket rows keyed by
// (dimension_type, dimension_id, period_type, period_start).
//
// Contract: ApplyDeltas and RebuildRange are single database transactions.
// No partial bucket updates survive a failed run, and merges use atomic
// upsert-with-increment so concurrent writers never lose updates.
type BucketStore interface {
	// ApplyDeltas additively merges every delta into its bucket and advances
	// the per-dimension watermarks to window.To, all in one transaction.
	// Returns ErrStaleWindow (and rolls back) if window.From precedes a
	// durable watermark.
	ApplyDeltas(ctx context.Context, window usage.Window, deltas map[usage.BucketKey]usage.Totals) (int, error)

	// Watermark returns the latest boundary up to which incremental
	// aggregation has been durably applied for a dimension type.
	// The zero epoch means "nothing aggregated yet".
	Watermark(ctx context.Context, dim usage.DimensionType) (time.Time, error)

	// RebuildRange deletes every bucket for the dimension whose
	// [period_start, period_end] lies inside [start, end], then upserts the
	// recomputed deltas. One transaction; idempotent over repeated runs.
	RebuildRange(ctx context.Context, dim usage.DimensionType, dimensionID string, start, end time.Time, deltas map[usage.BucketKey]usage.Totals) (int64, error)

	// DeleteExpired bulk-deletes buckets with period_end < before.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)

	// QueryRange returns buckets of one granularity for a dimension value
	// with period_start in [start, end), ordered ascending.
	QueryRange(ctx context.Context, dim usage.DimensionType, dimensionID string, period usage.PeriodType, start, end time.Time) ([]usage.Bucket, error)

	// FindByDimension lists buckets for a dimension value, optionally
	// bounded by period_start, most recent first.
	FindByDimension(ctx context.Context, dim usage.DimensionType, dimensionID string, period usage.PeriodType, start, end *time.Time) ([]usage.Bucket, error)

	// TrendData returns up to limit buckets ordered by period_start ascending.
	TrendData(ctx context.Context, dim usage.DimensionType, dimensionID string, period usage.PeriodType, start, end time.Time, limit int) ([]usage.Bucket, error)

	// SystemTotals sums access-key buckets of one granularity across all
	// dimension values. Zero-filled when no data exists.
	SystemTotals(ctx context.Context, start, end time.Time, period usage.PeriodType) (usage.Totals, error)
}
