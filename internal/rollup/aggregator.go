package rollup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meterlab/tokenmeter/internal/core/storage"
	"github.com/meterlab/tokenmeter/internal/core/usage"
)

// ErrValidation marks request validation failures that never open a
// transaction. Admin handlers map it to HTTP 400.
var ErrValidation = errors.New("invalid rollup request")

// Aggregator incrementally folds raw usage events into hour/day/month
// buckets for both dimension types.
//
// One invocation is one atomic unit of work: all bucket merges and the
// watermark advance commit together or not at all. Raw events are immutable,
// so the grouped reads may happen outside that transaction without changing
// the rollback guarantee.
type Aggregator struct {
	events  storage.EventStore
	buckets storage.BucketStore
}

// NewAggregator creates an aggregator over the given stores.
func NewAggregator(events storage.EventStore, buckets storage.BucketStore) *Aggregator {
	return &Aggregator{events: events, buckets: buckets}
}

// PerformIncrementalAggregation merges raw events in [from, to) into buckets
// at all three granularities for both dimension types.
//
// Windows that overlap the durable watermark are clamped forward (recorded
// as a warning) rather than double-counted; callers therefore do not need
// perfect non-overlap discipline across repeated invocations. Row-level
// issues (an empty dimension id) are reported in Errors and skipped without
// aborting the batch. Transactional failures roll back everything, are
// appended to Errors, and are returned with Success=false.
func (a *Aggregator) PerformIncrementalAggregation(ctx context.Context, from, to time.Time) (*usage.AggregationResult, error) {
	result := &usage.AggregationResult{Success: true}

	if !to.After(from) {
		result.Success = false
		err := fmt.Errorf("%w: aggregation window end %s must be after start %s",
			ErrValidation, to.Format(time.RFC3339), from.Format(time.RFC3339))
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}

	from, to = from.UTC(), to.UTC()

	clamped, err := a.clampToWatermark(ctx, from)
	if err != nil {
		result.Success = false
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}
	if clamped.After(from) {
		result.Errors = append(result.Errors,
			fmt.Sprintf("window start %s overlapped durable watermark; clamped to %s",
				from.Format(time.RFC3339), clamped.Format(time.RFC3339)))
		from = clamped
	}
	if !to.After(from) {
		// Entire window already aggregated. No-op success.
		slog.Info("[Aggregator] Window fully behind watermark, nothing to do", "to", to)
		return result, nil
	}

	deltas := make(map[usage.BucketKey]usage.Totals)

	for _, dim := range usage.DimensionTypes {
		rows, err := a.events.GroupedHourlyTotals(ctx, dim, from, to)
		if err != nil {
			result.Success = false
			wrapped := fmt.Errorf("read grouped %s totals: %w", dim, err)
			result.Errors = append(result.Errors, wrapped.Error())
			return result, wrapped
		}

		for _, row := range rows {
			if row.DimensionID == "" {
				result.Errors = append(result.Errors,
					fmt.Sprintf("skipped %s summary row at %s: empty dimension id (%d requests)",
						dim, row.HourStart.Format(time.RFC3339), row.Requests))
				continue
			}

			// Every event carries an access key, so the access-key pass
			// counts each raw event exactly once.
			if dim == usage.DimensionAccessKey {
				result.ProcessedRecords += row.Requests
			}

			addHourGroup(deltas, dim, row)
		}
	}

	updated, err := a.buckets.ApplyDeltas(ctx, usage.Window{From: from, To: to}, deltas)
	if err != nil {
		result.Success = false
		wrapped := fmt.Errorf("apply bucket deltas: %w", err)
		result.Errors = append(result.Errors, wrapped.Error())
		return result, wrapped
	}
	result.UpdatedBuckets = updated

	slog.Info("[Aggregator] Incremental aggregation complete",
		"from", from,
		"to", to,
		"processed_records", result.ProcessedRecords,
		"updated_buckets", result.UpdatedBuckets,
		"warnings", len(result.Errors),
	)
	return result, nil
}

// clampToWatermark returns the later of from and both durable watermarks.
func (a *Aggregator) clampToWatermark(ctx context.Context, from time.Time) (time.Time, error) {
	clamped := from
	for _, dim := range usage.DimensionTypes {
		watermark, err := a.buckets.Watermark(ctx, dim)
		if err != nil {
			return time.Time{}, fmt.Errorf("read %s watermark: %w", dim, err)
		}
		if watermark.After(clamped) {
			clamped = watermark
		}
	}
	return clamped, nil
}

// addHourGroup folds one (dimension, hour) summary row into the delta map
// at every granularity. An hour group lies entirely within one hour, one
// day and one month window, so a span crossing bucket boundaries
// contributes each event to exactly one bucket per granularity.
func addHourGroup(deltas map[usage.BucketKey]usage.Totals, dim usage.DimensionType, row usage.DimensionHourUsage) {
	for _, period := range usage.PeriodTypes {
		key := usage.BucketKey{
			DimensionType: dim,
			DimensionID:   row.DimensionID,
			PeriodType:    period,
			PeriodStart:   usage.PeriodStartOf(period, row.HourStart),
		}
		delta := deltas[key]
		delta.Add(row.Totals)
		deltas[key] = delta
	}
}
