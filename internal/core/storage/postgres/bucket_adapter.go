package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/meterlab/tokenmeter/internal/core/storage"
	"github.com/meterlab/tokenmeter/internal/core/usage"
)

// BucketAdapter implements storage.BucketStore using PostgreSQL.
// Delta application and watermark advancement share a single transaction —
// the atomicity contract that makes crashed or raced runs safe to retry.
type BucketAdapter struct {
	db *sql.DB
}

// NewBucketAdapter creates a new BucketAdapter sharing the given connection.
func NewBucketAdapter(db *sql.DB) *BucketAdapter {
	return &BucketAdapter{db: db}
}

// ApplyDeltas merges every delta into its bucket via upsert-with-increment
// and advances both dimension watermarks to window.To, all in one
// transaction. Watermark rows are locked first, in fixed dimension order,
// and a window starting before a durable watermark aborts with
// storage.ErrStaleWindow — applying it would double-count.
func (a *BucketAdapter) ApplyDeltas(ctx context.Context, window usage.Window, deltas map[usage.BucketKey]usage.Totals) (int, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("bucket apply: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()

	for _, dim := range usage.DimensionTypes {
		durable, err := lockWatermark(ctx, tx, dim, now)
		if err != nil {
			return 0, err
		}
		if window.From.Before(durable) {
			return 0, fmt.Errorf("%w: window start %s precedes %s watermark %s",
				storage.ErrStaleWindow, window.From.Format(time.RFC3339), dim, durable.Format(time.RFC3339))
		}
	}

	if len(deltas) > 0 {
		upsertStmt, err := tx.PrepareContext(ctx, queryUpsertBucket)
		if err != nil {
			return 0, fmt.Errorf("bucket apply: prepare upsert: %w", err)
		}
		defer upsertStmt.Close()

		for _, key := range sortedDeltaKeys(deltas) {
			delta := deltas[key]
			if _, err := upsertStmt.ExecContext(ctx,
				key.DimensionType,
				key.DimensionID,
				key.PeriodType,
				key.PeriodStart,
				usage.PeriodEndOf(key.PeriodType, key.PeriodStart),
				delta.InputTokens,
				delta.CacheCreationTokens,
				delta.CacheReadTokens,
				delta.OutputTokens,
				delta.Requests,
				now,
			); err != nil {
				return 0, fmt.Errorf("bucket apply: upsert %v: %w", key, err)
			}
		}
	}

	for _, dim := range usage.DimensionTypes {
		if err := advanceWatermark(ctx, tx, dim, window.To, now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("bucket apply: commit: %w", err)
	}

	slog.Info("[BucketAdapter] Applied deltas",
		"buckets", len(deltas),
		"window_from", window.From,
		"window_to", window.To,
	)
	return len(deltas), nil
}

// lockWatermark selects a dimension's watermark row FOR UPDATE, creating it
// on first use.
func lockWatermark(ctx context.Context, tx *sql.Tx, dim usage.DimensionType, now time.Time) (time.Time, error) {
	var durable time.Time
	err := tx.QueryRowContext(ctx, querySelectWatermarkForUpdate, dim).Scan(&durable)
	if err == sql.ErrNoRows {
		if _, err := tx.ExecContext(ctx, queryInitWatermarkRow, dim, now); err != nil {
			return time.Time{}, fmt.Errorf("bucket apply: init %s watermark row: %w", dim, err)
		}
		if err := tx.QueryRowContext(ctx, querySelectWatermarkForUpdate, dim).Scan(&durable); err != nil {
			return time.Time{}, fmt.Errorf("bucket apply: read initialized %s watermark: %w", dim, err)
		}
		return durable.UTC(), nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("bucket apply: read %s watermark for update: %w", dim, err)
	}
	return durable.UTC(), nil
}

func advanceWatermark(ctx context.Context, tx *sql.Tx, dim usage.DimensionType, to, now time.Time) error {
	result, err := tx.ExecContext(ctx, queryUpdateWatermark, to, now, dim)
	if err != nil {
		return fmt.Errorf("bucket apply: write %s watermark: %w", dim, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("bucket apply: check %s watermark write: %w", dim, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("bucket apply: %s watermark row missing", dim)
	}
	return nil
}

// Watermark returns the durable aggregation boundary for a dimension type.
// Returns the Unix epoch when no aggregation has run yet.
func (a *BucketAdapter) Watermark(ctx context.Context, dim usage.DimensionType) (time.Time, error) {
	var watermark time.Time
	err := a.db.QueryRowContext(ctx, queryReadWatermark, dim).Scan(&watermark)
	if err == sql.ErrNoRows {
		return time.Unix(0, 0).UTC(), nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read %s watermark: %w", dim, err)
	}
	return watermark.UTC(), nil
}

// RebuildRange deletes every bucket for the dimension whose full period lies
// inside [start, end], then upserts the recomputed deltas. One transaction;
// repeated runs over the same range converge to identical state.
func (a *BucketAdapter) RebuildRange(ctx context.Context, dim usage.DimensionType, dimensionID string, start, end time.Time, deltas map[usage.BucketKey]usage.Totals) (int64, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("bucket rebuild: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := tx.ExecContext(ctx, queryDeleteBucketsInRange, dim, dimensionID, start, end)
	if err != nil {
		return 0, fmt.Errorf("bucket rebuild: delete range: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bucket rebuild: count deleted: %w", err)
	}

	now := time.Now().UTC()

	if len(deltas) > 0 {
		upsertStmt, err := tx.PrepareContext(ctx, queryUpsertBucket)
		if err != nil {
			return 0, fmt.Errorf("bucket rebuild: prepare upsert: %w", err)
		}
		defer upsertStmt.Close()

		for _, key := range sortedDeltaKeys(deltas) {
			delta := deltas[key]
			if _, err := upsertStmt.ExecContext(ctx,
				key.DimensionType,
				key.DimensionID,
				key.PeriodType,
				key.PeriodStart,
				usage.PeriodEndOf(key.PeriodType, key.PeriodStart),
				delta.InputTokens,
				delta.CacheCreationTokens,
				delta.CacheReadTokens,
				delta.OutputTokens,
				delta.Requests,
				now,
			); err != nil {
				return 0, fmt.Errorf("bucket rebuild: upsert %v: %w", key, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("bucket rebuild: commit: %w", err)
	}

	slog.Info("[BucketAdapter] Rebuilt range",
		"dimension_type", dim,
		"dimension_id", dimensionID,
		"deleted", deleted,
		"rebuilt", len(deltas),
	)
	return deleted, nil
}

// DeleteExpired bulk-deletes buckets whose period ended before the cutoff.
func (a *BucketAdapter) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := a.db.ExecContext(ctx, queryDeleteExpiredBuckets, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired buckets: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count expired buckets: %w", err)
	}
	return deleted, nil
}

// QueryRange fetches one granularity's buckets with period_start in
// [start, end), ordered ascending. Pre-aggregated query path.
func (a *BucketAdapter) QueryRange(ctx context.Context, dim usage.DimensionType, dimensionID string, period usage.PeriodType, start, end time.Time) ([]usage.Bucket, error) {
	return a.queryBuckets(ctx, queryRangeBuckets, dim, dimensionID, period, start, end)
}

// FindByDimension lists buckets for a dimension value, optionally bounded,
// most recent first.
func (a *BucketAdapter) FindByDimension(ctx context.Context, dim usage.DimensionType, dimensionID string, period usage.PeriodType, start, end *time.Time) ([]usage.Bucket, error) {
	var startArg, endArg sql.NullTime
	if start != nil {
		startArg = sql.NullTime{Time: *start, Valid: true}
	}
	if end != nil {
		endArg = sql.NullTime{Time: *end, Valid: true}
	}
	return a.queryBuckets(ctx, queryFindByDimension, dim, dimensionID, period, startArg, endArg)
}

// TrendData returns up to limit buckets ordered by period_start ascending.
func (a *BucketAdapter) TrendData(ctx context.Context, dim usage.DimensionType, dimensionID string, period usage.PeriodType, start, end time.Time, limit int) ([]usage.Bucket, error) {
	return a.queryBuckets(ctx, queryTrendBuckets, dim, dimensionID, period, start, end, limit)
}

func (a *BucketAdapter) queryBuckets(ctx context.Context, query string, dim usage.DimensionType, dimensionID string, period usage.PeriodType, extra ...interface{}) ([]usage.Bucket, error) {
	args := append([]interface{}{dim, dimensionID, period}, extra...)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	defer rows.Close()

	var buckets []usage.Bucket
	for rows.Next() {
		b, err := scanBucketRow(rows)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bucket rows: %w", err)
	}

	return buckets, nil
}

// SystemTotals sums access-key buckets of one granularity across all
// dimension values. COALESCE guarantees zero-filled counters, never nulls.
func (a *BucketAdapter) SystemTotals(ctx context.Context, start, end time.Time, period usage.PeriodType) (usage.Totals, error) {
	var t usage.Totals
	err := a.db.QueryRowContext(ctx, querySystemTotals, period, start, end).Scan(
		&t.InputTokens,
		&t.CacheCreationTokens,
		&t.CacheReadTokens,
		&t.OutputTokens,
		&t.Requests,
	)
	if err != nil {
		return usage.Totals{}, fmt.Errorf("query system totals: %w", err)
	}
	return t, nil
}
