package postgres

import (
	"fmt"
	"sort"

	"github.com/meterlab/tokenmeter/internal/core/usage"
)

// dimensionColumn maps a dimension type to its usage_events column.
// Grouped queries interpolate the column name, so this is the only place a
// dimension string may enter SQL text.
func dimensionColumn(dim usage.DimensionType) (string, error) {
	switch dim {
	case usage.DimensionAccessKey:
		return "access_key_id", nil
	case usage.DimensionUser:
		return "user_id", nil
	default:
		return "", fmt.Errorf("unknown dimension type %q", dim)
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanBucketRow scans one usage_buckets row.
// Compatible with both sql.Row and sql.Rows.
func scanBucketRow(row scanner) (usage.Bucket, error) {
	var b usage.Bucket
	err := row.Scan(
		&b.DimensionType,
		&b.DimensionID,
		&b.PeriodType,
		&b.PeriodStart,
		&b.PeriodEnd,
		&b.InputTokens,
		&b.CacheCreationTokens,
		&b.CacheReadTokens,
		&b.OutputTokens,
		&b.Requests,
		&b.LastUpdateTime,
	)
	if err != nil {
		return usage.Bucket{}, fmt.Errorf("failed to scan bucket row: %w", err)
	}
	b.PeriodStart = b.PeriodStart.UTC()
	b.PeriodEnd = b.PeriodEnd.UTC()
	b.LastUpdateTime = b.LastUpdateTime.UTC()
	return b, nil
}

// sortedDeltaKeys returns delta keys in a stable global order.
// Applying upserts in one fixed order keeps concurrent transactions from
// deadlocking on row locks.
func sortedDeltaKeys(deltas map[usage.BucketKey]usage.Totals) []usage.BucketKey {
	keys := make([]usage.BucketKey, 0, len(deltas))
	for key := range deltas {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.DimensionType != b.DimensionType {
			return a.DimensionType < b.DimensionType
		}
		if a.DimensionID != b.DimensionID {
			return a.DimensionID < b.DimensionID
		}
		if a.PeriodType != b.PeriodType {
			return a.PeriodType < b.PeriodType
		}
		return a.PeriodStart.Before(b.PeriodStart)
	})
	return keys
}
