package rollup

import (
	"context"
	"fmt"
	"sort"
	"time"

	v1 "github.com/meterlab/tokenmeter/internal/api/v1"
	"github.com/meterlab/tokenmeter/internal/core/storage"
	"github.com/meterlab/tokenmeter/internal/core/usage"
)

func storageStaleWindowErr(dim usage.DimensionType, from, watermark time.Time) error {
	return fmt.Errorf("%w: window start %s precedes %s watermark %s",
		storage.ErrStaleWindow, from.Format(time.RFC3339), dim, watermark.Format(time.RFC3339))
}

// fakeEventStore serves grouped reads from an in-memory event slice with the
// same grouping semantics as the SQL queries.
type fakeEventStore struct {
	events []v1.UsageEvent

	groupedErr error
}

func (f *fakeEventStore) SaveEvent(_ context.Context, evt *v1.UsageEvent) error {
	f.events = append(f.events, *evt)
	return nil
}

func dimensionID(evt v1.UsageEvent, dim usage.DimensionType) string {
	if dim == usage.DimensionAccessKey {
		return evt.AccessKeyID
	}
	return evt.UserID
}

func eventTotals(evt v1.UsageEvent) usage.Totals {
	return usage.Totals{
		InputTokens:         evt.InputTokens,
		CacheCreationTokens: evt.CacheCreationTokens,
		CacheReadTokens:     evt.CacheReadTokens,
		OutputTokens:        evt.OutputTokens,
		Requests:            1,
	}
}

func (f *fakeEventStore) GroupedHourlyTotals(_ context.Context, dim usage.DimensionType, from, to time.Time) ([]usage.DimensionHourUsage, error) {
	if f.groupedErr != nil {
		return nil, f.groupedErr
	}

	type groupKey struct {
		id   string
		hour time.Time
	}
	groups := make(map[groupKey]usage.Totals)
	for _, evt := range f.events {
		if evt.OccurredAt.Before(from) || !evt.OccurredAt.Before(to) {
			continue
		}
		key := groupKey{dimensionID(evt, dim), evt.OccurredAt.UTC().Truncate(time.Hour)}
		totals := groups[key]
		totals.Add(eventTotals(evt))
		groups[key] = totals
	}

	var rows []usage.DimensionHourUsage
	for key, totals := range groups {
		rows = append(rows, usage.DimensionHourUsage{DimensionID: key.id, HourStart: key.hour, Totals: totals})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].DimensionID != rows[j].DimensionID {
			return rows[i].DimensionID < rows[j].DimensionID
		}
		return rows[i].HourStart.Before(rows[j].HourStart)
	})
	return rows, nil
}

func (f *fakeEventStore) GroupedByOccurrence(_ context.Context, dim usage.DimensionType, id string, start, end time.Time) ([]usage.OccurrenceUsage, error) {
	if f.groupedErr != nil {
		return nil, f.groupedErr
	}

	groups := make(map[time.Time]usage.Totals)
	for _, evt := range f.events {
		if dimensionID(evt, dim) != id {
			continue
		}
		if evt.OccurredAt.Before(start) || evt.OccurredAt.After(end) {
			continue
		}
		totals := groups[evt.OccurredAt.UTC()]
		totals.Add(eventTotals(evt))
		groups[evt.OccurredAt.UTC()] = totals
	}

	var rows []usage.OccurrenceUsage
	for occurred, totals := range groups {
		rows = append(rows, usage.OccurrenceUsage{OccurredAt: occurred, Totals: totals})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].OccurredAt.Before(rows[j].OccurredAt) })
	return rows, nil
}

func (f *fakeEventStore) FilteredTotals(_ context.Context, filter usage.RawFilter) (usage.Totals, error) {
	var totals usage.Totals
	for _, evt := range f.events {
		if dimensionID(evt, filter.DimensionType) != filter.DimensionID {
			continue
		}
		if evt.OccurredAt.Before(filter.Start) || evt.OccurredAt.After(filter.End) {
			continue
		}
		if filter.Model != "" && evt.Model != filter.Model {
			continue
		}
		if filter.Feature != "" && evt.Feature != filter.Feature {
			continue
		}
		totals.Add(eventTotals(evt))
	}
	return totals, nil
}

// fakeBucketStore mirrors the transactional bucket adapter: additive upserts,
// per-dimension watermarks and stale window rejection.
type fakeBucketStore struct {
	buckets    map[usage.BucketKey]usage.Totals
	watermarks map[usage.DimensionType]time.Time

	applyErr   error
	rebuildErr error
	deleteErr  error
}

func newFakeBucketStore() *fakeBucketStore {
	return &fakeBucketStore{
		buckets:    make(map[usage.BucketKey]usage.Totals),
		watermarks: make(map[usage.DimensionType]time.Time),
	}
}

func (f *fakeBucketStore) ApplyDeltas(_ context.Context, window usage.Window, deltas map[usage.BucketKey]usage.Totals) (int, error) {
	if f.applyErr != nil {
		return 0, f.applyErr
	}
	for _, dim := range usage.DimensionTypes {
		if window.From.Before(f.watermarks[dim]) {
			return 0, storageStaleWindowErr(dim, window.From, f.watermarks[dim])
		}
	}
	for key, delta := range deltas {
		totals := f.buckets[key]
		totals.Add(delta)
		f.buckets[key] = totals
	}
	for _, dim := range usage.DimensionTypes {
		f.watermarks[dim] = window.To
	}
	return len(deltas), nil
}

func (f *fakeBucketStore) Watermark(_ context.Context, dim usage.DimensionType) (time.Time, error) {
	if w, ok := f.watermarks[dim]; ok {
		return w, nil
	}
	return time.Unix(0, 0).UTC(), nil
}

func (f *fakeBucketStore) RebuildRange(_ context.Context, dim usage.DimensionType, id string, start, end time.Time, deltas map[usage.BucketKey]usage.Totals) (int64, error) {
	if f.rebuildErr != nil {
		return 0, f.rebuildErr
	}
	var deleted int64
	for key := range f.buckets {
		if key.DimensionType != dim || key.DimensionID != id {
			continue
		}
		periodEnd := usage.PeriodEndOf(key.PeriodType, key.PeriodStart)
		if !key.PeriodStart.Before(start) && !periodEnd.After(end) {
			delete(f.buckets, key)
			deleted++
		}
	}
	for key, delta := range deltas {
		totals := f.buckets[key]
		totals.Add(delta)
		f.buckets[key] = totals
	}
	return deleted, nil
}

func (f *fakeBucketStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	var deleted int64
	for key := range f.buckets {
		if usage.PeriodEndOf(key.PeriodType, key.PeriodStart).Before(before) {
			delete(f.buckets, key)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeBucketStore) QueryRange(_ context.Context, dim usage.DimensionType, id string, period usage.PeriodType, start, end time.Time) ([]usage.Bucket, error) {
	var out []usage.Bucket
	for key, totals := range f.buckets {
		if key.DimensionType != dim || key.DimensionID != id || key.PeriodType != period {
			continue
		}
		if key.PeriodStart.Before(start) || !key.PeriodStart.Before(end) {
			continue
		}
		out = append(out, bucketFor(key, totals))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out, nil
}

func (f *fakeBucketStore) FindByDimension(_ context.Context, dim usage.DimensionType, id string, period usage.PeriodType, start, end *time.Time) ([]usage.Bucket, error) {
	var out []usage.Bucket
	for key, totals := range f.buckets {
		if key.DimensionType != dim || key.DimensionID != id || key.PeriodType != period {
			continue
		}
		if start != nil && key.PeriodStart.Before(*start) {
			continue
		}
		if end != nil && key.PeriodStart.After(*end) {
			continue
		}
		out = append(out, bucketFor(key, totals))
	}
	sort.Slice(out, func(i, j int) bool { return out[j].PeriodStart.Before(out[i].PeriodStart) })
	return out, nil
}

func (f *fakeBucketStore) TrendData(_ context.Context, dim usage.DimensionType, id string, period usage.PeriodType, start, end time.Time, limit int) ([]usage.Bucket, error) {
	var out []usage.Bucket
	for key, totals := range f.buckets {
		if key.DimensionType != dim || key.DimensionID != id || key.PeriodType != period {
			continue
		}
		if key.PeriodStart.Before(start) || key.PeriodStart.After(end) {
			continue
		}
		out = append(out, bucketFor(key, totals))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeBucketStore) SystemTotals(_ context.Context, start, end time.Time, period usage.PeriodType) (usage.Totals, error) {
	var totals usage.Totals
	for key, bucketTotals := range f.buckets {
		if key.DimensionType != usage.DimensionAccessKey || key.PeriodType != period {
			continue
		}
		if key.PeriodStart.Before(start) || key.PeriodStart.After(end) {
			continue
		}
		totals.Add(bucketTotals)
	}
	return totals, nil
}

func bucketFor(key usage.BucketKey, totals usage.Totals) usage.Bucket {
	return usage.Bucket{
		DimensionType: key.DimensionType,
		DimensionID:   key.DimensionID,
		PeriodType:    key.PeriodType,
		PeriodStart:   key.PeriodStart,
		PeriodEnd:     usage.PeriodEndOf(key.PeriodType, key.PeriodStart),
		Totals:        totals,
	}
}
