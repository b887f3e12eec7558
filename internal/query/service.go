package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meterlab/tokenmeter/internal/core/storage"
	"github.com/meterlab/tokenmeter/internal/core/usage"
	"github.com/meterlab/tokenmeter/internal/pricing"
)

// realtimeWindowLimit is the routing threshold: ranges longer than this are
// always served from buckets, whatever filters are present.
const realtimeWindowLimit = 7 * 24 * time.Hour

// ErrInvalidQuery marks request validation errors that should return HTTP 400.
var ErrInvalidQuery = errors.New("invalid usage query")

// Service is the query layer. Per request it routes between a real-time raw
// event scan and a pre-aggregated bucket read; there is no silent fallback
// between the two paths.
type Service struct {
	events  storage.EventStore
	buckets storage.BucketStore
	prices  *pricing.Table
}

// NewService creates a query service. prices may be nil; summaries then
// carry no cost estimate.
func NewService(events storage.EventStore, buckets storage.BucketStore, prices *pricing.Table) *Service {
	return &Service{events: events, buckets: buckets, prices: prices}
}

// usePreAggregated is the routing rule: buckets serve ranges longer than
// seven days, and any range without model/feature filters. Short filtered
// windows force a raw scan, since buckets keep no per-model or per-feature
// breakdown.
func usePreAggregated(f UsageFilter) bool {
	if f.End.Sub(f.Start) > realtimeWindowLimit {
		return true
	}
	return f.Model == "" && f.Feature == ""
}

// Summary answers a usage query via whichever path the routing rule picks.
// Both paths return the same shape; CalculationMethod records which one ran.
func (s *Service) Summary(ctx context.Context, f UsageFilter) (*UsageSummary, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}

	var (
		totals usage.Totals
		method string
		err    error
	)

	if usePreAggregated(f) {
		method = MethodPreAggregated
		totals, err = s.preAggregatedTotals(ctx, f)
	} else {
		method = MethodRealTime
		totals, err = s.events.FilteredTotals(ctx, usage.RawFilter{
			DimensionType: f.DimensionType,
			DimensionID:   f.DimensionID,
			Start:         f.Start,
			End:           f.End,
			Model:         f.Model,
			Feature:       f.Feature,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("%s usage query: %w", method, err)
	}

	summary := &UsageSummary{
		DimensionType:     f.DimensionType,
		DimensionID:       f.DimensionID,
		Start:             f.Start,
		End:               f.End,
		Totals:            totals,
		TotalTokens:       totals.TotalTokens(),
		CalculationMethod: method,
	}

	// A model-scoped real-time result is priceable: every counted token
	// belongs to the filtered model.
	if method == MethodRealTime && f.Model != "" && s.prices != nil {
		if cost, ok := s.prices.Estimate(f.Model, totals); ok {
			summary.EstimatedCost = &cost
		}
	}

	slog.Debug("[Query] Usage summary served",
		"dimension_type", f.DimensionType,
		"dimension_id", f.DimensionID,
		"calculation_method", method,
		"total_tokens", summary.TotalTokens,
	)
	return summary, nil
}

// preAggregatedTotals sums matching buckets client-side. Cost is
// proportional to buckets in range, independent of raw event volume.
func (s *Service) preAggregatedTotals(ctx context.Context, f UsageFilter) (usage.Totals, error) {
	period := usage.OptimalPeriodType(f.Start, f.End)

	buckets, err := s.buckets.QueryRange(ctx, f.DimensionType, f.DimensionID, period,
		usage.PeriodStartOf(period, f.Start), f.End)
	if err != nil {
		return usage.Totals{}, err
	}

	var totals usage.Totals
	for _, b := range buckets {
		totals.Add(b.Totals)
	}
	return totals, nil
}

// FindByDimension lists buckets for a dimension value, optionally bounded
// by period_start, most recent first.
func (s *Service) FindByDimension(ctx context.Context, dim usage.DimensionType, dimensionID string, period usage.PeriodType, start, end *time.Time) ([]usage.Bucket, error) {
	if !dim.Valid() {
		return nil, invalidQueryf("unknown dimension type %q", string(dim))
	}
	if dimensionID == "" {
		return nil, invalidQueryf("dimension id is required")
	}
	if !period.Valid() {
		return nil, invalidQueryf("unknown period type %q", string(period))
	}

	return s.buckets.FindByDimension(ctx, dim, dimensionID, period, start, end)
}

// Trend returns up to limit buckets ordered by period_start ascending.
// When the caller does not pin a period type, the optimal one for the span
// is chosen: hourly up to 7 days, daily up to 90, monthly beyond.
func (s *Service) Trend(ctx context.Context, dim usage.DimensionType, dimensionID string, period usage.PeriodType, start, end time.Time, limit int) (*TrendResponse, error) {
	if !dim.Valid() {
		return nil, invalidQueryf("unknown dimension type %q", string(dim))
	}
	if dimensionID == "" {
		return nil, invalidQueryf("dimension id is required")
	}
	if !end.After(start) {
		return nil, invalidQueryf("end time must be after start time")
	}
	if period == "" {
		period = usage.OptimalPeriodType(start, end)
	} else if !period.Valid() {
		return nil, invalidQueryf("unknown period type %q", string(period))
	}
	if limit <= 0 {
		limit = defaultTrendLimit
	}

	buckets, err := s.buckets.TrendData(ctx, dim, dimensionID, period, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("trend query: %w", err)
	}

	return &TrendResponse{
		DimensionType: dim,
		DimensionID:   dimensionID,
		PeriodType:    period,
		Start:         start,
		End:           end,
		Buckets:       buckets,
	}, nil
}

const defaultTrendLimit = 500

// SystemTotals reports system-wide totals for a date range.
// Zero-filled when no data exists: counters are never null.
func (s *Service) SystemTotals(ctx context.Context, start, end time.Time, period usage.PeriodType) (*SystemTotalsResponse, error) {
	if !end.After(start) {
		return nil, invalidQueryf("end time must be after start time")
	}
	if period == "" {
		period = usage.PeriodDay
	} else if !period.Valid() {
		return nil, invalidQueryf("unknown period type %q", string(period))
	}

	totals, err := s.buckets.SystemTotals(ctx, start, end, period)
	if err != nil {
		return nil, fmt.Errorf("system totals query: %w", err)
	}

	return &SystemTotalsResponse{
		PeriodType:  period,
		Start:       start,
		End:         end,
		Totals:      totals,
		TotalTokens: totals.TotalTokens(),
	}, nil
}

func validateFilter(f UsageFilter) error {
	if !f.DimensionType.Valid() {
		return invalidQueryf("unknown dimension type %q", string(f.DimensionType))
	}
	if f.DimensionID == "" {
		return invalidQueryf("dimension id is required")
	}
	if !f.End.After(f.Start) {
		return invalidQueryf("end time must be after start time")
	}
	return nil
}

func invalidQueryf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}
