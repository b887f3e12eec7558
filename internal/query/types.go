package query

import (
	"time"

	"github.com/meterlab/tokenmeter/internal/core/usage"
	"github.com/shopspring/decimal"
)

// Calculation method metadata. Observability, not correctness: both paths
// return the same result shape.
const (
	MethodPreAggregated = "pre_aggregated"
	MethodRealTime      = "real_time"
)

// UsageFilter scopes a usage summary query.
// Model and Feature are optional; setting either forces the real-time path
// for short ranges, since buckets keep no per-model/per-feature breakdown.
type UsageFilter struct {
	DimensionType usage.DimensionType
	DimensionID   string
	Start         time.Time
	End           time.Time
	Model         string
	Feature       string
}

// UsageSummary is the result of a usage query. Identical shape regardless
// of which path produced it.
type UsageSummary struct {
	DimensionType usage.DimensionType `json:"dimension_type"`
	DimensionID   string              `json:"dimension_id"`
	Start         time.Time           `json:"start"`
	End           time.Time           `json:"end"`
	usage.Totals
	TotalTokens       int64            `json:"total_tokens"`
	CalculationMethod string           `json:"calculation_method"`
	EstimatedCost     *decimal.Decimal `json:"estimated_cost,omitempty"`
}

// TrendResponse is a trend query result: buckets ordered by period_start
// ascending at the resolved granularity.
type TrendResponse struct {
	DimensionType usage.DimensionType `json:"dimension_type"`
	DimensionID   string              `json:"dimension_id"`
	PeriodType    usage.PeriodType    `json:"period_type"`
	Start         time.Time           `json:"start"`
	End           time.Time           `json:"end"`
	Buckets       []usage.Bucket      `json:"buckets"`
}

// SystemTotalsResponse reports system-wide totals. Counters are always
// zero-filled, never null.
type SystemTotalsResponse struct {
	PeriodType usage.PeriodType `json:"period_type"`
	Start      time.Time        `json:"start"`
	End        time.Time        `json:"end"`
	usage.Totals
	TotalTokens int64 `json:"total_tokens"`
}
