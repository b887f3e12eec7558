package usage

import (
	"fmt"
	"time"
)

// DimensionType is the entity a usage event is attributed to.
type DimensionType string

const (
	DimensionAccessKey DimensionType = "ACCESS_KEY"
	DimensionUser      DimensionType = "USER"
)

// DimensionTypes lists both dimensions in the fixed order aggregation
// processes them. The order also determines watermark lock order.
var DimensionTypes = []DimensionType{DimensionAccessKey, DimensionUser}

// ParseDimensionType parses a dimension type string from a request.
func ParseDimensionType(s string) (DimensionType, error) {
	switch DimensionType(s) {
	case DimensionAccessKey, DimensionUser:
		return DimensionType(s), nil
	default:
		return "", fmt.Errorf("unknown dimension type %q (must be ACCESS_KEY or USER)", s)
	}
}

// Valid reports whether d is a known dimension type.
func (d DimensionType) Valid() bool {
	return d == DimensionAccessKey || d == DimensionUser
}

// Totals holds the additive token and request counters shared by buckets,
// deltas and query results. The grand total is derived, never stored.
type Totals struct {
	InputTokens         int64 `json:"total_input_tokens"`
	CacheCreationTokens int64 `json:"total_cache_creation_tokens"`
	CacheReadTokens     int64 `json:"total_cache_read_tokens"`
	OutputTokens        int64 `json:"total_output_tokens"`
	Requests            int64 `json:"total_requests"`
}

// Add folds other into t. Merge, not overwrite.
func (t *Totals) Add(other Totals) {
	t.InputTokens += other.InputTokens
	t.CacheCreationTokens += other.CacheCreationTokens
	t.CacheReadTokens += other.CacheReadTokens
	t.OutputTokens += other.OutputTokens
	t.Requests += other.Requests
}

// TotalTokens is the sum of the four token counters.
func (t Totals) TotalTokens() int64 {
	return t.InputTokens + t.CacheCreationTokens + t.CacheReadTokens + t.OutputTokens
}

// IsZero reports whether every counter is zero.
func (t Totals) IsZero() bool {
	return t == Totals{}
}

// BucketKey uniquely identifies one aggregate bucket.
type BucketKey struct {
	DimensionType DimensionType
	DimensionID   string
	PeriodType    PeriodType
	PeriodStart   time.Time
}

// Bucket is one pre-computed, additively maintained aggregate row.
type Bucket struct {
	DimensionType DimensionType `json:"dimension_type"`
	DimensionID   string        `json:"dimension_id"`
	PeriodType    PeriodType    `json:"period_type"`
	PeriodStart   time.Time     `json:"period_start"`
	PeriodEnd     time.Time     `json:"period_end"`
	Totals
	LastUpdateTime time.Time `json:"last_update_time"`
}

// Key returns the composite key identifying this bucket.
func (b Bucket) Key() BucketKey {
	return BucketKey{
		DimensionType: b.DimensionType,
		DimensionID:   b.DimensionID,
		PeriodType:    b.PeriodType,
		PeriodStart:   b.PeriodStart,
	}
}

// Window is a half-open aggregation time span [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// IsEmpty reports whether the window contains no instants.
func (w Window) IsEmpty() bool {
	return !w.To.After(w.From)
}

// DimensionHourUsage is one grouped summary row read from the raw event
// store: all events for one dimension value within one clock hour.
type DimensionHourUsage struct {
	DimensionID string
	HourStart   time.Time
	Totals
}

// OccurrenceUsage groups raw events sharing one exact occurrence timestamp.
// Rebuild reads these instead of hour groups.
type OccurrenceUsage struct {
	OccurredAt time.Time
	Totals
}

// RawFilter scopes a real-time scan over raw events.
// Model and Feature are optional; empty means no filter.
type RawFilter struct {
	DimensionType DimensionType
	DimensionID   string
	Start         time.Time
	End           time.Time
	Model         string
	Feature       string
}

// AggregationResult reports the outcome of one incremental aggregation run.
// Callers must check Success: recoverable row-level issues are reported in
// Errors without failing the batch.
type AggregationResult struct {
	Success          bool     `json:"success"`
	ProcessedRecords int64    `json:"processed_records"`
	UpdatedBuckets   int      `json:"updated_buckets"`
	Errors           []string `json:"errors"`
}

// RebuildResult reports the outcome of one delete-and-recompute run.
type RebuildResult struct {
	Success        bool     `json:"success"`
	RebuiltBuckets int      `json:"rebuilt_buckets"`
	DeletedBuckets int64    `json:"deleted_buckets"`
	Errors         []string `json:"errors"`
}
