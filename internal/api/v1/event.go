package v1

import (
	"fmt"
	"time"
)

// UsageEvent is one metered API call. Events are immutable once ingested:
// the rollup engine only ever reads them.
//
// A single event carries both dimension columns (access key and end-user);
// the aggregation routine selects one per pass rather than duplicating the
// event per dimension.
type UsageEvent struct {
	// RequestID is the client-supplied idempotency key. Ingestion assigns a
	// UUID when the client omits it.
	RequestID string `json:"request_id"`

	// AccessKeyID identifies the API credential that made the call. Required.
	AccessKeyID string `json:"access_key_id"`

	// UserID identifies the end-user the call was made on behalf of.
	// Optional: service-to-service traffic has no end-user.
	UserID string `json:"user_id,omitempty"`

	InputTokens         int64 `json:"input_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens"`
	OutputTokens        int64 `json:"output_tokens"`

	// OccurredAt is when the call happened (client-side clock). It decides
	// which hour/day/month buckets the event rolls up into.
	OccurredAt time.Time `json:"occurred_at"`

	// IngestedAt is when the event was received. Set by the server.
	IngestedAt time.Time `json:"ingested_at"`

	Model      string `json:"model,omitempty"`
	Feature    string `json:"feature,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`

	// IngestSeq is a monotonic sequence assigned by the database.
	// Not exposed in the public API.
	IngestSeq int64 `json:"-"`
}

// Validate ensures the event envelope is complete and counters are sane.
func (e *UsageEvent) Validate() error {
	if e.AccessKeyID == "" {
		return fmt.Errorf("access_key_id is required")
	}

	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}

	for name, v := range map[string]int64{
		"input_tokens":          e.InputTokens,
		"cache_creation_tokens": e.CacheCreationTokens,
		"cache_read_tokens":     e.CacheReadTokens,
		"output_tokens":         e.OutputTokens,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	return nil
}
