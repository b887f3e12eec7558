package v1

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validEvent() UsageEvent {
	return UsageEvent{
		RequestID:           "req-1",
		AccessKeyID:         "ak_1",
		UserID:              "user_1",
		InputTokens:         100,
		CacheCreationTokens: 10,
		CacheReadTokens:     5,
		OutputTokens:        50,
		OccurredAt:          time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestUsageEvent_Validate(t *testing.T) {
	evt := validEvent()
	require.NoError(t, evt.Validate())
}

func TestUsageEvent_Validate_MissingAccessKey(t *testing.T) {
	evt := validEvent()
	evt.AccessKeyID = ""
	require.ErrorContains(t, evt.Validate(), "access_key_id")
}

func TestUsageEvent_Validate_MissingOccurredAt(t *testing.T) {
	evt := validEvent()
	evt.OccurredAt = time.Time{}
	require.ErrorContains(t, evt.Validate(), "occurred_at")
}

func TestUsageEvent_Validate_NegativeCounters(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*UsageEvent)
	}{
		{"input_tokens", func(e *UsageEvent) { e.InputTokens = -1 }},
		{"cache_creation_tokens", func(e *UsageEvent) { e.CacheCreationTokens = -1 }},
		{"cache_read_tokens", func(e *UsageEvent) { e.CacheReadTokens = -1 }},
		{"output_tokens", func(e *UsageEvent) { e.OutputTokens = -1 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			evt := validEvent()
			tc.mutate(&evt)
			require.ErrorContains(t, evt.Validate(), tc.name)
		})
	}
}

func TestUsageEvent_Validate_ZeroCountersAllowed(t *testing.T) {
	evt := validEvent()
	evt.InputTokens = 0
	evt.CacheCreationTokens = 0
	evt.CacheReadTokens = 0
	evt.OutputTokens = 0
	require.NoError(t, evt.Validate())
}

func TestUsageEvent_Validate_UserOptional(t *testing.T) {
	evt := validEvent()
	evt.UserID = ""
	require.NoError(t, evt.Validate())
}
