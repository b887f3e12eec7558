package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTotals_Add(t *testing.T) {
	a := Totals{InputTokens: 100, CacheCreationTokens: 10, CacheReadTokens: 5, OutputTokens: 50, Requests: 1}
	b := Totals{InputTokens: 200, CacheCreationTokens: 0, CacheReadTokens: 0, OutputTokens: 100, Requests: 2}

	a.Add(b)

	require.Equal(t, Totals{
		InputTokens:         300,
		CacheCreationTokens: 10,
		CacheReadTokens:     5,
		OutputTokens:        150,
		Requests:            3,
	}, a)
}

func TestTotals_TotalTokens(t *testing.T) {
	tt := Totals{InputTokens: 300, CacheCreationTokens: 10, CacheReadTokens: 5, OutputTokens: 150, Requests: 3}
	require.Equal(t, int64(465), tt.TotalTokens())
	require.Equal(t, int64(0), Totals{}.TotalTokens())

	// Requests never contributes to the token total.
	require.Equal(t, int64(0), Totals{Requests: 99}.TotalTokens())
}

func TestTotals_IsZero(t *testing.T) {
	require.True(t, Totals{}.IsZero())
	require.False(t, Totals{Requests: 1}.IsZero())
	require.False(t, Totals{InputTokens: 1}.IsZero())
}

func TestParseDimensionType(t *testing.T) {
	got, err := ParseDimensionType("ACCESS_KEY")
	require.NoError(t, err)
	require.Equal(t, DimensionAccessKey, got)

	got, err = ParseDimensionType("USER")
	require.NoError(t, err)
	require.Equal(t, DimensionUser, got)

	_, err = ParseDimensionType("TENANT")
	require.Error(t, err)
	_, err = ParseDimensionType("access_key")
	require.Error(t, err)
}

func TestBucket_Key(t *testing.T) {
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	b := Bucket{
		DimensionType: DimensionAccessKey,
		DimensionID:   "ak_1",
		PeriodType:    PeriodDay,
		PeriodStart:   start,
		PeriodEnd:     time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC),
	}

	require.Equal(t, BucketKey{
		DimensionType: DimensionAccessKey,
		DimensionID:   "ak_1",
		PeriodType:    PeriodDay,
		PeriodStart:   start,
	}, b.Key())
}

func TestWindow_IsEmpty(t *testing.T) {
	now := time.Now().UTC()

	require.True(t, Window{From: now, To: now}.IsEmpty())
	require.True(t, Window{From: now, To: now.Add(-time.Hour)}.IsEmpty())
	require.False(t, Window{From: now, To: now.Add(time.Hour)}.IsEmpty())
}
