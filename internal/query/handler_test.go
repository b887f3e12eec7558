package query

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	httperr "github.com/meterlab/tokenmeter/internal/core/errors"
	"github.com/meterlab/tokenmeter/internal/core/usage"
	"github.com/stretchr/testify/require"
)

func newTestRouter(events *stubEventStore, buckets *stubBucketStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := NewService(events, buckets, nil)
	r := gin.New()
	svc.RegisterRoutes(r)
	return r
}

func get(t *testing.T, r *gin.Engine, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestHandleSummary(t *testing.T) {
	buckets := &stubBucketStore{buckets: []usage.Bucket{
		{Totals: usage.Totals{InputTokens: 300, OutputTokens: 150, Requests: 3}},
	}}
	r := newTestRouter(&stubEventStore{}, buckets)

	resp := get(t, r, "/v1/usage/summary?dimension_type=ACCESS_KEY&dimension_id=ak_1"+
		"&start=2024-01-15T00:00:00Z&end=2024-01-16T00:00:00Z")
	require.Equal(t, http.StatusOK, resp.Code)

	var summary UsageSummary
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &summary))
	require.Equal(t, MethodPreAggregated, summary.CalculationMethod)
	require.Equal(t, int64(450), summary.TotalTokens)
}

func TestHandleSummary_ModelFilterUsesRealTime(t *testing.T) {
	events := &stubEventStore{totals: usage.Totals{InputTokens: 10, Requests: 1}}
	r := newTestRouter(events, &stubBucketStore{})

	resp := get(t, r, "/v1/usage/summary?dimension_type=ACCESS_KEY&dimension_id=ak_1"+
		"&start=2024-01-15T00:00:00Z&end=2024-01-16T00:00:00Z&model=model-a")
	require.Equal(t, http.StatusOK, resp.Code)

	var summary UsageSummary
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &summary))
	require.Equal(t, MethodRealTime, summary.CalculationMethod)
	require.Equal(t, 1, events.filteredCalls)
}

func TestHandleSummary_MissingParams(t *testing.T) {
	r := newTestRouter(&stubEventStore{}, &stubBucketStore{})

	resp := get(t, r, "/v1/usage/summary?dimension_type=ACCESS_KEY")
	require.Equal(t, http.StatusBadRequest, resp.Code)

	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, httperr.HttpInvalidQueryError, errResp.ErrorType)
}

func TestHandleSummary_UnknownDimension(t *testing.T) {
	r := newTestRouter(&stubEventStore{}, &stubBucketStore{})

	resp := get(t, r, "/v1/usage/summary?dimension_type=TENANT&dimension_id=t1"+
		"&start=2024-01-15T00:00:00Z&end=2024-01-16T00:00:00Z")
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandleFindByDimension(t *testing.T) {
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	buckets := &stubBucketStore{buckets: []usage.Bucket{{
		DimensionType: usage.DimensionUser,
		DimensionID:   "u1",
		PeriodType:    usage.PeriodDay,
		PeriodStart:   start,
	}}}
	r := newTestRouter(&stubEventStore{}, buckets)

	resp := get(t, r, "/v1/dimensions/USER/u1/buckets?period_type=DAY")
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Buckets []usage.Bucket `json:"buckets"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Buckets, 1)
	require.Equal(t, "u1", body.Buckets[0].DimensionID)
}

func TestHandleFindByDimension_MissingPeriodType(t *testing.T) {
	r := newTestRouter(&stubEventStore{}, &stubBucketStore{})

	resp := get(t, r, "/v1/dimensions/USER/u1/buckets")
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandleTrend(t *testing.T) {
	buckets := &stubBucketStore{trend: []usage.Bucket{{DimensionID: "ak_1"}}}
	r := newTestRouter(&stubEventStore{}, buckets)

	resp := get(t, r, "/v1/dimensions/ACCESS_KEY/ak_1/trend"+
		"?start=2024-01-01T00:00:00Z&end=2024-01-03T00:00:00Z")
	require.Equal(t, http.StatusOK, resp.Code)

	var trend TrendResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &trend))
	require.Equal(t, usage.PeriodHour, trend.PeriodType)
	require.Len(t, trend.Buckets, 1)
}

func TestHandleSystemTotals(t *testing.T) {
	buckets := &stubBucketStore{system: usage.Totals{InputTokens: 1000, Requests: 10}}
	r := newTestRouter(&stubEventStore{}, buckets)

	resp := get(t, r, "/v1/system/totals?start=2024-01-01T00:00:00Z&end=2024-02-01T00:00:00Z")
	require.Equal(t, http.StatusOK, resp.Code)

	var totals SystemTotalsResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &totals))
	require.Equal(t, usage.PeriodDay, totals.PeriodType)
	require.Equal(t, int64(1000), totals.InputTokens)
}
