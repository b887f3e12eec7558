package query

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	httperr "github.com/meterlab/tokenmeter/internal/core/errors"
	"github.com/meterlab/tokenmeter/internal/core/usage"
)

// RegisterRoutes registers the query API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/usage/summary", s.HandleSummary)
	r.GET("/v1/dimensions/:dimension_type/:dimension_id/buckets", s.HandleFindByDimension)
	r.GET("/v1/dimensions/:dimension_type/:dimension_id/trend", s.HandleTrend)
	r.GET("/v1/system/totals", s.HandleSystemTotals)
}

type dimensionURI struct {
	DimensionType string `uri:"dimension_type" binding:"required"`
	DimensionID   string `uri:"dimension_id" binding:"required"`
}

// HandleSummary handles GET /v1/usage/summary
// Query parameters: dimension_type, dimension_id, start, end, model, feature
func (s *Service) HandleSummary(c *gin.Context) {
	var q struct {
		DimensionType string    `form:"dimension_type" binding:"required"`
		DimensionID   string    `form:"dimension_id" binding:"required"`
		Start         time.Time `form:"start" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		End           time.Time `form:"end" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		Model         string    `form:"model"`
		Feature       string    `form:"feature"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		writeBindError(c, err)
		return
	}

	summary, err := s.Summary(c.Request.Context(), UsageFilter{
		DimensionType: usage.DimensionType(q.DimensionType),
		DimensionID:   q.DimensionID,
		Start:         q.Start,
		End:           q.End,
		Model:         q.Model,
		Feature:       q.Feature,
	})
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// HandleFindByDimension handles GET /v1/dimensions/:dimension_type/:dimension_id/buckets
// Query parameters: period_type (required), start, end (both optional)
func (s *Service) HandleFindByDimension(c *gin.Context) {
	var uri dimensionURI
	if err := c.ShouldBindUri(&uri); err != nil {
		writeBindError(c, err)
		return
	}

	var q struct {
		PeriodType string     `form:"period_type" binding:"required"`
		Start      *time.Time `form:"start" time_format:"2006-01-02T15:04:05Z07:00"`
		End        *time.Time `form:"end" time_format:"2006-01-02T15:04:05Z07:00"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		writeBindError(c, err)
		return
	}

	buckets, err := s.FindByDimension(c.Request.Context(),
		usage.DimensionType(uri.DimensionType), uri.DimensionID,
		usage.PeriodType(q.PeriodType), q.Start, q.End)
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"buckets": buckets})
}

// HandleTrend handles GET /v1/dimensions/:dimension_type/:dimension_id/trend
// Query parameters: start, end (required), period_type, limit (optional)
func (s *Service) HandleTrend(c *gin.Context) {
	var uri dimensionURI
	if err := c.ShouldBindUri(&uri); err != nil {
		writeBindError(c, err)
		return
	}

	var q struct {
		Start      time.Time `form:"start" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		End        time.Time `form:"end" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		PeriodType string    `form:"period_type"`
		Limit      int       `form:"limit"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		writeBindError(c, err)
		return
	}

	trend, err := s.Trend(c.Request.Context(),
		usage.DimensionType(uri.DimensionType), uri.DimensionID,
		usage.PeriodType(q.PeriodType), q.Start, q.End, q.Limit)
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, trend)
}

// HandleSystemTotals handles GET /v1/system/totals
// Query parameters: start, end (required), period_type (optional, default DAY)
func (s *Service) HandleSystemTotals(c *gin.Context) {
	var q struct {
		Start      time.Time `form:"start" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		End        time.Time `form:"end" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		PeriodType string    `form:"period_type"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		writeBindError(c, err)
		return
	}

	totals, err := s.SystemTotals(c.Request.Context(), q.Start, q.End, usage.PeriodType(q.PeriodType))
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, totals)
}

func writeBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
		ErrorType: httperr.HttpInvalidQueryError,
		Message:   "Invalid request parameters",
		Details:   err.Error(),
	})
}

func writeQueryError(c *gin.Context, err error) {
	if errors.Is(err, ErrInvalidQuery) {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid usage query",
			Details:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
		ErrorType: httperr.HttpInternalError,
		Message:   "Failed to execute usage query",
		Details:   err.Error(),
	})
}
