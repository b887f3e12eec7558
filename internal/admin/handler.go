package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	httperr "github.com/meterlab/tokenmeter/internal/core/errors"
	"github.com/meterlab/tokenmeter/internal/core/usage"
	"github.com/meterlab/tokenmeter/internal/rollup"
)

type runAggregationRequest struct {
	From time.Time `json:"from" binding:"required"`
	To   time.Time `json:"to" binding:"required"`
}

type rebuildRequest struct {
	DimensionType string    `json:"dimension_type" binding:"required"`
	DimensionID   string    `json:"dimension_id" binding:"required"`
	StartDate     time.Time `json:"start_date" binding:"required"`
	EndDate       time.Time `json:"end_date" binding:"required"`
}

type cleanupRequest struct {
	Before time.Time `json:"before" binding:"required"`
}

// RunAggregationHandler handles POST /v1/admin/rollup/run.
// The caller owns window sequencing; overlapping or stale windows are
// rejected by the storage layer at commit time.
func (s *Service) RunAggregationHandler(c *gin.Context) {
	var req runAggregationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	result, err := s.aggregator.PerformIncrementalAggregation(c.Request.Context(), req.From, req.To)
	if err != nil {
		if errors.Is(err, rollup.ErrValidation) {
			c.JSON(http.StatusBadRequest, result)
			return
		}
		slog.Error("[Admin] Manual aggregation failed", "from", req.From, "to", req.To, "error", err)
		c.JSON(http.StatusInternalServerError, result)
		return
	}

	c.JSON(http.StatusOK, result)
}

// RebuildHandler handles POST /v1/admin/rollup/rebuild.
func (s *Service) RebuildHandler(c *gin.Context) {
	var req rebuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	result, err := s.rebuilder.RebuildAggregateData(c.Request.Context(),
		usage.DimensionType(req.DimensionType), req.DimensionID, req.StartDate, req.EndDate)
	if err != nil {
		if errors.Is(err, rollup.ErrValidation) {
			c.JSON(http.StatusBadRequest, result)
			return
		}
		slog.Error("[Admin] Rebuild failed",
			"dimension_type", req.DimensionType,
			"dimension_id", req.DimensionID,
			"error", err)
		c.JSON(http.StatusInternalServerError, result)
		return
	}

	c.JSON(http.StatusOK, result)
}

// CleanupHandler handles POST /v1/admin/retention/cleanup.
// Best effort by contract: failures surface as zero deletions.
func (s *Service) CleanupHandler(c *gin.Context) {
	var req cleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	deleted := s.sweeper.CleanupExpiredData(c.Request.Context(), req.Before)
	c.JSON(http.StatusOK, gin.H{"deleted_count": deleted})
}

func writeBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
		ErrorType: httperr.HttpInvalidRequestError,
		Message:   "Invalid request body",
		Details:   err.Error(),
	})
}
