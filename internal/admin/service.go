package admin

import (
	"github.com/gin-gonic/gin"
	"github.com/meterlab/tokenmeter/internal/rollup"
)

// Service exposes the operational endpoints: manual aggregation runs,
// historical rebuilds, and retention sweeps. These mutate aggregate state
// and are meant to sit behind operator-only routing.
type Service struct {
	aggregator *rollup.Aggregator
	rebuilder  *rollup.Rebuilder
	sweeper    *rollup.Sweeper
}

func NewService(aggregator *rollup.Aggregator, rebuilder *rollup.Rebuilder, sweeper *rollup.Sweeper) *Service {
	if aggregator == nil {
		panic("admin: aggregator must not be nil")
	}
	if rebuilder == nil {
		panic("admin: rebuilder must not be nil")
	}
	if sweeper == nil {
		panic("admin: sweeper must not be nil")
	}
	return &Service{aggregator: aggregator, rebuilder: rebuilder, sweeper: sweeper}
}

// RegisterRoutes registers the admin routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/admin/rollup/run", s.RunAggregationHandler)
	r.POST("/v1/admin/rollup/rebuild", s.RebuildHandler)
	r.POST("/v1/admin/retention/cleanup", s.CleanupHandler)
}
