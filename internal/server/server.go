package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	healthPingTimeout      = 2 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Server hosts the metering API: ingestion, query, admin and health routes
// all register on the same gin engine.
type Server struct {
	Engine *gin.Engine
	Addr   string

	db              *sql.DB
	shutdownTimeout time.Duration
}

// New builds the engine in the configured gin mode and mounts the health
// route. A non-positive shutdown timeout falls back to the default.
func New(addr string, db *sql.DB, mode string, shutdownTimeout time.Duration) *Server {
	if mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	s := &Server{
		Engine:          gin.Default(),
		Addr:            addr,
		db:              db,
		shutdownTimeout: shutdownTimeout,
	}
	s.Engine.GET("/health", s.healthHandler)
	return s
}

// healthHandler reports liveness plus database reachability. Aggregation
// lag is not surfaced here: a stalled scheduler is an operational concern,
// not a reason to pull the instance out of rotation.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
	defer cancel()

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			slog.Error("[Server] Health check failed: database unreachable", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"service": "tokenmeter",
				"status":  "unhealthy",
				"error":   "database unreachable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"service":  "tokenmeter",
		"status":   "healthy",
		"database": "connected",
	})
}

// Run serves until ctx is cancelled, then drains in-flight requests for at
// most the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	slog.Info("[Server] Starting HTTP server", "address", s.Addr)

	go func() {
		<-ctx.Done()
		slog.Info("[Server] Stopping HTTP server", "drain_timeout", s.shutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("[Server] HTTP server forced to shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
