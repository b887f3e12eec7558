package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meterlab/tokenmeter/internal/admin"
	"github.com/meterlab/tokenmeter/internal/config"
	"github.com/meterlab/tokenmeter/internal/core/storage/postgres"
	"github.com/meterlab/tokenmeter/internal/ingestion"
	"github.com/meterlab/tokenmeter/internal/migrations"
	"github.com/meterlab/tokenmeter/internal/pricing"
	"github.com/meterlab/tokenmeter/internal/query"
	"github.com/meterlab/tokenmeter/internal/rollup"
	"github.com/meterlab/tokenmeter/internal/server"
)

func main() {
	configPath := flag.String("config", "tokenmeter.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	interval, err := time.ParseDuration(cfg.Rollup.Interval)
	if err != nil {
		slog.Error("Invalid rollup interval", "value", cfg.Rollup.Interval, "error", err)
		os.Exit(1)
	}
	cleanupInterval, err := time.ParseDuration(cfg.Rollup.CleanupInterval)
	if err != nil {
		slog.Error("Invalid cleanup interval", "value", cfg.Rollup.CleanupInterval, "error", err)
		os.Exit(1)
	}
	retention := time.Duration(cfg.Rollup.RetentionDays) * 24 * time.Hour
	shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil {
		slog.Error("Invalid shutdown timeout", "value", cfg.Server.ShutdownTimeout, "error", err)
		os.Exit(1)
	}

	// 2. Initialize Storage (PostgreSQL)
	eventStore, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer eventStore.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(eventStore.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	bucketStore := postgres.NewBucketAdapter(eventStore.DB())

	// 3. Load Price Table (optional)
	prices, err := pricing.Load(cfg.Pricing.Path)
	if err != nil {
		slog.Error("Failed to load price table", "path", cfg.Pricing.Path, "error", err)
		os.Exit(1)
	}

	// 4. Initialize the Rollup Engine
	aggregator := rollup.NewAggregator(eventStore, bucketStore)
	rebuilder := rollup.NewRebuilder(eventStore, bucketStore)
	sweeper := rollup.NewSweeper(bucketStore)
	scheduler := rollup.NewScheduler(interval, cleanupInterval, retention, aggregator, sweeper, bucketStore)

	// 5. Initialize Services
	ingestionSvc := ingestion.NewService(eventStore, cfg.Server.MaxBodySizeMB)
	querySvc := query.NewService(eventStore, bucketStore, prices)
	adminSvc := admin.NewService(aggregator, rebuilder, sweeper)

	// 6. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), eventStore.DB(), cfg.Server.Mode, shutdownTimeout)
	ingestionSvc.RegisterRoutes(srv.Engine)
	querySvc.RegisterRoutes(srv.Engine)
	adminSvc.RegisterRoutes(srv.Engine)

	// 7. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Rollup.Enabled {
		g.Go(func() error {
			return scheduler.Start(gctx)
		})
	} else {
		slog.Info("Rollup scheduler disabled by config")
	}

	g.Go(func() error {
		return srv.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Service stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
