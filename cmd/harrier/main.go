// Harrier - Behavioral segmentation that deploys in 60 seconds.
// Copyright (c) 2025 opensource.analytics
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-analytics/harrier/internal/api"
	"github.com/opensource-analytics/harrier/internal/archetype"
	"github.com/opensource-analytics/harrier/internal/assignment"
	"github.com/opensource-analytics/harrier/internal/bus"
	"github.com/opensource-analytics/harrier/internal/cache"
	"github.com/opensource-analytics/harrier/internal/discovery"
	"github.com/opensource-analytics/harrier/internal/domain"
	"github.com/opensource-analytics/harrier/internal/drift"
	"github.com/opensource-analytics/harrier/internal/features"
	"github.com/opensource-analytics/harrier/internal/naming"
	"github.com/opensource-analytics/harrier/internal/repository"
	"github.com/opensource-analytics/harrier/internal/sampler"
	"github.com/opensource-analytics/harrier/internal/scores"
	"github.com/opensource-analytics/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("HARRIER_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Naming.Provider = "openai"
		cfg.Naming.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"axes", len(cfg.Axes),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize feature extraction
	extractor, err := features.NewExtractor(cfg.Axes)
	if err != nil {
		slog.Error("failed to initialize feature extractor", "error", err)
		os.Exit(1)
	}
	feat := features.NewService(repo, extractor)
	slog.Info("feature extractor initialized", "axes", len(cfg.Axes))

	// Initialize population sampler
	smp, err := sampler.New(cfg.Sampler)
	if err != nil {
		slog.Error("failed to initialize sampler", "error", err)
		os.Exit(1)
	}
	slog.Info("sampler initialized",
		"target_size", cfg.Sampler.TargetSize(),
		"floor", smp.Floor(),
	)

	// Initialize segment naming collaborator
	namer, err := naming.New(cfg.Naming)
	if err != nil {
		slog.Error("failed to initialize naming service", "error", err)
		os.Exit(1)
	}
	slog.Info("naming service initialized", "provider", cfg.Naming.Provider)

	// Initialize discovery engine and runner
	discoveryEngine := discovery.NewEngine(cfg.Discovery, namer)
	runner := worker.NewDiscoveryRunner(repo, busImpl, feat, smp, discoveryEngine, cfg.Discovery)
	slog.Info("discovery engine initialized",
		"k_range", fmt.Sprintf("%d-%d", cfg.Discovery.MinClusters, cfg.Discovery.MaxClusters),
	)

	// Initialize Score Engine (CEL)
	scoreEngine, err := scores.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize score engine", "error", err)
		os.Exit(1)
	}

	// Load scores from database (no hardcoded defaults - configure via API)
	if err := loadScoresFromDatabase(ctx, repo, scoreEngine); err != nil {
		slog.Error("failed to load scores", "error", err)
		os.Exit(1)
	}
	slog.Info("score engine initialized", "scores_count", scoreEngine.ScoresCount())

	// Initialize assignment pipeline
	composer := archetype.NewComposer(repo, cacheImpl)
	assigner := assignment.NewService(feat, repo, cacheImpl, busImpl, composer, scoreEngine, cfg.Assignment)
	slog.Info("assignment service initialized", "min_events", cfg.Assignment.MinEvents)

	// Initialize drift tracking
	drifter := drift.NewService(repo, busImpl, cfg.Drift, cfg.Snapshots)
	snapshotRunner := worker.NewSnapshotRunner(repo, drifter)
	slog.Info("drift service initialized",
		"velocity_threshold", cfg.Drift.VelocityThreshold,
		"resolutions", cfg.Snapshots.ResolutionDays,
	)

	// Initialize async Worker (Pro tier)
	async := cfg.Tier == domain.TierPro || os.Getenv("HARRIER_ASYNC_WORKER") == "true"
	var asyncWorker *worker.Worker
	if async {
		asyncWorker = worker.NewWorker(busImpl, assigner, drifter)

		tenantIDs := []string{}
		if envTenants := os.Getenv("HARRIER_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		workerCfg := worker.Config{
			TenantIDs:   tenantIDs,
			WorkerCount: 5,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, assigner, drifter, runner, snapshotRunner, scoreEngine, Version, async)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

// GlobalTenantID is used for scores that apply to all tenants.
const GlobalTenantID = "*"

// loadScoresFromDatabase loads derived-score configs into the engine.
// All scores must be configured via POST /scores API - no hardcoded defaults.
func loadScoresFromDatabase(ctx context.Context, repo domain.Repository, engine *scores.Engine) error {
	dbScores, err := repo.ListScoreConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list scores from database", "error", err)
		return nil // Start with empty scores - they can be added via API
	}

	if len(dbScores) > 0 {
		slog.Info("loading scores from database", "count", len(dbScores))
		return engine.LoadScores(dbScores)
	}

	slog.Info("no scores in database - configure via POST /scores API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 HARRIER                  ║")
	fmt.Println("  ║     Behavioral Segmentation Engine        ║")
	fmt.Println("  ║      Every subject, every axis.           ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /subjects/{id}/events   - Ingest a subject event")
	fmt.Println("    POST /subjects/{id}/assign   - Recompute a subject's profile")
	fmt.Println("    GET  /subjects/{id}/profile  - Get the assigned profile")
	fmt.Println("    GET  /subjects/{id}/drift    - List drift reports")
	fmt.Println("    POST /subjects/{id}/drift    - Compute drift now")
	fmt.Println("    POST /discovery/run          - Refit all axis models")
	fmt.Println("    GET  /discovery/runs/{id}    - Get a discovery run")
	fmt.Println("    GET  /axes                   - List fitted axis models")
	fmt.Println("    GET  /archetypes             - List observed archetypes")
	fmt.Println("    GET  /scores                 - List derived scores")
	fmt.Println("    POST /scores                 - Create a derived score")
	fmt.Println("    POST /scores/reload          - Hot-reload scores from database")
	fmt.Println("    POST /snapshots/run          - Capture and prune snapshots")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println()
}
