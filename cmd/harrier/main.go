// Harrier - Batch compliance decisions with a full audit trail.
// Copyright (c) 2026 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/harrier/internal/anomaly"
	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	rulesPath := flag.String("rules", "", "YAML ruleset to seed into the rule store at startup")
	flag.Parse()

	// Load configuration before logging so the handler honors the
	// configured level and format.
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	initLogger(cfg.Logging)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
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

	// Optionally seed the rule store from a file, then build the engine
	// from whatever the store holds. All later changes go through the API.
	if *rulesPath != "" {
		if err := seedRules(ctx, repo, *rulesPath); err != nil {
			slog.Error("failed to seed rules", "path", *rulesPath, "error", err)
			os.Exit(1)
		}
	}

	ruleset, err := loadRulesFromDatabase(ctx, repo)
	if err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}

	eng, err := engine.New(ruleset, anomaly.Params{
		Contamination: cfg.Engine.Contamination,
		MinBatchSize:  cfg.Engine.MinBatchSize,
		TopFeatures:   cfg.Engine.TopFeatures,
	}, cfg.Engine.MaxWorkers)
	if err != nil {
		slog.Error("failed to initialize engine", "error", err)
		os.Exit(1)
	}
	slog.Info("engine initialized", "rules_count", eng.RulesCount())

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("HARRIER_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, cacheImpl, eng)

		var tenantIDs []string
		if envTenants := os.Getenv("HARRIER_TENANTS"); envTenants != "" {
			for _, tenant := range strings.Split(envTenants, ",") {
				if tenant = strings.TrimSpace(tenant); tenant != "" {
					tenantIDs = append(tenantIDs, tenant)
				}
			}
		}

		workerCfg := worker.Config{
			TenantIDs: tenantIDs,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, eng, cfg.Engine, Version)

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

func initLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// seedRules persists a file-based ruleset so the engine and the API share
// one source of truth. Existing rules with the same name are overwritten.
func seedRules(ctx context.Context, repo domain.Repository, path string) error {
	ruleset, err := config.LoadRuleSet(path)
	if err != nil {
		return err
	}
	for _, rule := range ruleset {
		if err := repo.SaveRule(ctx, api.GlobalTenantID, rule); err != nil {
			return err
		}
	}
	slog.Info("rules seeded from file", "path", path, "count", len(ruleset))
	return nil
}

// loadRulesFromDatabase returns the enabled global rules.
// All rules are configured via POST /rules - no hardcoded defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository) ([]*domain.Rule, error) {
	stored, err := repo.ListRules(ctx, api.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil, nil // Start with empty rules - they can be added via API
	}

	ruleset := make([]*domain.Rule, 0, len(stored))
	for _, rule := range stored {
		if rule.Enabled {
			ruleset = append(ruleset, rule)
		}
	}

	if len(ruleset) == 0 {
		slog.Info("no rules in database - configure via POST /rules API")
	}
	return ruleset, nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 HARRIER                  ║")
	fmt.Println("  ║      Compliance Decision Engine            ║")
	fmt.Println("  ║    Every record accounted for.             ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /runs               - Evaluate a batch of records")
	fmt.Println("    GET  /runs               - List recent runs")
	fmt.Println("    GET  /runs/{id}          - Get a run with its findings")
	fmt.Println("    GET  /runs/{id}/report   - Summary report for a run")
	fmt.Println("    GET  /rules              - List all rules")
	fmt.Println("    POST /rules              - Create a new rule")
	fmt.Println("    DELETE /rules/{name}     - Delete a rule")
	fmt.Println("    POST /rules/reload       - Hot-reload rules from database")
	fmt.Println("    POST /feedback           - Record analyst feedback")
	fmt.Println("    GET  /feedback/summary   - Feedback counts per label")
	fmt.Println("    GET  /health             - Health check")
	fmt.Println()
}
