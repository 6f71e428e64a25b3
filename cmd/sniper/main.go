// Sniper harvest orchestrator — serves the connector HTTP API, runs the
// agent workflows, and sweeps timed-out tasks.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sniper-hq/sniper/pkg/agent"
	"github.com/sniper-hq/sniper/pkg/agent/orchestrator"
	"github.com/sniper-hq/sniper/pkg/api"
	"github.com/sniper-hq/sniper/pkg/browser"
	"github.com/sniper-hq/sniper/pkg/config"
	"github.com/sniper-hq/sniper/pkg/connectors"
	"github.com/sniper-hq/sniper/pkg/database"
	"github.com/sniper-hq/sniper/pkg/gate"
	"github.com/sniper-hq/sniper/pkg/services"
	"github.com/sniper-hq/sniper/pkg/sweeper"
	"github.com/sniper-hq/sniper/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting sniper",
		"version", version.Full(),
		"http_port", cfg.HTTPPort,
		"pod_id", cfg.PodID)

	ctx := context.Background()

	// 1. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	// 2. Lock/rate store
	store, err := gate.Connect(ctx, gate.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()

	// 3. One-time startup sweep of orphaned operation locks. Locks held by a
	// previous crashed replica would otherwise block until their TTL.
	if cleared, err := store.ScanAndClear(ctx, "lock:"); err != nil {
		slog.Warn("Startup lock sweep failed", "error", err)
	} else if cleared > 0 {
		slog.Info("Cleared orphaned operation locks", "count", cleared)
	}

	// 4. Task service over the Postgres repository
	tasks := services.NewTaskService(database.NewTaskRepo(dbClient.Pool()))

	// 5. Connectors: remote browser provider + platform registry
	provider := browser.NewClient(cfg.Browser.BaseURL, cfg.Browser.APIKey, cfg.Browser.Timeout)
	registry := connectors.NewRegistry(connectors.Deps{
		Provider: provider,
		Attach:   browser.Attach,
		ImageID:  cfg.Browser.ImageID,
	}, cfg.FeedURL)

	// 6. LLM runner, keyword planner, workflow orchestrators
	llmRunner := agent.NewClaudeRunner(cfg.LLM)
	planner := agent.NewPlanner(llmRunner)
	orch := orchestrator.New(tasks,
		func(tenant connectors.Tenant, taskID string) orchestrator.ConnectorScope {
			return connectors.NewService(registry, store, cfg.Gate, tasks, tenant, taskID)
		},
		planner, llmRunner, orchestrator.NewRunner(), cfg.DefaultTaskTimeout)

	// 7. Task timeout sweeper
	sw := sweeper.New(cfg.Sweeper, store, tasks, cfg.PodID)
	sw.Start(ctx)

	// 8. HTTP server
	httpServer := api.NewServer(dbClient, store, registry,
		func(tenant connectors.Tenant) api.ConnectorScope {
			return connectors.NewService(registry, store, cfg.Gate, tasks, tenant, "")
		},
		tasks, orch, cfg.APIKeys)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Sniper started successfully", "pod_id", cfg.PodID)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: cancel running workflows and wait for their
	// scopes to release locks and settle task state.
	drainCtx, drainCancel := context.WithTimeout(ctx, 30*time.Second)
	defer drainCancel()
	orch.Runner().Stop(drainCtx)
	if drainCtx.Err() != nil {
		slog.Warn("Workflow drain timeout exceeded - stuck tasks will be swept by timeout")
	} else {
		slog.Info("Workflows drained")
	}

	sw.Stop()

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
