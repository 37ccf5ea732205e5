// Interius server — drives the multi-agent backend-generation pipeline and
// exposes the SSE generation stream, run queries, and sandbox operations.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/eb-adutwum/interius/pkg/agent"
	"github.com/eb-adutwum/interius/pkg/api"
	"github.com/eb-adutwum/interius/pkg/cleanup"
	"github.com/eb-adutwum/interius/pkg/config"
	"github.com/eb-adutwum/interius/pkg/database"
	"github.com/eb-adutwum/interius/pkg/llm"
	"github.com/eb-adutwum/interius/pkg/orchestrator"
	"github.com/eb-adutwum/interius/pkg/sandbox"
	"github.com/eb-adutwum/interius/pkg/services"
	"github.com/eb-adutwum/interius/pkg/testrunner"
	"github.com/eb-adutwum/interius/pkg/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Parse command-line flags
	envFile := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envFile)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	slog.Info("Starting Interius", "version", version.Full())

	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database
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
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Persistence services
	bundles, err := services.NewBundleStore(cfg.BundleStoreRoot)
	if err != nil {
		slog.Error("Failed to initialize bundle store", "error", err)
		os.Exit(1)
	}
	runService := services.NewRunService(dbClient, bundles, logger)
	slog.Info("Services initialized", "bundle_store", cfg.BundleStoreRoot)

	// 4. Sandbox harness
	harness, err := sandbox.NewHarness(cfg.Sandbox, logger)
	if err != nil {
		slog.Error("Failed to initialize sandbox harness", "error", err)
		os.Exit(1)
	}
	slog.Info("Sandbox harness initialized",
		"host_root", cfg.Sandbox.HostRoot,
		"image", cfg.Sandbox.Image,
		"port_range_start", cfg.Sandbox.PortRangeStart,
		"port_range_end", cfg.Sandbox.PortRangeEnd)

	// 5. Retention sweep for stale sandbox deployments
	retention := cleanup.NewService(cfg.Retention, harness, logger)
	retention.Start(ctx)

	// 6. LLM clients and pipeline agents
	pipelineLLM := llm.NewHTTPClient(cfg.LLM.Pipeline, logger)
	interfaceLLM := llm.NewHTTPClient(cfg.LLM.Interface, logger)

	requirements := agent.NewRequirementsAgent(pipelineLLM, logger)
	architecture := agent.NewArchitectureAgent(pipelineLLM, logger)
	implementer := agent.NewImplementerAgent(pipelineLLM, logger)
	reviewer := agent.NewReviewerAgent(pipelineLLM, logger)
	evaluator := testrunner.New(harness, logger)
	repairer := agent.NewRepairAgent(implementer, evaluator,
		cfg.Pipeline.RepairMaxIterations, cfg.Pipeline.RepairEscalationIterations, logger)
	intentRouter := agent.NewInterfaceAgent(interfaceLLM, logger)
	slog.Info("Pipeline agents initialized", "model", cfg.LLM.Pipeline.Model)

	// 7. Orchestrator
	pipeline := orchestrator.New(
		requirements, architecture, implementer, reviewer, repairer,
		runService, harness,
		orchestrator.Config{
			MaxReviewIterations: cfg.Pipeline.MaxReviewIterations,
			TrustScoreThreshold: cfg.Pipeline.TrustScoreThreshold,
		},
		logger,
	)

	// 8. HTTP server
	httpServer := api.NewServer(dbClient, runService, pipeline, intentRouter, harness, logger)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Interius started successfully")

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown. In-flight SSE streams get the shutdown window to
	// deliver their terminal events.
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	retention.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown incomplete", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	slog.Info("Interius shutdown complete")
}
