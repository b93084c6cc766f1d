// PageGen streaming backend — accepts session actions over HTTP, drives
// the external generator, and multicasts offset-tagged UI events to
// reconnectable subscribers.
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

	"github.com/pagegen/pagegen/pkg/api"
	"github.com/pagegen/pagegen/pkg/cleanup"
	"github.com/pagegen/pagegen/pkg/config"
	"github.com/pagegen/pagegen/pkg/database"
	"github.com/pagegen/pagegen/pkg/eventlog"
	"github.com/pagegen/pagegen/pkg/generator"
	"github.com/pagegen/pagegen/pkg/identity"
	"github.com/pagegen/pagegen/pkg/processor"
	"github.com/pagegen/pagegen/pkg/sandbox"
	"github.com/pagegen/pagegen/pkg/stream"
	"github.com/pagegen/pagegen/pkg/subscribe"
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

	slog.Info("Starting PageGen",
		"http_port", cfg.HTTPPort,
		"generator_addr", cfg.GeneratorAddr,
		"default_model", cfg.DefaultModel)

	ctx := context.Background()

	// 1. Database and durable event log
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

	eventLog := eventlog.NewPostgresLog(dbClient.DB())

	// 2. Generator and sandbox adapters
	gen := generator.NewHTTPGenerator(cfg.GeneratorAddr, cfg.GeneratorTimeout)

	var tools stream.ToolRunner
	var toolDefs []generator.ToolDef
	if cfg.SandboxAddr != "" {
		runner := sandbox.NewHTTPRunner(cfg.SandboxAddr)
		if toolDefs, err = runner.Tools(ctx); err != nil {
			slog.Error("Failed to list sandbox tools", "error", err)
			os.Exit(1)
		}
		tools = runner
		slog.Info("Sandbox connected", "addr", cfg.SandboxAddr, "tools", len(toolDefs))
	} else {
		tools = sandbox.NoopRunner{}
		slog.Info("No sandbox configured, tool calls will be dropped")
	}

	// 3. Processor registry and idle sweeper
	registry := processor.NewRegistry(
		processor.Deps{Log: eventLog, Gen: gen, Tools: tools, ToolDefs: toolDefs},
		processor.Settings{
			MaxBatchSize:     cfg.MaxBatchSize,
			MaxAttempts:      cfg.MaxAttempts,
			DefaultModel:     cfg.DefaultModel,
			SubscriberBuffer: cfg.SubscriberBuffer,
			IdleTTL:          cfg.IdleTTL,
			SweepInterval:    cfg.SweepInterval,
		})
	registry.Start()

	// 4. Retention
	retention, err := cleanup.NewService(eventLog, cfg.EventRetention, cfg.CleanupSchedule)
	if err != nil {
		slog.Error("Invalid cleanup schedule", "schedule", cfg.CleanupSchedule, "error", err)
		os.Exit(1)
	}
	retention.Start(ctx)
	defer retention.Stop()

	// 5. HTTP server
	composer := subscribe.NewComposer(registry, eventLog)
	server := api.NewServer(registry, composer, eventLog, identity.NewUUIDService(), dbClient)

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 6. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 7. Graceful shutdown: stop intake first so no new actions arrive,
	// then drain processors, then the registry's goroutines.
	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	registryCtx, registryCancel := context.WithTimeout(ctx, 30*time.Second)
	defer registryCancel()
	if err := registry.Shutdown(registryCtx); err != nil {
		slog.Warn("Registry shutdown timeout exceeded", "error", err)
	} else {
		slog.Info("Registry stopped gracefully")
	}

	slog.Info("Shutdown complete")
}
