// Arbiter orchestrator server — accepts tasks and agents over HTTP, routes
// work through the dispatch pool, and arbitrates constitutional violations.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/api"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/config"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/orchestrator"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/store"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env from the config directory; a missing file is normal in
	// containerized deployments where the environment is injected.
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting arbiter",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Connect persistence when enabled; everything runs memory-only
	// without it.
	var client *store.Client
	if cfg.Database.Enabled {
		dbConfig, err := store.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		client, err = store.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := client.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		slog.Info("Connected to PostgreSQL database")
	} else {
		slog.Info("Persistence disabled, running memory-only")
	}

	// 3. Build and start the orchestrator (replays persisted state, then
	// brings up the dispatch pool)
	orc, err := orchestrator.New(cfg, client)
	if err != nil {
		slog.Error("Failed to build orchestrator", "error", err)
		os.Exit(1)
	}
	if err := orc.Start(ctx); err != nil {
		slog.Error("Failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// 4. Start HTTP server (non-blocking)
	httpServer := api.NewServer(orc)
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(":" + httpPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Arbiter started successfully",
		"workers", cfg.Dispatch.WorkerCount,
		"persistence", cfg.Database.Enabled)

	// 5. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 6. Graceful shutdown: stop the intake first so no new work arrives
	// while the dispatch pool drains.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	orcShutdownCtx, orcCancel := context.WithTimeout(ctx, cfg.Dispatch.GracefulShutdownTimeout)
	defer orcCancel()
	orc.Shutdown(orcShutdownCtx)

	slog.Info("Shutdown complete")
}
