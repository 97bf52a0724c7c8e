// Command jarvis runs the control plane: worker registry, universe
// dispatcher, event fan-out hub, conversation store, and the HTTP/WS API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mecanolabs/jarvis/pkg/api"
	"github.com/mecanolabs/jarvis/pkg/database"
	"github.com/mecanolabs/jarvis/pkg/dispatch"
	"github.com/mecanolabs/jarvis/pkg/events"
	"github.com/mecanolabs/jarvis/pkg/reaper"
	"github.com/mecanolabs/jarvis/pkg/services"
	"github.com/mecanolabs/jarvis/pkg/version"
)

const (
	defaultListenAddr  = ":8000"
	shutdownTimeout    = 5 * time.Second
	dashboardWriteWait = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("Control plane exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	setupLogging()
	slog.Info("Starting jarvis control plane", "version", version.Full())

	ctx := context.Background()

	// Phase 1: database.
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("load database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbClient.Close()
	slog.Info("Database ready", "host", dbConfig.Host, "database", dbConfig.Database)

	// Phase 2: services.
	workerService := services.NewWorkerService(dbClient)
	conversationService := services.NewConversationService(dbClient)
	credentialService := services.NewCredentialService(workerService, services.EnvSecretSource{})

	// Phase 3: event hub.
	hub := events.NewHub(conversationService, dashboardWriteWait)

	// Phase 4: dispatcher.
	dispatcher := dispatch.NewDispatcher(workerService)

	// Phase 5: liveness reaper.
	workerReaper := reaper.NewReaper(workerService, reaper.Config{})
	workerReaper.Start(ctx)
	slog.Info("Worker reaper started")

	// Phase 6: HTTP/WS server.
	server := api.NewServer(dbClient, workerService, conversationService, credentialService, dispatcher, hub)
	addr := getEnv("JARVIS_LISTEN_ADDR", defaultListenAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(addr)
	}()
	slog.Info("Control plane listening", "addr", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	// Staged shutdown: stop background loops, drain HTTP, close the pool.
	workerReaper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown incomplete", "error", err)
	}

	slog.Info("Control plane stopped")
	return nil
}

func setupLogging() {
	level := slog.LevelInfo
	if getEnv("LOG_LEVEL", "") == "debug" {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
