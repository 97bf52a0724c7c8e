// Command jarvis-worker runs the worker runtime: it registers with the
// control plane, heartbeats, streams agent events over WebSocket, and
// serves the local launch API.
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

	"github.com/mecanolabs/jarvis/pkg/llm"
	"github.com/mecanolabs/jarvis/pkg/version"
	"github.com/mecanolabs/jarvis/pkg/worker"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("Worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	setupLogging()

	cfg, err := worker.LoadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	// Phase 1: identity.
	workerID, err := worker.LoadOrCreateWorkerID()
	if err != nil {
		return fmt.Errorf("load worker identity: %w", err)
	}
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("resolve hostname: %w", err)
	}
	slog.Info("Starting jarvis worker",
		"version", version.Full(),
		"worker_id", workerID,
		"name", cfg.WorkerName)

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// Phase 2: control-plane registration. Retries with backoff until the
	// control plane answers or we are signaled.
	backend := worker.NewBackendClient(cfg.APIURL, workerID)
	signalCtx, cancelSignals := signal.NotifyContext(rootCtx, syscall.SIGTERM, syscall.SIGINT)
	defer cancelSignals()
	if err := backend.Register(signalCtx, cfg, hostname); err != nil {
		return fmt.Errorf("register with control plane: %w", err)
	}
	slog.Info("Registered with control plane", "api_url", cfg.APIURL)

	// Phase 3: LLM client. The broker supplies the key when the
	// environment does not.
	chatClient := llm.NewClient(cfg.AnthropicBaseURL, cfg.AnthropicAPIKey, backend)

	// Phase 4: event stream and universe manager.
	sender := worker.NewEventSender(backend.WebSocketURL())
	go sender.Run(rootCtx)

	manager := worker.NewManager(workerID, cfg, sender, chatClient)

	// Phase 5: heartbeat loop.
	heartbeater := worker.NewHeartbeater(backend, manager, cfg, hostname)
	go heartbeater.Run(rootCtx)

	// Phase 6: local HTTP surface.
	server := worker.NewServer(workerID, cfg, manager)
	addr := fmt.Sprintf(":%d", cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(addr)
	}()

	select {
	case <-signalCtx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("worker http server: %w", err)
		}
		return nil
	}

	// Staged shutdown: stop agents, drain HTTP, deregister best-effort.
	manager.StopAll("worker shutting down")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Worker HTTP shutdown incomplete", "error", err)
	}
	if err := backend.Deregister(context.Background()); err != nil {
		slog.Warn("Deregister failed", "error", err)
	}

	slog.Info("Worker stopped")
	return nil
}

func setupLogging() {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
