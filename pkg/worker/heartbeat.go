package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// heartbeatWarnThreshold is how many consecutive failures trigger an
// escalated log line.
const heartbeatWarnThreshold = 3

// AgentCounter reports current load for heartbeat payloads.
type AgentCounter interface {
	RunningAgentCount() int
}

// Heartbeater periodically reports liveness and load to the control
// plane, re-registering when the control plane has forgotten the worker.
type Heartbeater struct {
	backend  *BackendClient
	counter  AgentCounter
	cfg      *Config
	hostname string
	interval time.Duration
}

// NewHeartbeater creates a Heartbeater. cfg and hostname are needed for
// re-registration after a control-plane restart.
func NewHeartbeater(backend *BackendClient, counter AgentCounter, cfg *Config, hostname string) *Heartbeater {
	return &Heartbeater{
		backend:  backend,
		counter:  counter,
		cfg:      cfg,
		hostname: hostname,
		interval: cfg.HeartbeatInterval,
	}
}

// Run sends heartbeats until ctx is canceled.
func (h *Heartbeater) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := h.backend.Heartbeat(ctx, h.counter.RunningAgentCount())
		if err == nil {
			failures = 0
			continue
		}

		if errors.Is(err, ErrWorkerUnknown) {
			slog.Warn("Control plane lost our registration, re-registering")
			if regErr := h.backend.Register(ctx, h.cfg, h.hostname); regErr != nil {
				slog.Error("Re-registration failed", "error", regErr)
			} else {
				slog.Info("Re-registered with control plane")
				failures = 0
			}
			continue
		}

		failures++
		if failures >= heartbeatWarnThreshold {
			slog.Warn("Heartbeat failing repeatedly",
				"consecutive_failures", failures,
				"error", err)
		} else {
			slog.Debug("Heartbeat failed", "error", err)
		}
	}
}
