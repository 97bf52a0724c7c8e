// Package reaper marks stale workers offline. A worker that misses
// heartbeats gets one best-effort direct health ping before being marked;
// rows are never deleted, so a reaped worker revives itself by registering
// again.
package reaper

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mecanolabs/jarvis/pkg/models"
)

const (
	defaultSweepInterval  = 30 * time.Second
	defaultStaleThreshold = 90 * time.Second
	pingTimeout           = 5 * time.Second
)

// WorkerStore is the registry surface the reaper needs. Implemented by
// services.WorkerService.
type WorkerStore interface {
	StaleWorkers(ctx context.Context, cutoff time.Time) ([]*models.Worker, error)
	TouchHeartbeat(ctx context.Context, workerID string) error
	MarkOffline(ctx context.Context, workerID string) error
}

// Config tunes the reaper's sweep cadence.
type Config struct {
	SweepInterval  time.Duration
	StaleThreshold time.Duration
}

// Reaper periodically sweeps the registry for stale workers.
type Reaper struct {
	store      WorkerStore
	httpClient *http.Client
	interval   time.Duration
	threshold  time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewReaper creates a Reaper. Zero config fields fall back to defaults
// (30s sweep, 90s stale threshold).
func NewReaper(store WorkerStore, cfg Config) *Reaper {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = defaultStaleThreshold
	}
	return &Reaper{
		store:      store,
		httpClient: &http.Client{Timeout: pingTimeout},
		interval:   cfg.SweepInterval,
		threshold:  cfg.StaleThreshold,
	}
}

// Start launches the background sweep loop. Safe to call once; subsequent
// calls are no-ops until Stop.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.started = true

	go r.run(loopCtx)
	slog.Info("Liveness reaper started",
		"sweep_interval", r.interval, "stale_threshold", r.threshold)
}

// Stop cancels the loop and waits for the current sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.started = false
	r.mu.Unlock()

	cancel()
	<-done
	slog.Info("Liveness reaper stopped")
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep checks every stale worker once. Errors are logged and never stop
// the loop.
func (r *Reaper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.threshold)
	stale, err := r.store.StaleWorkers(ctx, cutoff)
	if err != nil {
		slog.Error("Reaper failed to query stale workers", "error", err)
		return
	}

	for _, w := range stale {
		if ctx.Err() != nil {
			return
		}
		if w.WorkerAddress != "" && r.ping(ctx, w.WorkerAddress) {
			// Alive but its heartbeats are not arriving; treat the ping
			// as a heartbeat and leave it online.
			if err := r.store.TouchHeartbeat(ctx, w.ID); err != nil {
				slog.Error("Reaper failed to refresh heartbeat",
					"worker_id", w.ID, "error", err)
			}
			slog.Info("Stale worker alive on direct ping", "worker_id", w.ID)
			continue
		}
		if err := r.store.MarkOffline(ctx, w.ID); err != nil {
			slog.Error("Reaper failed to mark worker offline",
				"worker_id", w.ID, "error", err)
			continue
		}
		slog.Warn("Worker marked offline",
			"worker_id", w.ID, "worker_name", w.WorkerName,
			"last_heartbeat_at", w.LastHeartbeatAt)
	}
}

// ping issues GET {address}/health and reports whether it returned 200.
func (r *Reaper) ping(ctx context.Context, address string) bool {
	url := strings.TrimRight(address, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}
