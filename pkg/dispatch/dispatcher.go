// Package dispatch selects a worker for a universe launch and forwards the
// request. The dispatcher is stateless: nothing is persisted, and the
// universe becomes known to the control plane only through the worker's
// event stream.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mecanolabs/jarvis/pkg/models"
	"github.com/mecanolabs/jarvis/pkg/services"
)

// launchTimeout bounds the forward to the worker's /launch endpoint.
const launchTimeout = 30 * time.Second

var (
	// ErrNoWorkerAvailable means no online worker has free capacity.
	ErrNoWorkerAvailable = errors.New("no worker available")

	// ErrWorkerRejected means the selected worker refused the launch.
	ErrWorkerRejected = errors.New("worker rejected launch")
)

// WorkerFinder selects a worker for dispatch. Implemented by
// services.WorkerService.
type WorkerFinder interface {
	FindAvailable(ctx context.Context) (*models.Worker, error)
}

// LaunchContext carries optional naming context that is folded into the
// task prompt.
type LaunchContext struct {
	Project   string `json:"project,omitempty"`
	Dimension string `json:"dimension,omitempty"`
}

// LaunchRequest is a universe-launch request from the dashboard or API.
type LaunchRequest struct {
	Prompt    string         `json:"prompt"`
	Name      string         `json:"name,omitempty"`
	AgentName string         `json:"agent_name,omitempty"`
	AgentRole string         `json:"agent_role,omitempty"`
	Model     string         `json:"model,omitempty"`
	Context   *LaunchContext `json:"context,omitempty"`
}

// LaunchResult identifies the universe and the worker that accepted it.
type LaunchResult struct {
	UniverseID    string `json:"universe_id"`
	WorkerID      string `json:"worker_id"`
	WorkerAddress string `json:"worker_address"`
	WorkerName    string `json:"worker_name"`
	Name          string `json:"name"`
}

// workerLaunchBody is the payload forwarded to the worker's /launch.
type workerLaunchBody struct {
	Name   string             `json:"name"`
	Agents []workerAgentEntry `json:"agents"`
}

type workerAgentEntry struct {
	Name  string `json:"name"`
	Role  string `json:"role"`
	Model string `json:"model,omitempty"`
	Task  string `json:"task"`
}

// Dispatcher forwards launches to workers.
type Dispatcher struct {
	workers    WorkerFinder
	httpClient *http.Client
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(workers WorkerFinder) *Dispatcher {
	return &Dispatcher{
		workers:    workers,
		httpClient: &http.Client{Timeout: launchTimeout},
	}
}

// Launch selects an available worker and forwards the launch request.
func (d *Dispatcher) Launch(ctx context.Context, req LaunchRequest) (*LaunchResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, services.NewValidationError("prompt", "is required")
	}

	worker, err := d.workers.FindAvailable(ctx)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, ErrNoWorkerAvailable
		}
		return nil, fmt.Errorf("select worker: %w", err)
	}
	if worker.WorkerAddress == "" {
		return nil, fmt.Errorf("worker %s has no reachable address: %w", worker.ID, ErrNoWorkerAvailable)
	}

	name := req.Name
	agentName := req.AgentName
	if agentName == "" {
		agentName = "agent"
	}
	agentRole := req.AgentRole
	if agentRole == "" {
		agentRole = "general"
	}

	body := workerLaunchBody{
		Name: name,
		Agents: []workerAgentEntry{{
			Name:  agentName,
			Role:  agentRole,
			Model: req.Model,
			Task:  augmentPrompt(req.Prompt, req.Context),
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal launch payload: %w", err)
	}

	url := strings.TrimRight(worker.WorkerAddress, "/") + "/launch"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build launch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("forward launch to worker %s: %w", worker.ID, ErrWorkerRejected)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("Worker refused universe launch",
			"worker_id", worker.ID, "status", resp.StatusCode)
		return nil, fmt.Errorf("worker %s returned %d: %w", worker.ID, resp.StatusCode, ErrWorkerRejected)
	}

	var accepted struct {
		UniverseID string `json:"universe_id"`
		Status     string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&accepted); err != nil {
		return nil, fmt.Errorf("decode worker launch response: %w", ErrWorkerRejected)
	}

	result := &LaunchResult{
		UniverseID:    accepted.UniverseID,
		WorkerID:      worker.ID,
		WorkerAddress: worker.WorkerAddress,
		WorkerName:    worker.WorkerName,
		Name:          name,
	}
	if result.Name == "" {
		result.Name = defaultUniverseName(accepted.UniverseID)
	}
	slog.Info("Universe dispatched",
		"universe_id", result.UniverseID, "worker_id", worker.ID, "worker_name", worker.WorkerName)
	return result, nil
}

// augmentPrompt folds project/dimension names into the task prompt.
func augmentPrompt(prompt string, lc *LaunchContext) string {
	if lc == nil {
		return prompt
	}
	var parts []string
	if lc.Project != "" {
		parts = append(parts, "Project: "+lc.Project)
	}
	if lc.Dimension != "" {
		parts = append(parts, "Dimension: "+lc.Dimension)
	}
	if len(parts) == 0 {
		return prompt
	}
	return strings.Join(parts, "\n") + "\n\n" + prompt
}

func defaultUniverseName(universeID string) string {
	short := universeID
	if len(short) > 8 {
		short = short[:8]
	}
	return "universe-" + short
}
