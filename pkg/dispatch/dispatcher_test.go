package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mecanolabs/jarvis/pkg/models"
	"github.com/mecanolabs/jarvis/pkg/services"
)

type fakeFinder struct {
	worker *models.Worker
	err    error
}

func (f *fakeFinder) FindAvailable(context.Context) (*models.Worker, error) {
	return f.worker, f.err
}

func TestLaunchForwardsToWorker(t *testing.T) {
	var received workerLaunchBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/launch", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"universe_id": "11111111-2222-3333-4444-555555555555",
			"status":      "launched",
		})
	}))
	defer srv.Close()

	d := NewDispatcher(&fakeFinder{worker: &models.Worker{
		ID:            "w1",
		WorkerName:    "worker-one",
		WorkerAddress: srv.URL,
	}})

	result, err := d.Launch(context.Background(), LaunchRequest{
		Prompt:    "build the thing",
		AgentName: "builder",
		AgentRole: "coder",
		Context:   &LaunchContext{Project: "jarvis", Dimension: "main"},
	})
	require.NoError(t, err)

	assert.Equal(t, "11111111-2222-3333-4444-555555555555", result.UniverseID)
	assert.Equal(t, "w1", result.WorkerID)
	assert.Equal(t, "worker-one", result.WorkerName)
	// No explicit name: derived from the universe id.
	assert.Equal(t, "universe-11111111", result.Name)

	require.Len(t, received.Agents, 1)
	assert.Equal(t, "builder", received.Agents[0].Name)
	assert.Equal(t, "coder", received.Agents[0].Role)
	assert.Equal(t, "Project: jarvis\nDimension: main\n\nbuild the thing", received.Agents[0].Task)
}

func TestLaunchAgentDefaults(t *testing.T) {
	var received workerLaunchBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_ = json.NewEncoder(w).Encode(map[string]string{"universe_id": "u1", "status": "launched"})
	}))
	defer srv.Close()

	d := NewDispatcher(&fakeFinder{worker: &models.Worker{ID: "w1", WorkerAddress: srv.URL}})

	_, err := d.Launch(context.Background(), LaunchRequest{Prompt: "go"})
	require.NoError(t, err)

	require.Len(t, received.Agents, 1)
	assert.Equal(t, "agent", received.Agents[0].Name)
	assert.Equal(t, "general", received.Agents[0].Role)
	assert.Equal(t, "go", received.Agents[0].Task)
}

func TestLaunchEmptyPrompt(t *testing.T) {
	d := NewDispatcher(&fakeFinder{})

	_, err := d.Launch(context.Background(), LaunchRequest{Prompt: "   "})
	assert.True(t, services.IsValidationError(err))
}

func TestLaunchNoWorkerAvailable(t *testing.T) {
	d := NewDispatcher(&fakeFinder{err: services.ErrNotFound})

	_, err := d.Launch(context.Background(), LaunchRequest{Prompt: "go"})
	assert.ErrorIs(t, err, ErrNoWorkerAvailable)
}

func TestLaunchWorkerWithoutAddress(t *testing.T) {
	d := NewDispatcher(&fakeFinder{worker: &models.Worker{ID: "w1"}})

	_, err := d.Launch(context.Background(), LaunchRequest{Prompt: "go"})
	assert.ErrorIs(t, err, ErrNoWorkerAvailable)
}

func TestLaunchWorkerRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDispatcher(&fakeFinder{worker: &models.Worker{ID: "w1", WorkerAddress: srv.URL}})

	_, err := d.Launch(context.Background(), LaunchRequest{Prompt: "go"})
	assert.ErrorIs(t, err, ErrWorkerRejected)
}

func TestLaunchWorkerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused

	d := NewDispatcher(&fakeFinder{worker: &models.Worker{ID: "w1", WorkerAddress: srv.URL}})

	_, err := d.Launch(context.Background(), LaunchRequest{Prompt: "go"})
	assert.ErrorIs(t, err, ErrWorkerRejected)
}

func TestLaunchFinderFailure(t *testing.T) {
	d := NewDispatcher(&fakeFinder{err: errors.New("db down")})

	_, err := d.Launch(context.Background(), LaunchRequest{Prompt: "go"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoWorkerAvailable)
}

func TestAugmentPrompt(t *testing.T) {
	assert.Equal(t, "p", augmentPrompt("p", nil))
	assert.Equal(t, "p", augmentPrompt("p", &LaunchContext{}))
	assert.Equal(t, "Project: x\n\np", augmentPrompt("p", &LaunchContext{Project: "x"}))
	assert.Equal(t, "Dimension: y\n\np", augmentPrompt("p", &LaunchContext{Dimension: "y"}))
}
