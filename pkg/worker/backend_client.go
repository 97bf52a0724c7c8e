package worker

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

	"github.com/cenkalti/backoff/v4"
)

// ErrWorkerUnknown is returned by Heartbeat when the control plane no
// longer knows this worker (reaped or restarted with a fresh database).
// The caller should re-register.
var ErrWorkerUnknown = errors.New("worker unknown to control plane")

// BackendClient talks to the control-plane HTTP API on behalf of the
// worker: registration, heartbeat, deregistration, and credential fetch.
type BackendClient struct {
	baseURL    string
	httpClient *http.Client

	workerID  string
	authToken string
}

// NewBackendClient creates a client for the control plane at baseURL.
func NewBackendClient(baseURL, workerID string) *BackendClient {
	return &BackendClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		workerID:   workerID,
	}
}

// AuthToken returns the token minted by the last successful registration.
func (b *BackendClient) AuthToken() string {
	return b.authToken
}

type registerRequest struct {
	WorkerID            string   `json:"worker_id"`
	Hostname            string   `json:"hostname"`
	WorkerName          string   `json:"worker_name"`
	WorkerAddress       string   `json:"worker_address"`
	MaxConcurrentAgents int      `json:"max_concurrent_agents"`
	Capabilities        []string `json:"capabilities"`
}

type registerResponse struct {
	ID        string `json:"id"`
	AuthToken string `json:"auth_token"`
}

// Register registers the worker with the control plane, retrying with
// exponential backoff until it succeeds or ctx is canceled. Backoff grows
// from 1s to a 60s ceiling and never gives up on its own.
func (b *BackendClient) Register(ctx context.Context, cfg *Config, hostname string) error {
	body := registerRequest{
		WorkerID:            b.workerID,
		Hostname:            hostname,
		WorkerName:          cfg.WorkerName,
		WorkerAddress:       cfg.AdvertiseAddress,
		MaxConcurrentAgents: cfg.Capacity,
		Capabilities:        cfg.Capabilities,
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 60 * time.Second
	bo.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		err := b.registerOnce(ctx, body)
		if err != nil {
			slog.Warn("Worker registration failed, will retry",
				"attempt", attempt,
				"error", err)
		}
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}

func (b *BackendClient) registerOnce(ctx context.Context, body registerRequest) error {
	var resp registerResponse
	status, err := b.doJSON(ctx, http.MethodPost, "/api/workers/register", body, "", &resp)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("register returned %d", status)
	}
	if resp.AuthToken == "" {
		return errors.New("register response missing auth_token")
	}
	b.authToken = resp.AuthToken
	return nil
}

type heartbeatRequest struct {
	CurrentAgents int    `json:"current_agents"`
	Status        string `json:"status"`
}

// Heartbeat reports current load. A 404 means the control plane lost the
// registration; ErrWorkerUnknown tells the caller to re-register.
func (b *BackendClient) Heartbeat(ctx context.Context, currentAgents int) error {
	body := heartbeatRequest{CurrentAgents: currentAgents, Status: "online"}
	status, err := b.doJSON(ctx, http.MethodPost, "/api/workers/"+b.workerID+"/heartbeat", body, "", nil)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusNotFound:
		return ErrWorkerUnknown
	case status < 200 || status >= 300:
		return fmt.Errorf("heartbeat returned %d", status)
	}
	return nil
}

// Deregister removes the worker from the registry. Best effort with its
// own short timeout; shutdown proceeds regardless.
func (b *BackendClient) Deregister(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status, err := b.doJSON(ctx, http.MethodPost, "/api/workers/"+b.workerID+"/deregister", nil, "", nil)
	if err != nil {
		return err
	}
	if (status < 200 || status >= 300) && status != http.StatusNotFound {
		return fmt.Errorf("deregister returned %d", status)
	}
	return nil
}

type credentialResponse struct {
	KeyName  string `json:"key_name"`
	KeyValue string `json:"key_value"`
}

// FetchCredential retrieves a named credential from the broker using the
// worker's auth token.
func (b *BackendClient) FetchCredential(ctx context.Context, keyName string) (string, error) {
	if b.authToken == "" {
		return "", errors.New("not registered, no auth token")
	}
	var resp credentialResponse
	status, err := b.doJSON(ctx, http.MethodGet, "/api/workers/credentials/"+keyName, nil, b.authToken, &resp)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("credential fetch for %s returned %d", keyName, status)
	}
	if resp.KeyValue == "" {
		return "", fmt.Errorf("credential %s is empty", keyName)
	}
	return resp.KeyValue, nil
}

// Provide implements llm.CredentialProvider by fetching the Anthropic key
// from the broker.
func (b *BackendClient) Provide(ctx context.Context) (string, error) {
	return b.FetchCredential(ctx, "ANTHROPIC_API_KEY")
}

// WebSocketURL returns the event-stream endpoint for this worker, derived
// from the API base URL.
func (b *BackendClient) WebSocketURL() string {
	ws := b.baseURL
	ws = strings.Replace(ws, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return ws + "/ws/worker/" + b.workerID
}

func (b *BackendClient) doJSON(ctx context.Context, method, path string, body any, bearer string, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	} else {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	}
	return resp.StatusCode, nil
}
