package api

import "github.com/mecanolabs/jarvis/pkg/models"

// RegisterWorkerResponse returns the worker record plus the plaintext auth
// token. The token appears here exactly once; only its hash is stored.
type RegisterWorkerResponse struct {
	*models.Worker
	AuthToken string `json:"auth_token"`
}

// DeregisterResponse is the body of a successful deregister.
type DeregisterResponse struct {
	Message  string `json:"message"`
	WorkerID string `json:"worker_id"`
}

// CredentialResponse is the body of a successful credential fetch.
type CredentialResponse struct {
	KeyName  string `json:"key_name"`
	KeyValue string `json:"key_value"`
}

// HealthCheck is one component's health inside HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}
