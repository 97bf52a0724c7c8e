package services

import (
	"context"
	"fmt"
	"os"

	"github.com/mecanolabs/jarvis/pkg/models"
)

// allowedCredentialKeys is the closed set of credential names a worker may
// request from the broker.
var allowedCredentialKeys = map[string]bool{
	"ANTHROPIC_API_KEY": true,
	"OPENAI_API_KEY":    true,
	"GOOGLE_API_KEY":    true,
	"GEMINI_API_KEY":    true,
}

// SecretSource resolves an allow-listed credential name to its plaintext
// value. The default source reads process environment variables; a vault
// integration would implement the same interface.
type SecretSource interface {
	Get(name string) (string, bool)
}

// EnvSecretSource resolves credentials from the process environment.
type EnvSecretSource struct{}

// Get implements SecretSource.
func (EnvSecretSource) Get(name string) (string, bool) {
	v := os.Getenv(name)
	return v, v != ""
}

// TokenAuthenticator resolves a plaintext bearer token to a worker.
// Implemented by WorkerService.
type TokenAuthenticator interface {
	AuthenticateToken(ctx context.Context, token string) (*models.Worker, error)
}

// CredentialService gates credential access behind worker token auth and
// the key allow-list.
type CredentialService struct {
	auth   TokenAuthenticator
	source SecretSource
}

// NewCredentialService creates a CredentialService.
func NewCredentialService(auth TokenAuthenticator, source SecretSource) *CredentialService {
	return &CredentialService{auth: auth, source: source}
}

// Fetch returns the plaintext value of an allow-listed credential for the
// worker identified by the bearer token. Offline workers are refused: a
// reaped or deregistered worker must re-register (rotating its token)
// before it can fetch credentials again.
func (s *CredentialService) Fetch(ctx context.Context, bearerToken, keyName string) (string, error) {
	worker, err := s.auth.AuthenticateToken(ctx, bearerToken)
	if err != nil {
		return "", err
	}
	if worker.Status == models.WorkerStatusOffline {
		return "", fmt.Errorf("worker %s is offline: %w", worker.ID, ErrForbidden)
	}
	if !allowedCredentialKeys[keyName] {
		return "", NewValidationError("key_name", "is not an allowed credential key")
	}
	value, ok := s.source.Get(keyName)
	if !ok {
		return "", fmt.Errorf("credential %s: %w", keyName, ErrNotFound)
	}
	return value, nil
}
