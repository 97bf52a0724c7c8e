package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const identityDir = ".jarvis"
const identityFile = "worker_id"

// LoadOrCreateWorkerID returns this host's stable worker identity. The
// UUID persists in ~/.jarvis/worker_id so the worker keeps its registry
// row across restarts; a missing or corrupt file mints a new identity.
func LoadOrCreateWorkerID() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	path := filepath.Join(home, identityDir, identityFile)

	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if _, parseErr := uuid.Parse(id); parseErr == nil {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create identity directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persist worker id: %w", err)
	}
	return id, nil
}
