package models

import "time"

// Worker status values.
const (
	WorkerStatusOnline  = "online"
	WorkerStatusOffline = "offline"
)

// Worker is one row in the worker registry. The id is chosen by the worker
// and stable across restarts; re-registration refreshes every other field.
type Worker struct {
	ID                  string    `json:"id"`
	Hostname            string    `json:"hostname"`
	WorkerName          string    `json:"worker_name"`
	WorkerAddress       string    `json:"worker_address"`
	MaxConcurrentAgents int       `json:"max_concurrent_agents"`
	CurrentAgents       int       `json:"current_agents"`
	Capabilities        []string  `json:"capabilities"`
	Status              string    `json:"status"`
	LastHeartbeatAt     time.Time `json:"last_heartbeat_at"`
	RegisteredAt        time.Time `json:"registered_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// HasCapacity reports whether the worker can accept another agent.
func (w *Worker) HasCapacity() bool {
	return w.Status == WorkerStatusOnline && w.CurrentAgents < w.MaxConcurrentAgents
}
