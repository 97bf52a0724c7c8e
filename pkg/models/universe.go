package models

import "time"

// Universe status values.
const (
	UniverseStatusInitializing = "initializing"
	UniverseStatusActive       = "active"
	UniverseStatusSuspended    = "suspended"
	UniverseStatusTerminated   = "terminated"
	UniverseStatusError        = "error"
)

// Agent status values.
const (
	AgentStatusIdle      = "idle"
	AgentStatusRunning   = "running"
	AgentStatusPaused    = "paused"
	AgentStatusCompleted = "completed"
	AgentStatusError     = "error"
)

// AgentTerminal reports whether an agent status is final.
func AgentTerminal(status string) bool {
	switch status {
	case AgentStatusPaused, AgentStatusCompleted, AgentStatusError:
		return true
	}
	return false
}

// AgentSnapshot is the dashboard-facing projection of one agent.
type AgentSnapshot struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Model       string `json:"model,omitempty"`
	Status      string `json:"status"`
	CurrentTurn int    `json:"current_turn"`
	Error       string `json:"error,omitempty"`
}

// UniverseSnapshot is the dashboard-facing projection of one universe.
// On the control plane this is soft state derived from the event stream;
// on the worker it is a copy of the authoritative in-memory record.
type UniverseSnapshot struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	DimensionID  string          `json:"dimension_id,omitempty"`
	Status       string          `json:"status"`
	StateVersion int             `json:"state_version"`
	WorkerID     string          `json:"worker_id"`
	AgentCount   int             `json:"agent_count"`
	CreatedAt    time.Time       `json:"created_at"`
	Agents       []AgentSnapshot `json:"agents"`
}
