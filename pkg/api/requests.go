package api

// RegisterWorkerRequest is the body of POST /api/workers/register.
type RegisterWorkerRequest struct {
	WorkerID            string   `json:"worker_id,omitempty"`
	Hostname            string   `json:"hostname"`
	WorkerName          string   `json:"worker_name,omitempty"`
	WorkerAddress       string   `json:"worker_address,omitempty"`
	MaxConcurrentAgents int      `json:"max_concurrent_agents"`
	Capabilities        []string `json:"capabilities,omitempty"`
}

// HeartbeatRequest is the body of POST /api/workers/:id/heartbeat.
type HeartbeatRequest struct {
	CurrentAgents int    `json:"current_agents"`
	Status        string `json:"status"`
}
