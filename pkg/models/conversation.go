package models

import (
	"encoding/json"
	"time"
)

// Conversation status values.
const (
	ConversationStatusRunning   = "running"
	ConversationStatusCompleted = "completed"
	ConversationStatusError     = "error"
)

// Conversation is the control-plane persistence of one agent's run.
// Exactly one row exists per (universe_id, agent_id).
type Conversation struct {
	ID                string     `json:"id"`
	UniverseID        string     `json:"universe_id"`
	AgentID           string     `json:"agent_id"`
	AgentName         string     `json:"agent_name"`
	AgentRole         string     `json:"agent_role"`
	Model             string     `json:"model"`
	WorkerID          string     `json:"worker_id"`
	TaskPrompt        string     `json:"task_prompt"`
	Status            string     `json:"status"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	TotalTurns        int        `json:"total_turns"`
	TotalIterations   int        `json:"total_iterations"`
	TotalInputTokens  int64      `json:"total_input_tokens"`
	TotalOutputTokens int64      `json:"total_output_tokens"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Turn is one LLM call plus the tool calls it triggered. Append-only.
type Turn struct {
	ID              string          `json:"id"`
	ConversationID  string          `json:"conversation_id"`
	TurnNumber      int             `json:"turn_number"`
	IterationNumber int             `json:"iteration_number"`
	SystemPrompt    string          `json:"system_prompt"`
	MessagesSent    json.RawMessage `json:"messages_sent"`
	ToolsAvailable  json.RawMessage `json:"tools_available,omitempty"`
	Model           string          `json:"model"`
	MaxTokens       int             `json:"max_tokens"`
	ResponseContent json.RawMessage `json:"response_content"`
	StopReason      string          `json:"stop_reason"`
	InputTokens     int             `json:"input_tokens"`
	OutputTokens    int             `json:"output_tokens"`
	ToolCalls       json.RawMessage `json:"tool_calls,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	DurationMS      int             `json:"duration_ms"`
	CreatedAt       time.Time       `json:"created_at"`
}
