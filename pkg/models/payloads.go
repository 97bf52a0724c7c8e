package models

import (
	"encoding/json"
	"time"
)

// Typed payloads for the Data field of each event type. The producer
// (worker) marshals these; the conversation store unmarshals the ones it
// persists. Dashboard clients receive them verbatim.

// UniverseCreatedPayload accompanies universe_created.
type UniverseCreatedPayload struct {
	Name         string `json:"name"`
	DimensionID  string `json:"dimension_id,omitempty"`
	AgentCount   int    `json:"agent_count"`
	WorktreePath string `json:"worktree_path,omitempty"`
}

// UniverseStoppedPayload accompanies universe_stopped.
type UniverseStoppedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// AgentStartedPayload accompanies agent_started. It carries everything the
// conversation store needs to materialize a conversation row.
type AgentStartedPayload struct {
	Name       string `json:"name"`
	Role       string `json:"role"`
	Model      string `json:"model"`
	TaskPrompt string `json:"task_prompt"`
}

// AgentDonePayload accompanies agent_done.
type AgentDonePayload struct {
	Turns int `json:"turns"`
}

// AgentErrorPayload accompanies agent_error.
type AgentErrorPayload struct {
	Error string `json:"error"`
}

// TurnStartPayload accompanies turn_start.
type TurnStartPayload struct {
	Turn     int `json:"turn"`
	MaxTurns int `json:"max_turns"`
}

// TurnEndPayload accompanies turn_end.
type TurnEndPayload struct {
	Turn         int `json:"turn"`
	StateVersion int `json:"state_version"`
}

// LLMResponsePayload accompanies llm_response. Text is truncated by the
// producer; the full response travels only in iteration_detail.
type LLMResponsePayload struct {
	Iteration    int    `json:"iteration"`
	Text         string `json:"text"`
	StopReason   string `json:"stop_reason"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// ToolCallPayload accompanies tool_call.
type ToolCallPayload struct {
	Tool      string          `json:"tool"`
	ToolUseID string          `json:"tool_use_id"`
	Input     json.RawMessage `json:"input"`
}

// ToolResultPayload accompanies tool_result. Result is truncated by the
// producer.
type ToolResultPayload struct {
	Tool      string `json:"tool"`
	ToolUseID string `json:"tool_use_id"`
	Result    string `json:"result"`
}

// ToolCallRecord is one executed tool call inside an iteration_detail
// payload. Result is truncated to 1000 characters by the producer.
type ToolCallRecord struct {
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input"`
	Result string          `json:"result"`
}

// IterationDetailPayload accompanies iteration_detail: the complete record
// of one LLM exchange. This is the atomic unit persisted as a turn row.
type IterationDetailPayload struct {
	TurnNumber      int              `json:"turn_number"`
	IterationNumber int              `json:"iteration_number"`
	SystemPrompt    string           `json:"system_prompt"`
	MessagesSent    json.RawMessage  `json:"messages_sent"`
	ToolsAvailable  json.RawMessage  `json:"tools_available,omitempty"`
	Model           string           `json:"model"`
	MaxTokens       int              `json:"max_tokens"`
	ResponseContent json.RawMessage  `json:"response_content"`
	StopReason      string           `json:"stop_reason"`
	InputTokens     int64            `json:"input_tokens"`
	OutputTokens    int64            `json:"output_tokens"`
	ToolCalls       []ToolCallRecord `json:"tool_calls,omitempty"`
	StartedAt       time.Time        `json:"started_at"`
	DurationMS      int64            `json:"duration_ms"`
}
