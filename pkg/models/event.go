// Package models defines the wire and domain types shared by the control
// plane and the worker runtime: workers, conversations, turns, universe
// snapshots, and the event frames that flow over the worker WebSocket.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types carried on the worker event stream. This set is closed;
// the fan-out and the conversation store switch on these values.
const (
	EventUniverseCreated = "universe_created"
	EventUniverseStopped = "universe_stopped"
	EventAgentStarted    = "agent_started"
	EventAgentDone       = "agent_done"
	EventAgentError      = "agent_error"
	EventTurnStart       = "turn_start"
	EventTurnEnd         = "turn_end"
	EventLLMResponse     = "llm_response"
	EventToolCall        = "tool_call"
	EventToolResult      = "tool_result"
	EventIterationDetail = "iteration_detail"
)

// Event is one frame on the worker → control-plane WebSocket.
// Data stays raw so the fan-out can relay frames verbatim; only the
// conversation store decodes payloads it cares about.
type Event struct {
	Type       string          `json:"type"`
	WorkerID   string          `json:"worker_id"`
	UniverseID string          `json:"universe_id"`
	AgentID    string          `json:"agent_id,omitempty"`
	AgentName  string          `json:"agent_name,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  string          `json:"timestamp"`
}

// NewEvent builds an event with the payload marshaled into Data and the
// timestamp set to now (RFC3339, UTC).
func NewEvent(eventType, workerID, universeID string, payload any) (Event, error) {
	ev := Event{
		Type:       eventType,
		WorkerID:   workerID,
		UniverseID: universeID,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		ev.Data = data
	}
	return ev, nil
}

// WithAgent returns a copy of the event tagged with agent identity.
func (e Event) WithAgent(agentID, agentName string) Event {
	e.AgentID = agentID
	e.AgentName = agentName
	return e
}
