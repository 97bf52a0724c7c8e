package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mecanolabs/jarvis/pkg/models"
)

func mustEvent(t *testing.T, eventType, workerID, universeID string, payload any) models.Event {
	t.Helper()
	ev, err := models.NewEvent(eventType, workerID, universeID, payload)
	require.NoError(t, err)
	return ev
}

func TestApplyEventUniverseLifecycle(t *testing.T) {
	h := NewHub(nil, time.Second)

	h.applyEvent(mustEvent(t, models.EventUniverseCreated, "w1", "u1", models.UniverseCreatedPayload{
		Name:       "alpha",
		AgentCount: 1,
	}))

	universes := h.Universes()
	require.Len(t, universes, 1)
	assert.Equal(t, "u1", universes[0].ID)
	assert.Equal(t, "alpha", universes[0].Name)
	assert.Equal(t, models.UniverseStatusActive, universes[0].Status)
	assert.Equal(t, 0, universes[0].StateVersion)
	assert.Equal(t, "w1", universes[0].WorkerID)

	h.applyEvent(mustEvent(t, models.EventUniverseStopped, "w1", "u1", models.UniverseStoppedPayload{Reason: "done"}))

	universes = h.Universes()
	require.Len(t, universes, 1)
	assert.Equal(t, models.UniverseStatusTerminated, universes[0].Status)
}

func TestApplyEventAgentLifecycle(t *testing.T) {
	h := NewHub(nil, time.Second)

	h.applyEvent(mustEvent(t, models.EventUniverseCreated, "w1", "u1", models.UniverseCreatedPayload{Name: "alpha"}))

	started := mustEvent(t, models.EventAgentStarted, "w1", "u1", models.AgentStartedPayload{
		Name:  "researcher",
		Role:  "general",
		Model: "claude-sonnet-4-5-20250929",
	}).WithAgent("a1", "researcher")
	h.applyEvent(started)

	universes := h.Universes()
	require.Len(t, universes, 1)
	require.Len(t, universes[0].Agents, 1)
	agent := universes[0].Agents[0]
	assert.Equal(t, "a1", agent.ID)
	assert.Equal(t, "researcher", agent.Name)
	assert.Equal(t, models.AgentStatusRunning, agent.Status)

	// Replayed agent_started updates in place instead of duplicating.
	h.applyEvent(started)
	universes = h.Universes()
	require.Len(t, universes[0].Agents, 1)

	h.applyEvent(mustEvent(t, models.EventTurnStart, "w1", "u1", models.TurnStartPayload{Turn: 3, MaxTurns: 10}).WithAgent("a1", "researcher"))
	universes = h.Universes()
	assert.Equal(t, 3, universes[0].Agents[0].CurrentTurn)

	h.applyEvent(mustEvent(t, models.EventTurnEnd, "w1", "u1", models.TurnEndPayload{Turn: 3, StateVersion: 1}).WithAgent("a1", "researcher"))
	universes = h.Universes()
	assert.Equal(t, 1, universes[0].StateVersion)

	h.applyEvent(mustEvent(t, models.EventAgentDone, "w1", "u1", models.AgentDonePayload{Turns: 3}).WithAgent("a1", "researcher"))
	universes = h.Universes()
	assert.Equal(t, models.AgentStatusCompleted, universes[0].Agents[0].Status)
}

func TestApplyEventAgentError(t *testing.T) {
	h := NewHub(nil, time.Second)

	h.applyEvent(mustEvent(t, models.EventUniverseCreated, "w1", "u1", models.UniverseCreatedPayload{Name: "alpha"}))
	h.applyEvent(mustEvent(t, models.EventAgentStarted, "w1", "u1", models.AgentStartedPayload{Name: "x", Role: "general"}).WithAgent("a1", "x"))
	h.applyEvent(mustEvent(t, models.EventAgentError, "w1", "u1", models.AgentErrorPayload{Error: "llm call failed"}).WithAgent("a1", "x"))

	universes := h.Universes()
	require.Len(t, universes, 1)
	require.Len(t, universes[0].Agents, 1)
	assert.Equal(t, models.AgentStatusError, universes[0].Agents[0].Status)
	assert.Equal(t, "llm call failed", universes[0].Agents[0].Error)
}

func TestApplyEventNaturalCompletionTerminatesUniverse(t *testing.T) {
	h := NewHub(nil, time.Second)

	h.applyEvent(mustEvent(t, models.EventUniverseCreated, "w1", "u1", models.UniverseCreatedPayload{
		Name:       "alpha",
		AgentCount: 2,
	}))
	h.applyEvent(mustEvent(t, models.EventAgentStarted, "w1", "u1", models.AgentStartedPayload{Name: "a", Role: "general"}).WithAgent("a1", "a"))
	h.applyEvent(mustEvent(t, models.EventAgentStarted, "w1", "u1", models.AgentStartedPayload{Name: "b", Role: "general"}).WithAgent("a2", "b"))

	// First agent finishing leaves the universe active.
	h.applyEvent(mustEvent(t, models.EventAgentDone, "w1", "u1", models.AgentDonePayload{Turns: 1}).WithAgent("a1", "a"))
	universes := h.Universes()
	require.Len(t, universes, 1)
	assert.Equal(t, models.UniverseStatusActive, universes[0].Status)

	// The last agent reaching a terminal state terminates it, even though
	// the worker never sends universe_stopped for natural completion.
	h.applyEvent(mustEvent(t, models.EventAgentError, "w1", "u1", models.AgentErrorPayload{Error: "boom"}).WithAgent("a2", "b"))
	universes = h.Universes()
	require.Len(t, universes, 1)
	assert.Equal(t, models.UniverseStatusTerminated, universes[0].Status)

	// A late-added agent starting up revives the universe.
	h.applyEvent(mustEvent(t, models.EventAgentStarted, "w1", "u1", models.AgentStartedPayload{Name: "c", Role: "general"}).WithAgent("a3", "c"))
	universes = h.Universes()
	assert.Equal(t, models.UniverseStatusActive, universes[0].Status)
}

func TestApplyEventCompletionWaitsForUnstartedAgents(t *testing.T) {
	h := NewHub(nil, time.Second)

	h.applyEvent(mustEvent(t, models.EventUniverseCreated, "w1", "u1", models.UniverseCreatedPayload{
		Name:       "alpha",
		AgentCount: 2,
	}))
	h.applyEvent(mustEvent(t, models.EventAgentStarted, "w1", "u1", models.AgentStartedPayload{Name: "a", Role: "general"}).WithAgent("a1", "a"))
	h.applyEvent(mustEvent(t, models.EventAgentDone, "w1", "u1", models.AgentDonePayload{Turns: 1}).WithAgent("a1", "a"))

	// One of two announced agents has not even started; not done yet.
	universes := h.Universes()
	require.Len(t, universes, 1)
	assert.Equal(t, models.UniverseStatusActive, universes[0].Status)
}

func TestApplyEventUnknownUniverseDropped(t *testing.T) {
	h := NewHub(nil, time.Second)

	// Events for universes the cache never saw are dropped, not invented.
	h.applyEvent(mustEvent(t, models.EventAgentStarted, "w1", "ghost", models.AgentStartedPayload{Name: "x"}).WithAgent("a1", "x"))
	h.applyEvent(mustEvent(t, models.EventTurnEnd, "w1", "ghost", models.TurnEndPayload{Turn: 1, StateVersion: 1}))

	assert.Empty(t, h.Universes())
}

func TestUniversesSortedByCreation(t *testing.T) {
	h := NewHub(nil, time.Second)

	older := mustEvent(t, models.EventUniverseCreated, "w1", "u-b", models.UniverseCreatedPayload{Name: "b"})
	older.Timestamp = time.Now().Add(-time.Hour).UTC().Format(time.RFC3339Nano)
	h.applyEvent(older)
	h.applyEvent(mustEvent(t, models.EventUniverseCreated, "w1", "u-a", models.UniverseCreatedPayload{Name: "a"}))

	universes := h.Universes()
	require.Len(t, universes, 2)
	assert.Equal(t, "u-b", universes[0].ID)
	assert.Equal(t, "u-a", universes[1].ID)
}

func TestUniversesReturnsCopies(t *testing.T) {
	h := NewHub(nil, time.Second)

	h.applyEvent(mustEvent(t, models.EventUniverseCreated, "w1", "u1", models.UniverseCreatedPayload{Name: "alpha"}))
	h.applyEvent(mustEvent(t, models.EventAgentStarted, "w1", "u1", models.AgentStartedPayload{Name: "x"}).WithAgent("a1", "x"))

	first := h.Universes()
	first[0].Agents[0].Status = "mangled"

	second := h.Universes()
	assert.Equal(t, models.AgentStatusRunning, second[0].Agents[0].Status)
}
