package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mecanolabs/jarvis/pkg/models"
	testdb "github.com/mecanolabs/jarvis/test/database"
)

func startedEvent(t *testing.T, universeID, agentID string) models.Event {
	t.Helper()
	ev, err := models.NewEvent(models.EventAgentStarted, "w1", universeID, models.AgentStartedPayload{
		Name:       "planner",
		Role:       "task-creator",
		Model:      "claude-sonnet-4-5-20250929",
		TaskPrompt: "plan the work",
	})
	require.NoError(t, err)
	return ev.WithAgent(agentID, "planner")
}

func iterationEvent(t *testing.T, universeID, agentID string, turn, iteration int) models.Event {
	t.Helper()
	ev, err := models.NewEvent(models.EventIterationDetail, "w1", universeID, models.IterationDetailPayload{
		TurnNumber:      turn,
		IterationNumber: iteration,
		SystemPrompt:    "You are a planner.",
		MessagesSent:    json.RawMessage(`[{"role":"user","content":"plan the work"}]`),
		ToolsAvailable:  json.RawMessage(`[{"name":"create_task"}]`),
		Model:           "claude-sonnet-4-5-20250929",
		MaxTokens:       8192,
		ResponseContent: json.RawMessage(`[{"type":"text","text":"ok"}]`),
		StopReason:      "end_turn",
		InputTokens:     100,
		OutputTokens:    25,
		ToolCalls: []models.ToolCallRecord{
			{Name: "create_task", Input: json.RawMessage(`{"prompt":"do it"}`), Result: `Created task "do it"`},
		},
		StartedAt:  time.Now().UTC(),
		DurationMS: 1200,
	})
	require.NoError(t, err)
	return ev.WithAgent(agentID, "planner")
}

func TestHandleAgentStarted(t *testing.T) {
	svc := NewConversationService(testdb.NewTestClient(t))
	ctx := context.Background()

	require.NoError(t, svc.HandleEvent(ctx, startedEvent(t, "u1", "a1")))

	conversations, err := svc.ListByUniverse(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, conversations, 1)

	c := conversations[0]
	assert.Equal(t, "u1", c.UniverseID)
	assert.Equal(t, "a1", c.AgentID)
	assert.Equal(t, "planner", c.AgentName)
	assert.Equal(t, "task-creator", c.AgentRole)
	assert.Equal(t, "w1", c.WorkerID)
	assert.Equal(t, "plan the work", c.TaskPrompt)
	assert.Equal(t, models.ConversationStatusRunning, c.Status)
	assert.Zero(t, c.TotalTurns)
}

func TestHandleAgentStartedReplayIsIdempotent(t *testing.T) {
	svc := NewConversationService(testdb.NewTestClient(t))
	ctx := context.Background()

	ev := startedEvent(t, "u1", "a1")
	require.NoError(t, svc.HandleEvent(ctx, ev))
	require.NoError(t, svc.HandleEvent(ctx, ev))

	conversations, err := svc.ListByUniverse(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, conversations, 1)
}

func TestHandleIterationDetail(t *testing.T) {
	svc := NewConversationService(testdb.NewTestClient(t))
	ctx := context.Background()

	require.NoError(t, svc.HandleEvent(ctx, startedEvent(t, "u1", "a1")))
	require.NoError(t, svc.HandleEvent(ctx, iterationEvent(t, "u1", "a1", 1, 1)))
	require.NoError(t, svc.HandleEvent(ctx, iterationEvent(t, "u1", "a1", 1, 2)))
	require.NoError(t, svc.HandleEvent(ctx, iterationEvent(t, "u1", "a1", 2, 1)))

	conversations, err := svc.ListByUniverse(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	c := conversations[0]
	assert.Equal(t, 2, c.TotalTurns)
	assert.Equal(t, 3, c.TotalIterations)
	assert.Equal(t, int64(300), c.TotalInputTokens)
	assert.Equal(t, int64(75), c.TotalOutputTokens)

	turns, err := svc.ListTurns(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, 1, turns[0].TurnNumber)
	assert.Equal(t, 1, turns[0].IterationNumber)
	assert.Equal(t, 1, turns[1].TurnNumber)
	assert.Equal(t, 2, turns[1].IterationNumber)
	assert.Equal(t, 2, turns[2].TurnNumber)
	assert.Equal(t, 1, turns[2].IterationNumber)

	first := turns[0]
	assert.Equal(t, "You are a planner.", first.SystemPrompt)
	assert.Equal(t, "end_turn", first.StopReason)
	assert.Equal(t, 8192, first.MaxTokens)
	assert.Equal(t, 1200, first.DurationMS)
	assert.JSONEq(t, `[{"type":"text","text":"ok"}]`, string(first.ResponseContent))

	var toolCalls []models.ToolCallRecord
	require.NoError(t, json.Unmarshal(first.ToolCalls, &toolCalls))
	require.Len(t, toolCalls, 1)
	assert.Equal(t, "create_task", toolCalls[0].Name)
}

func TestHandleIterationDetailReplayDoesNotDoubleCount(t *testing.T) {
	svc := NewConversationService(testdb.NewTestClient(t))
	ctx := context.Background()

	require.NoError(t, svc.HandleEvent(ctx, startedEvent(t, "u1", "a1")))
	ev := iterationEvent(t, "u1", "a1", 1, 1)
	require.NoError(t, svc.HandleEvent(ctx, ev))
	require.NoError(t, svc.HandleEvent(ctx, ev))

	conversations, err := svc.ListByUniverse(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, 1, conversations[0].TotalIterations)
	assert.Equal(t, int64(100), conversations[0].TotalInputTokens)

	turns, err := svc.ListTurns(ctx, conversations[0].ID)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func TestHandleIterationDetailUnknownConversationDropped(t *testing.T) {
	svc := NewConversationService(testdb.NewTestClient(t))
	ctx := context.Background()

	// No agent_started was seen; the turn is dropped without error.
	require.NoError(t, svc.HandleEvent(ctx, iterationEvent(t, "u-ghost", "a1", 1, 1)))

	conversations, err := svc.ListByUniverse(ctx, "u-ghost")
	require.NoError(t, err)
	assert.Empty(t, conversations)
}

func TestHandleAgentDone(t *testing.T) {
	svc := NewConversationService(testdb.NewTestClient(t))
	ctx := context.Background()

	require.NoError(t, svc.HandleEvent(ctx, startedEvent(t, "u1", "a1")))

	done, err := models.NewEvent(models.EventAgentDone, "w1", "u1", models.AgentDonePayload{Turns: 3})
	require.NoError(t, err)
	require.NoError(t, svc.HandleEvent(ctx, done.WithAgent("a1", "planner")))

	conversations, err := svc.ListByUniverse(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, models.ConversationStatusCompleted, conversations[0].Status)
	assert.NotNil(t, conversations[0].CompletedAt)
}

func TestHandleAgentDoneOnlyUpdatesRunning(t *testing.T) {
	svc := NewConversationService(testdb.NewTestClient(t))
	ctx := context.Background()

	require.NoError(t, svc.HandleEvent(ctx, startedEvent(t, "u1", "a1")))

	failed, err := models.NewEvent(models.EventAgentError, "w1", "u1", models.AgentErrorPayload{Error: "llm exploded"})
	require.NoError(t, err)
	require.NoError(t, svc.HandleEvent(ctx, failed.WithAgent("a1", "planner")))

	// A late agent_done must not overwrite the error outcome.
	done, err := models.NewEvent(models.EventAgentDone, "w1", "u1", models.AgentDonePayload{Turns: 3})
	require.NoError(t, err)
	require.NoError(t, svc.HandleEvent(ctx, done.WithAgent("a1", "planner")))

	conversations, err := svc.ListByUniverse(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, models.ConversationStatusError, conversations[0].Status)
	require.NotNil(t, conversations[0].ErrorMessage)
	assert.Equal(t, "llm exploded", *conversations[0].ErrorMessage)
}

func TestHandleEventIgnoresTransientTypes(t *testing.T) {
	svc := NewConversationService(testdb.NewTestClient(t))
	ctx := context.Background()

	ev, err := models.NewEvent(models.EventTurnStart, "w1", "u1", models.TurnStartPayload{Turn: 1, MaxTurns: 10})
	require.NoError(t, err)
	require.NoError(t, svc.HandleEvent(ctx, ev.WithAgent("a1", "planner")))

	conversations, err := svc.ListByUniverse(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, conversations)
}

func TestListByUniverseScopesToUniverse(t *testing.T) {
	svc := NewConversationService(testdb.NewTestClient(t))
	ctx := context.Background()

	require.NoError(t, svc.HandleEvent(ctx, startedEvent(t, "u1", "a1")))
	require.NoError(t, svc.HandleEvent(ctx, startedEvent(t, "u1", "a2")))
	require.NoError(t, svc.HandleEvent(ctx, startedEvent(t, "u2", "a1")))

	conversations, err := svc.ListByUniverse(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, conversations, 2)
}

func TestGetTurn(t *testing.T) {
	svc := NewConversationService(testdb.NewTestClient(t))
	ctx := context.Background()

	require.NoError(t, svc.HandleEvent(ctx, startedEvent(t, "u1", "a1")))
	require.NoError(t, svc.HandleEvent(ctx, iterationEvent(t, "u1", "a1", 1, 1)))

	conversations, err := svc.ListByUniverse(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	turns, err := svc.ListTurns(ctx, conversations[0].ID)
	require.NoError(t, err)
	require.Len(t, turns, 1)

	got, err := svc.GetTurn(ctx, conversations[0].ID, turns[0].ID)
	require.NoError(t, err)
	assert.Equal(t, turns[0].ID, got.ID)

	// Scoping: a turn id is only visible through its own conversation.
	_, err = svc.GetTurn(ctx, "00000000-0000-0000-0000-000000000000", turns[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
