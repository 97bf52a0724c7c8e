package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/mecanolabs/jarvis/pkg/database"
	"github.com/mecanolabs/jarvis/pkg/models"
)

const conversationColumns = `id, universe_id, agent_id, agent_name, agent_role, model, worker_id,
	task_prompt, status, error_message, total_turns, total_iterations,
	total_input_tokens, total_output_tokens, created_at, completed_at, updated_at`

const turnColumns = `id, conversation_id, turn_number, iteration_number, system_prompt,
	messages_sent, tools_available, model, max_tokens, response_content, stop_reason,
	input_tokens, output_tokens, tool_calls, started_at, duration_ms, created_at`

// ConversationService materializes conversation and turn rows from the
// worker event stream and serves the read API. Writes are idempotent under
// the unique keys (universe_id, agent_id) and (conversation_id, turn_number,
// iteration_number) so at-most-once event re-delivery is absorbed.
type ConversationService struct {
	db *database.Client
}

// NewConversationService creates a ConversationService.
func NewConversationService(db *database.Client) *ConversationService {
	return &ConversationService{db: db}
}

// HandleEvent persists the side effects of one worker event. Event types
// outside the persistable set are ignored.
func (s *ConversationService) HandleEvent(ctx context.Context, ev models.Event) error {
	switch ev.Type {
	case models.EventAgentStarted:
		return s.handleAgentStarted(ctx, ev)
	case models.EventIterationDetail:
		return s.handleIterationDetail(ctx, ev)
	case models.EventAgentDone:
		return s.handleAgentDone(ctx, ev)
	case models.EventAgentError:
		return s.handleAgentError(ctx, ev)
	}
	return nil
}

func (s *ConversationService) handleAgentStarted(ctx context.Context, ev models.Event) error {
	var p models.AgentStartedPayload
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return fmt.Errorf("decode agent_started payload: %w", err)
		}
	}
	name := p.Name
	if name == "" {
		name = ev.AgentName
	}

	_, err := s.db.Pool().Exec(ctx, `
		INSERT INTO conversations (universe_id, agent_id, agent_name, agent_role, model,
			worker_id, task_prompt, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'running')
		ON CONFLICT (universe_id, agent_id) DO NOTHING`,
		ev.UniverseID, ev.AgentID, name, p.Role, p.Model, ev.WorkerID, p.TaskPrompt)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *ConversationService) handleIterationDetail(ctx context.Context, ev models.Event) error {
	var p models.IterationDetailPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("decode iteration_detail payload: %w", err)
	}

	var conversationID string
	err := s.db.Pool().QueryRow(ctx, `
		SELECT id FROM conversations
		WHERE universe_id = $1 AND agent_id = $2
		ORDER BY created_at DESC
		LIMIT 1`, ev.UniverseID, ev.AgentID).Scan(&conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No retroactive inference: an iteration without its
			// agent_started is dropped rather than orphaned.
			slog.Warn("Dropping turn for unknown conversation",
				"universe_id", ev.UniverseID, "agent_id", ev.AgentID,
				"turn", p.TurnNumber, "iteration", p.IterationNumber)
			return nil
		}
		return fmt.Errorf("look up conversation: %w", err)
	}

	toolCalls, err := json.Marshal(p.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}

	tag, err := s.db.Pool().Exec(ctx, `
		INSERT INTO turns (conversation_id, turn_number, iteration_number, system_prompt,
			messages_sent, tools_available, model, max_tokens, response_content, stop_reason,
			input_tokens, output_tokens, tool_calls, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (conversation_id, turn_number, iteration_number) DO NOTHING`,
		conversationID, p.TurnNumber, p.IterationNumber, p.SystemPrompt,
		p.MessagesSent, p.ToolsAvailable, p.Model, p.MaxTokens, p.ResponseContent,
		p.StopReason, p.InputTokens, p.OutputTokens, toolCalls, p.StartedAt, p.DurationMS)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	// A duplicate (re-delivered) iteration must not inflate the aggregates.
	if tag.RowsAffected() == 0 {
		return nil
	}

	_, err = s.db.Pool().Exec(ctx, `
		UPDATE conversations
		SET total_iterations = total_iterations + 1,
			total_turns = GREATEST(total_turns, $2),
			total_input_tokens = total_input_tokens + $3,
			total_output_tokens = total_output_tokens + $4,
			updated_at = now()
		WHERE id = $1`,
		conversationID, p.TurnNumber, p.InputTokens, p.OutputTokens)
	if err != nil {
		return fmt.Errorf("update conversation aggregates: %w", err)
	}
	return nil
}

func (s *ConversationService) handleAgentDone(ctx context.Context, ev models.Event) error {
	_, err := s.db.Pool().Exec(ctx, `
		UPDATE conversations
		SET status = 'completed', completed_at = now(), updated_at = now()
		WHERE universe_id = $1 AND agent_id = $2 AND status = 'running'`,
		ev.UniverseID, ev.AgentID)
	if err != nil {
		return fmt.Errorf("complete conversation: %w", err)
	}
	return nil
}

func (s *ConversationService) handleAgentError(ctx context.Context, ev models.Event) error {
	var p models.AgentErrorPayload
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return fmt.Errorf("decode agent_error payload: %w", err)
		}
	}
	_, err := s.db.Pool().Exec(ctx, `
		UPDATE conversations
		SET status = 'error', error_message = $3, completed_at = now(), updated_at = now()
		WHERE universe_id = $1 AND agent_id = $2`,
		ev.UniverseID, ev.AgentID, p.Error)
	if err != nil {
		return fmt.Errorf("fail conversation: %w", err)
	}
	return nil
}

// ListByUniverse returns the conversations of one universe, oldest first.
func (s *ConversationService) ListByUniverse(ctx context.Context, universeID string) ([]*models.Conversation, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE universe_id = $1
		ORDER BY created_at ASC`, universeID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := []*models.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return conversations, nil
}

// ListTurns returns the turns of one conversation in execution order.
func (s *ConversationService) ListTurns(ctx context.Context, conversationID string) ([]*models.Turn, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT `+turnColumns+` FROM turns
		WHERE conversation_id = $1
		ORDER BY turn_number ASC, iteration_number ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	turns := []*models.Turn{}
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return turns, nil
}

// GetTurn returns one turn scoped to its conversation.
func (s *ConversationService) GetTurn(ctx context.Context, conversationID, turnID string) (*models.Turn, error) {
	row := s.db.Pool().QueryRow(ctx, `
		SELECT `+turnColumns+` FROM turns
		WHERE conversation_id = $1 AND id = $2`, conversationID, turnID)
	t, err := scanTurn(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get turn %s: %w", turnID, err)
	}
	return t, nil
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(&c.ID, &c.UniverseID, &c.AgentID, &c.AgentName, &c.AgentRole,
		&c.Model, &c.WorkerID, &c.TaskPrompt, &c.Status, &c.ErrorMessage,
		&c.TotalTurns, &c.TotalIterations, &c.TotalInputTokens, &c.TotalOutputTokens,
		&c.CreatedAt, &c.CompletedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanTurn(row pgx.Row) (*models.Turn, error) {
	var t models.Turn
	err := row.Scan(&t.ID, &t.ConversationID, &t.TurnNumber, &t.IterationNumber,
		&t.SystemPrompt, &t.MessagesSent, &t.ToolsAvailable, &t.Model, &t.MaxTokens,
		&t.ResponseContent, &t.StopReason, &t.InputTokens, &t.OutputTokens,
		&t.ToolCalls, &t.StartedAt, &t.DurationMS, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
