package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/mecanolabs/jarvis/pkg/llm"
	"github.com/mecanolabs/jarvis/pkg/models"
	"github.com/mecanolabs/jarvis/pkg/worker/tools"
)

// Truncation limits for event payloads. llm_response text and tool_result
// events carry a preview; the full exchange travels in iteration_detail,
// where collected tool results are capped at recordTextLimit.
const (
	eventTextLimit    = 500
	recordTextLimit   = 1000
	decisionTextLimit = 200
)

const stopReasonToolUse = "tool_use"

// runAgent drives one agent from idle to a terminal state. Cancellation
// parks the agent as paused with no terminal event; errors emit
// agent_error; a clean exit emits agent_done.
func (m *Manager) runAgent(ctx context.Context, u *Universe, agent *Agent, executor toolRunner) {
	m.setAgentStatus(u, agent.ID, models.AgentStatusRunning, "")
	m.publishAgent(models.EventAgentStarted, u.ID, agent, models.AgentStartedPayload{
		Name:       agent.Name,
		Role:       agent.Role,
		Model:      agent.Model,
		TaskPrompt: agent.TaskPrompt,
	})
	slog.Info("Agent started",
		"universe_id", u.ID,
		"agent_id", agent.ID,
		"name", agent.Name,
		"role", agent.Role)

	toolDefs := tools.ForRole(agent.Role, u.WorktreePath)
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(agent.TaskPrompt)),
	}

	turnsRun := 0
	var loopErr error
	for turn := 1; turn <= m.cfg.MaxTurns; turn++ {
		if ctx.Err() != nil {
			break
		}
		turnsRun = turn
		m.setAgentTurn(u, agent.ID, turn)
		m.publishAgent(models.EventTurnStart, u.ID, agent, models.TurnStartPayload{
			Turn:     turn,
			MaxTurns: m.cfg.MaxTurns,
		})

		system := buildSystemPrompt(agent.Role, u.Name, turn, m.cfg.MaxTurns, u.State)

		// Task creators converse across turns; every other role starts
		// each turn fresh from the task prompt.
		if agent.Role != tools.RoleTaskCreator && turn > 1 {
			messages = []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(agent.TaskPrompt)),
			}
		}

		endedWithToolUse, err := m.runTurn(ctx, u, agent, executor, system, &messages, toolDefs, turn)
		if err != nil {
			loopErr = err
			break
		}

		version := m.bumpStateVersion(u)
		m.publishAgent(models.EventTurnEnd, u.ID, agent, models.TurnEndPayload{
			Turn:         turn,
			StateVersion: version,
		})

		if !endedWithToolUse {
			break
		}
	}

	switch {
	case ctx.Err() != nil:
		// Stopped from outside; no terminal event, the stop is its own signal.
		m.setAgentStatus(u, agent.ID, models.AgentStatusPaused, "")
		slog.Info("Agent paused", "universe_id", u.ID, "agent_id", agent.ID)
	case loopErr != nil:
		m.setAgentStatus(u, agent.ID, models.AgentStatusError, loopErr.Error())
		m.publishAgent(models.EventAgentError, u.ID, agent, models.AgentErrorPayload{
			Error: loopErr.Error(),
		})
		slog.Error("Agent failed",
			"universe_id", u.ID,
			"agent_id", agent.ID,
			"error", loopErr)
	default:
		m.setAgentStatus(u, agent.ID, models.AgentStatusCompleted, "")
		m.publishAgent(models.EventAgentDone, u.ID, agent, models.AgentDonePayload{
			Turns: turnsRun,
		})
		slog.Info("Agent done",
			"universe_id", u.ID,
			"agent_id", agent.ID,
			"turns", turnsRun)
	}
}

// runTurn runs the inner tool-use loop for one turn. It reports whether
// the final assistant response still contained a tool_use block, which
// the outer loop uses as its early-completion signal.
func (m *Manager) runTurn(
	ctx context.Context,
	u *Universe,
	agent *Agent,
	executor toolRunner,
	system string,
	messages *[]anthropic.MessageParam,
	toolDefs []anthropic.ToolUnionParam,
	turn int,
) (bool, error) {
	endedWithToolUse := false
	var lastText string

	for iteration := 1; iteration <= m.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		snapshot, err := json.Marshal(*messages)
		if err != nil {
			return false, err
		}
		startedAt := time.Now().UTC()

		resp, err := m.chat.Chat(ctx, llm.ChatRequest{
			Model:    agent.Model,
			System:   system,
			Messages: *messages,
			Tools:    toolDefs,
		})
		if err != nil {
			return false, err
		}
		durationMS := time.Since(startedAt).Milliseconds()

		*messages = append(*messages, anthropic.NewAssistantMessage(blocksToParams(resp.Content)...))

		lastText = concatText(resp.Content)
		m.publishAgent(models.EventLLMResponse, u.ID, agent, models.LLMResponsePayload{
			Iteration:    iteration,
			Text:         truncate(lastText, eventTextLimit),
			StopReason:   resp.StopReason,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
		})

		endedWithToolUse = hasToolUse(resp.Content)

		var records []models.ToolCallRecord
		if resp.StopReason == stopReasonToolUse {
			var resultBlocks []anthropic.ContentBlockParamUnion
			for _, block := range resp.Content {
				if block.Type != "tool_use" {
					continue
				}
				m.publishAgent(models.EventToolCall, u.ID, agent, models.ToolCallPayload{
					Tool:      block.Name,
					ToolUseID: block.ID,
					Input:     json.RawMessage(block.Input),
				})

				result := executor.Execute(ctx, block.Name, json.RawMessage(block.Input))

				m.publishAgent(models.EventToolResult, u.ID, agent, models.ToolResultPayload{
					Tool:      block.Name,
					ToolUseID: block.ID,
					Result:    truncate(result, eventTextLimit),
				})
				records = append(records, models.ToolCallRecord{
					Name:   block.Name,
					Input:  json.RawMessage(block.Input),
					Result: truncate(result, recordTextLimit),
				})
				isError := strings.HasPrefix(result, "Error:")
				resultBlocks = append(resultBlocks, anthropic.NewToolResultBlock(block.ID, result, isError))
			}
			if len(resultBlocks) > 0 {
				*messages = append(*messages, anthropic.NewUserMessage(resultBlocks...))
			}
		}

		m.publishIterationDetail(u, agent, iterationDetailArgs{
			turn:       turn,
			iteration:  iteration,
			system:     system,
			snapshot:   snapshot,
			toolDefs:   toolDefs,
			resp:       resp,
			records:    records,
			startedAt:  startedAt,
			durationMS: durationMS,
		})

		if resp.StopReason != stopReasonToolUse {
			break
		}
	}

	// The turn's concluding text feeds the shared decision log, which
	// later turns (of every agent in the universe) see in their system
	// prompts.
	if text := strings.TrimSpace(lastText); text != "" {
		u.State.AddDecision(fmt.Sprintf("%s (turn %d): %s", agent.Name, turn, truncate(text, decisionTextLimit)))
	}
	return endedWithToolUse, nil
}

type iterationDetailArgs struct {
	turn       int
	iteration  int
	system     string
	snapshot   json.RawMessage
	toolDefs   []anthropic.ToolUnionParam
	resp       *llm.ChatResponse
	records    []models.ToolCallRecord
	startedAt  time.Time
	durationMS int64
}

func (m *Manager) publishIterationDetail(u *Universe, agent *Agent, args iterationDetailArgs) {
	responseContent, err := json.Marshal(args.resp.Content)
	if err != nil {
		slog.Error("Failed to marshal response content", "error", err)
		responseContent = json.RawMessage(`[]`)
	}
	var toolsJSON json.RawMessage
	if len(args.toolDefs) > 0 {
		if toolsJSON, err = json.Marshal(args.toolDefs); err != nil {
			toolsJSON = nil
		}
	}

	m.publishAgent(models.EventIterationDetail, u.ID, agent, models.IterationDetailPayload{
		TurnNumber:      args.turn,
		IterationNumber: args.iteration,
		SystemPrompt:    args.system,
		MessagesSent:    args.snapshot,
		ToolsAvailable:  toolsJSON,
		Model:           agent.Model,
		MaxTokens:       llm.DefaultMaxTokens,
		ResponseContent: responseContent,
		StopReason:      args.resp.StopReason,
		InputTokens:     args.resp.InputTokens,
		OutputTokens:    args.resp.OutputTokens,
		ToolCalls:       args.records,
		StartedAt:       args.startedAt,
		DurationMS:      args.durationMS,
	})
}

// blocksToParams rebuilds response blocks as message params so the
// assistant turn can be appended to the window verbatim.
func blocksToParams(blocks []anthropic.ContentBlockUnion) []anthropic.ContentBlockParamUnion {
	params := make([]anthropic.ContentBlockParamUnion, 0, len(blocks))
	for _, block := range blocks {
		switch block.Type {
		case "text":
			params = append(params, anthropic.NewTextBlock(block.Text))
		case "tool_use":
			params = append(params, anthropic.NewToolUseBlock(block.ID, block.Input, block.Name))
		}
	}
	return params
}

// concatText joins the text blocks of a response.
func concatText(blocks []anthropic.ContentBlockUnion) string {
	var b strings.Builder
	for _, block := range blocks {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// hasToolUse reports whether any block is a tool_use.
func hasToolUse(blocks []anthropic.ContentBlockUnion) bool {
	for _, block := range blocks {
		if block.Type == "tool_use" {
			return true
		}
	}
	return false
}

// truncate caps s at limit runes.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
