package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mecanolabs/jarvis/pkg/llm"
	"github.com/mecanolabs/jarvis/pkg/models"
	"github.com/mecanolabs/jarvis/pkg/worker/tools"
)

// EventPublisher receives events produced by universes and agents.
type EventPublisher interface {
	Publish(models.Event)
}

// chatClient is the slice of llm.Client the agent loop needs.
type chatClient interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// toolRunner executes one tool call and returns its string result.
type toolRunner interface {
	Execute(ctx context.Context, name string, input json.RawMessage) string
}

// Agent is one agent's runtime record. The manager is the only mutator
// of Status, CurrentTurn, and Err; agent loops report through manager
// methods.
type Agent struct {
	ID         string
	Name       string
	Role       string
	Model      string
	TaskPrompt string
	Status     string
	CurrentTurn int
	Err        string

	cancel context.CancelFunc
}

// Universe is the authoritative in-memory record of one running
// universe on this worker.
type Universe struct {
	ID           string
	Name         string
	DimensionID  string
	WorktreePath string
	Status       string
	StateVersion int
	CreatedAt    time.Time
	State        *SharedState

	agents map[string]*Agent
}

// AgentSpec configures one agent at launch.
type AgentSpec struct {
	Name string
	Role string
	Model string
	Task string
}

// LaunchSpec configures a universe launch.
type LaunchSpec struct {
	Name         string
	DimensionID  string
	WorktreePath string
	Agents       []AgentSpec
}

// Manager owns the worker's active universes and their agent goroutines.
type Manager struct {
	workerID string
	cfg      *Config
	pub      EventPublisher
	chat     chatClient

	mu        sync.Mutex
	universes map[string]*Universe
	wg        sync.WaitGroup
}

// NewManager creates a Manager publishing through pub and calling the
// LLM through chat.
func NewManager(workerID string, cfg *Config, pub EventPublisher, chat chatClient) *Manager {
	return &Manager{
		workerID:  workerID,
		cfg:       cfg,
		pub:       pub,
		chat:      chat,
		universes: make(map[string]*Universe),
	}
}

// LaunchUniverse allocates a universe, publishes universe_created, and
// launches every configured agent.
func (m *Manager) LaunchUniverse(ctx context.Context, spec LaunchSpec) (string, error) {
	if len(spec.Agents) == 0 {
		return "", fmt.Errorf("at least one agent is required")
	}

	u := &Universe{
		ID:           uuid.NewString(),
		Name:         spec.Name,
		DimensionID:  spec.DimensionID,
		WorktreePath: spec.WorktreePath,
		Status:       models.UniverseStatusActive,
		CreatedAt:    time.Now().UTC(),
		State:        NewSharedState(),
		agents:       make(map[string]*Agent),
	}
	if u.Name == "" {
		u.Name = "universe-" + u.ID[:8]
	}

	m.mu.Lock()
	m.universes[u.ID] = u
	m.mu.Unlock()

	m.publish(models.EventUniverseCreated, u.ID, models.UniverseCreatedPayload{
		Name:         u.Name,
		DimensionID:  u.DimensionID,
		AgentCount:   len(spec.Agents),
		WorktreePath: u.WorktreePath,
	})
	slog.Info("Universe launched",
		"universe_id", u.ID,
		"name", u.Name,
		"agents", len(spec.Agents))

	for _, agentSpec := range spec.Agents {
		if _, err := m.LaunchAgent(ctx, u.ID, agentSpec); err != nil {
			return "", fmt.Errorf("launch agent %s: %w", agentSpec.Name, err)
		}
	}
	return u.ID, nil
}

// LaunchAgent adds an agent to an existing universe and starts its loop.
func (m *Manager) LaunchAgent(ctx context.Context, universeID string, spec AgentSpec) (string, error) {
	if spec.Task == "" {
		return "", fmt.Errorf("agent task is required")
	}
	if spec.Name == "" {
		spec.Name = "agent"
	}
	if spec.Role == "" {
		spec.Role = "general"
	}
	if spec.Model == "" {
		spec.Model = m.cfg.Model
	}

	agentCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	m.mu.Lock()
	u, ok := m.universes[universeID]
	if !ok {
		m.mu.Unlock()
		cancel()
		return "", fmt.Errorf("universe %s not found", universeID)
	}
	agent := &Agent{
		ID:         uuid.NewString(),
		Name:       spec.Name,
		Role:       spec.Role,
		Model:      spec.Model,
		TaskPrompt: spec.Task,
		Status:     models.AgentStatusIdle,
		cancel:     cancel,
	}
	u.agents[agent.ID] = agent
	worktree := u.WorktreePath
	state := u.State
	m.mu.Unlock()

	executor := tools.NewExecutor(worktree, m.cfg.APIURL+"/api", state)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runAgent(agentCtx, u, agent, executor)
		m.reapIfDone(universeID)
	}()
	return agent.ID, nil
}

// StopAgent cancels one agent; its loop observes cancellation and
// transitions to paused.
func (m *Manager) StopAgent(universeID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.universes[universeID]
	if !ok {
		return fmt.Errorf("universe %s not found", universeID)
	}
	agent, ok := u.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %s not found", agentID)
	}
	agent.cancel()
	return nil
}

// StopUniverse cancels every agent, marks the universe terminated, and
// publishes universe_stopped.
func (m *Manager) StopUniverse(universeID, reason string) error {
	m.mu.Lock()
	u, ok := m.universes[universeID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("universe %s not found", universeID)
	}
	u.Status = models.UniverseStatusTerminated
	for _, agent := range u.agents {
		agent.cancel()
	}
	delete(m.universes, universeID)
	m.mu.Unlock()

	m.publish(models.EventUniverseStopped, universeID, models.UniverseStoppedPayload{Reason: reason})
	slog.Info("Universe stopped", "universe_id", universeID, "reason", reason)
	return nil
}

// StopAll stops every universe. Best effort; called on shutdown.
func (m *Manager) StopAll(reason string) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.universes))
	for id := range m.universes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.StopUniverse(id, reason)
	}
}

// Wait blocks until every agent goroutine has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// RunningAgentCount reports the load figure sent in heartbeats.
func (m *Manager) RunningAgentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, u := range m.universes {
		for _, agent := range u.agents {
			if !models.AgentTerminal(agent.Status) {
				count++
			}
		}
	}
	return count
}

// Universes returns snapshots of every active universe, ordered by
// creation time.
func (m *Manager) Universes() []models.UniverseSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.UniverseSnapshot, 0, len(m.universes))
	for _, u := range m.universes {
		out = append(out, m.snapshotLocked(u))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Universe returns a snapshot of one universe.
func (m *Manager) Universe(id string) (models.UniverseSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.universes[id]
	if !ok {
		return models.UniverseSnapshot{}, false
	}
	return m.snapshotLocked(u), true
}

func (m *Manager) snapshotLocked(u *Universe) models.UniverseSnapshot {
	agents := make([]models.AgentSnapshot, 0, len(u.agents))
	for _, a := range u.agents {
		agents = append(agents, models.AgentSnapshot{
			ID:          a.ID,
			Name:        a.Name,
			Role:        a.Role,
			Model:       a.Model,
			Status:      a.Status,
			CurrentTurn: a.CurrentTurn,
			Error:       a.Err,
		})
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return models.UniverseSnapshot{
		ID:           u.ID,
		Name:         u.Name,
		DimensionID:  u.DimensionID,
		Status:       u.Status,
		StateVersion: u.StateVersion,
		WorkerID:     m.workerID,
		AgentCount:   len(agents),
		CreatedAt:    u.CreatedAt,
		Agents:       agents,
	}
}

// reapIfDone removes a universe from the active set once every agent has
// reached a terminal state. Reaping is silent; universe_stopped is only
// published for explicit stops.
func (m *Manager) reapIfDone(universeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.universes[universeID]
	if !ok {
		return
	}
	for _, agent := range u.agents {
		if !models.AgentTerminal(agent.Status) {
			return
		}
	}
	delete(m.universes, universeID)
	slog.Info("Universe complete, reaping", "universe_id", universeID, "name", u.Name)
}

// setAgentStatus updates one agent's status under the manager lock.
func (m *Manager) setAgentStatus(u *Universe, agentID, status, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if agent, ok := u.agents[agentID]; ok {
		agent.Status = status
		agent.Err = errMsg
	}
}

// setAgentTurn records the agent's current outer-loop turn.
func (m *Manager) setAgentTurn(u *Universe, agentID string, turn int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if agent, ok := u.agents[agentID]; ok {
		agent.CurrentTurn = turn
	}
}

// bumpStateVersion increments the universe's state version and returns
// the new value.
func (m *Manager) bumpStateVersion(u *Universe) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.StateVersion++
	return u.StateVersion
}

// publish builds and enqueues an event; marshal failures are logged and
// dropped rather than interrupting the caller.
func (m *Manager) publish(eventType, universeID string, payload any) {
	ev, err := models.NewEvent(eventType, m.workerID, universeID, payload)
	if err != nil {
		slog.Error("Failed to build event", "type", eventType, "error", err)
		return
	}
	m.pub.Publish(ev)
}

// publishAgent is publish with agent identity attached.
func (m *Manager) publishAgent(eventType, universeID string, agent *Agent, payload any) {
	ev, err := models.NewEvent(eventType, m.workerID, universeID, payload)
	if err != nil {
		slog.Error("Failed to build event", "type", eventType, "error", err)
		return
	}
	m.pub.Publish(ev.WithAgent(agent.ID, agent.Name))
}
