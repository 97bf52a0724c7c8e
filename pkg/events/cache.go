package events

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/mecanolabs/jarvis/pkg/models"
)

// applyEvent folds one worker event into the universe cache. Events for
// universes the cache has never seen (other than universe_created) are
// dropped silently — the cache is a soft projection, not a ledger.
func (h *Hub) applyEvent(ev models.Event) {
	h.cacheMu.Lock()
	defer h.cacheMu.Unlock()

	switch ev.Type {
	case models.EventUniverseCreated:
		var p models.UniverseCreatedPayload
		_ = json.Unmarshal(ev.Data, &p)
		h.universes[ev.UniverseID] = &models.UniverseSnapshot{
			ID:           ev.UniverseID,
			Name:         p.Name,
			DimensionID:  p.DimensionID,
			Status:       models.UniverseStatusActive,
			StateVersion: 0,
			WorkerID:     ev.WorkerID,
			AgentCount:   p.AgentCount,
			CreatedAt:    parseEventTime(ev.Timestamp),
			Agents:       []models.AgentSnapshot{},
		}

	case models.EventUniverseStopped:
		if u, ok := h.universes[ev.UniverseID]; ok {
			u.Status = models.UniverseStatusTerminated
		}

	case models.EventAgentStarted:
		u, ok := h.universes[ev.UniverseID]
		if !ok {
			return
		}
		var p models.AgentStartedPayload
		_ = json.Unmarshal(ev.Data, &p)
		name := p.Name
		if name == "" {
			name = ev.AgentName
		}
		u.Status = models.UniverseStatusActive
		if a := findAgent(u, ev.AgentID); a != nil {
			a.Name = name
			a.Role = p.Role
			a.Model = p.Model
			a.Status = models.AgentStatusRunning
			return
		}
		u.Agents = append(u.Agents, models.AgentSnapshot{
			ID:     ev.AgentID,
			Name:   name,
			Role:   p.Role,
			Model:  p.Model,
			Status: models.AgentStatusRunning,
		})

	case models.EventAgentDone:
		if u, ok := h.universes[ev.UniverseID]; ok {
			if a := findAgent(u, ev.AgentID); a != nil {
				a.Status = models.AgentStatusCompleted
			}
			markTerminatedIfDone(u)
		}

	case models.EventAgentError:
		if u, ok := h.universes[ev.UniverseID]; ok {
			if a := findAgent(u, ev.AgentID); a != nil {
				var p models.AgentErrorPayload
				_ = json.Unmarshal(ev.Data, &p)
				a.Status = models.AgentStatusError
				a.Error = p.Error
			}
			markTerminatedIfDone(u)
		}

	case models.EventTurnStart:
		if u, ok := h.universes[ev.UniverseID]; ok {
			if a := findAgent(u, ev.AgentID); a != nil {
				var p models.TurnStartPayload
				_ = json.Unmarshal(ev.Data, &p)
				a.CurrentTurn = p.Turn
			}
		}

	case models.EventTurnEnd:
		if u, ok := h.universes[ev.UniverseID]; ok {
			u.StateVersion++
		}
	}
}

// markTerminatedIfDone flips a universe to terminated once every expected
// agent has reported a terminal outcome. The worker reaps a naturally
// finished universe without an explicit universe_stopped, so the
// projection has to infer termination from the agent events. A universe
// whose agents have not all started yet stays active.
func markTerminatedIfDone(u *models.UniverseSnapshot) {
	if len(u.Agents) == 0 || len(u.Agents) < u.AgentCount {
		return
	}
	for i := range u.Agents {
		if !models.AgentTerminal(u.Agents[i].Status) {
			return
		}
	}
	u.Status = models.UniverseStatusTerminated
}

func findAgent(u *models.UniverseSnapshot, agentID string) *models.AgentSnapshot {
	for i := range u.Agents {
		if u.Agents[i].ID == agentID {
			return &u.Agents[i]
		}
	}
	return nil
}

func snapshotCopy(u *models.UniverseSnapshot) models.UniverseSnapshot {
	out := *u
	out.Agents = make([]models.AgentSnapshot, len(u.Agents))
	copy(out.Agents, u.Agents)
	return out
}

func sortSnapshots(us []models.UniverseSnapshot) {
	sort.Slice(us, func(i, j int) bool {
		if us[i].CreatedAt.Equal(us[j].CreatedAt) {
			return us[i].ID < us[j].ID
		}
		return us[i].CreatedAt.Before(us[j].CreatedAt)
	})
}

func parseEventTime(ts string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}
