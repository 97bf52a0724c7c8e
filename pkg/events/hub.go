package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/mecanolabs/jarvis/pkg/models"
)

// persistTimeout bounds one conversation-store write. Persistence is
// fire-and-forget relative to the ingest loop.
const persistTimeout = 30 * time.Second

// Persister consumes persistable worker events. Implemented by
// services.ConversationService.
type Persister interface {
	HandleEvent(ctx context.Context, ev models.Event) error
}

// persistableTypes are the event types handed to the Persister.
var persistableTypes = map[string]bool{
	models.EventAgentStarted:    true,
	models.EventIterationDetail: true,
	models.EventAgentDone:       true,
	models.EventAgentError:      true,
}

// Hub is the process-wide fan-out object. All universe-cache and
// subscriber-set mutation is confined to it; workers and dashboards only
// hold connections.
type Hub struct {
	persister    Persister
	writeTimeout time.Duration

	// Dashboard connections: connection_id → *dashboardConn
	mu         sync.RWMutex
	dashboards map[string]*dashboardConn

	// Universe cache: universe_id → snapshot. Soft state; empty after a
	// restart until worker events rehydrate it.
	cacheMu   sync.RWMutex
	universes map[string]*models.UniverseSnapshot
}

// dashboardConn is a single dashboard WebSocket client.
type dashboardConn struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a Hub.
func NewHub(persister Persister, writeTimeout time.Duration) *Hub {
	return &Hub{
		persister:    persister,
		writeTimeout: writeTimeout,
		dashboards:   make(map[string]*dashboardConn),
		universes:    make(map[string]*models.UniverseSnapshot),
	}
}

// HandleWorkerConnection consumes one worker's event stream. Called by the
// WebSocket HTTP handler after upgrade; blocks until the connection closes.
// Frame handling never fails the connection: invalid frames are logged and
// skipped so one bad event cannot sever a worker's stream.
func (h *Hub) HandleWorkerConnection(ctx context.Context, workerID string, conn *websocket.Conn) {
	slog.Info("Worker event stream connected", "worker_id", workerID)
	defer slog.Info("Worker event stream closed", "worker_id", workerID)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("Invalid worker event frame", "worker_id", workerID, "error", err)
			continue
		}
		if ev.WorkerID == "" {
			ev.WorkerID = workerID
		}

		h.applyEvent(ev)
		h.persistAsync(ev)
		h.broadcast(data)
	}
}

// HandleDashboardConnection serves one dashboard subscriber: a snapshot
// frame first, then every relayed worker event. Blocks until the
// connection closes.
func (h *Hub) HandleDashboardConnection(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	c := &dashboardConn{
		id:     uuid.New().String(),
		conn:   conn,
		ctx:    connCtx,
		cancel: cancel,
	}

	snapshot, err := json.Marshal(snapshotMessage{Type: "snapshot", Universes: h.Universes()})
	if err != nil {
		slog.Error("Failed to marshal universe snapshot", "error", err)
		cancel()
		return
	}
	if err := h.send(c, snapshot); err != nil {
		slog.Warn("Failed to send snapshot to dashboard client", "connection_id", c.id, "error", err)
		cancel()
		return
	}

	h.register(c)
	defer h.unregister(c)

	// Read loop — answer pings, ignore everything else, exit on close.
	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Action == "ping" {
			pong, _ := json.Marshal(map[string]string{"type": "pong"})
			if err := h.send(c, pong); err != nil {
				return
			}
		}
	}
}

// Universes returns a copy of the cached universe projections.
func (h *Hub) Universes() []models.UniverseSnapshot {
	h.cacheMu.RLock()
	defer h.cacheMu.RUnlock()

	out := make([]models.UniverseSnapshot, 0, len(h.universes))
	for _, u := range h.universes {
		out = append(out, snapshotCopy(u))
	}
	sortSnapshots(out)
	return out
}

// ActiveDashboards returns the count of connected dashboard clients.
func (h *Hub) ActiveDashboards() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.dashboards)
}

// persistAsync hands a persistable event to the conversation store without
// blocking the ingest loop. Persistence failures are logged, never fatal.
func (h *Hub) persistAsync(ev models.Event) {
	if h.persister == nil || !persistableTypes[ev.Type] {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Event persistence panicked", "event_type", ev.Type, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := h.persister.HandleEvent(ctx, ev); err != nil {
			slog.Warn("Event persistence failed",
				"event_type", ev.Type, "universe_id", ev.UniverseID,
				"agent_id", ev.AgentID, "error", err)
		}
	}()
}

// broadcast relays a raw event frame to every dashboard connection.
// Connection pointers are snapshotted under the lock, then released before
// sending so slow writes (up to writeTimeout each) cannot stall
// register/unregister.
func (h *Hub) broadcast(frame []byte) {
	h.mu.RLock()
	conns := make([]*dashboardConn, 0, len(h.dashboards))
	for _, c := range h.dashboards {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := h.send(c, frame); err != nil {
			slog.Warn("Dropping dashboard client after failed send",
				"connection_id", c.id, "error", err)
			h.unregister(c)
		}
	}
}

func (h *Hub) register(c *dashboardConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dashboards[c.id] = c
}

func (h *Hub) unregister(c *dashboardConn) {
	h.mu.Lock()
	delete(h.dashboards, c.id)
	h.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// send writes raw bytes to one dashboard connection with a write timeout.
func (h *Hub) send(c *dashboardConn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
