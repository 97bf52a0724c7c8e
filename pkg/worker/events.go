package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/mecanolabs/jarvis/pkg/models"
)

const (
	eventBufferSize   = 256
	reconnectInterval = 5 * time.Second
	eventWriteTimeout = 10 * time.Second
)

// EventSender streams agent events to the control plane over a WebSocket.
// The connection is owned by Run; Publish never blocks the agent loop for
// long — when the buffer is full the oldest unsent event is dropped with
// a warning rather than stalling an agent mid-turn.
type EventSender struct {
	wsURL     string
	reconnect time.Duration
	queue     chan models.Event
}

// NewEventSender creates a sender targeting the given ws:// URL.
func NewEventSender(wsURL string) *EventSender {
	return &EventSender{
		wsURL:     wsURL,
		reconnect: reconnectInterval,
		queue:     make(chan models.Event, eventBufferSize),
	}
}

// Publish enqueues an event for delivery.
func (s *EventSender) Publish(ev models.Event) {
	select {
	case s.queue <- ev:
	default:
		// Buffer full: drop the oldest to keep the stream fresh.
		select {
		case dropped := <-s.queue:
			slog.Warn("Event buffer full, dropping oldest event",
				"dropped_type", dropped.Type,
				"universe_id", dropped.UniverseID)
		default:
		}
		select {
		case s.queue <- ev:
		default:
			// Lost the refill race to a concurrent publisher; this event
			// is dropped instead.
			slog.Warn("Event buffer full, dropping event",
				"type", ev.Type,
				"universe_id", ev.UniverseID)
		}
	}
}

// Run drives the connect/send loop until ctx is canceled. A send failure
// holds the event as pending, reconnects after a delay, and resends the
// pending event before draining the queue — no event is lost to a
// connection flap.
func (s *EventSender) Run(ctx context.Context) {
	var pending *models.Event

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.Dial(ctx, s.wsURL, nil)
		if err != nil {
			slog.Warn("Event stream connect failed, retrying",
				"url", s.wsURL,
				"error", err)
			if !sleepCtx(ctx, s.reconnect) {
				return
			}
			continue
		}
		slog.Info("Event stream connected", "url", s.wsURL)

		// The control plane never sends data frames; CloseRead watches the
		// connection so a peer close is noticed even while the queue is idle.
		connCtx := conn.CloseRead(ctx)

		pending = s.sendLoop(ctx, connCtx, conn, pending)
		_ = conn.Close(websocket.StatusNormalClosure, "")

		if ctx.Err() != nil {
			return
		}
		if !sleepCtx(ctx, s.reconnect) {
			return
		}
	}
}

// sendLoop sends events until the connection dies, a write fails, or ctx
// is canceled. The event that failed to send is returned so the next
// connection retries it first.
func (s *EventSender) sendLoop(ctx, connCtx context.Context, conn *websocket.Conn, pending *models.Event) *models.Event {
	if pending != nil {
		if err := s.send(ctx, conn, *pending); err != nil {
			slog.Warn("Resend of pending event failed", "type", pending.Type, "error", err)
			return pending
		}
		pending = nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-connCtx.Done():
			// Connection closed by the peer with nothing in flight.
			return nil
		case ev := <-s.queue:
			if err := s.send(ctx, conn, ev); err != nil {
				slog.Warn("Event send failed, holding for reconnect",
					"type", ev.Type,
					"universe_id", ev.UniverseID,
					"error", err)
				return &ev
			}
		}
	}
}

func (s *EventSender) send(ctx context.Context, conn *websocket.Conn, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// sleepCtx sleeps for d, returning false if ctx was canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
