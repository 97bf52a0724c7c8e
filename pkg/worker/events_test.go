package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mecanolabs/jarvis/pkg/models"
)

func turnEvent(t *testing.T, universeID string, turn int) models.Event {
	t.Helper()
	ev, err := models.NewEvent(models.EventTurnStart, "w1", universeID, models.TurnStartPayload{Turn: turn, MaxTurns: 10})
	require.NoError(t, err)
	return ev
}

func recvEvent(t *testing.T, frames <-chan models.Event) models.Event {
	t.Helper()
	select {
	case ev := <-frames:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return models.Event{}
	}
}

func eventServer(t *testing.T, frames chan<- models.Event) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		require.NoError(t, err)
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var ev models.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			frames <- ev
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEventSenderDeliversInOrder(t *testing.T) {
	frames := make(chan models.Event, 16)
	srv := eventServer(t, frames)

	sender := NewEventSender("ws" + strings.TrimPrefix(srv.URL, "http"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sender.Run(ctx)

	for _, universeID := range []string{"u1", "u2", "u3"} {
		ev, err := models.NewEvent(models.EventTurnStart, "w1", universeID, models.TurnStartPayload{Turn: 1, MaxTurns: 10})
		require.NoError(t, err)
		sender.Publish(ev)
	}

	for _, want := range []string{"u1", "u2", "u3"} {
		select {
		case ev := <-frames:
			assert.Equal(t, want, ev.UniverseID)
			assert.Equal(t, models.EventTurnStart, ev.Type)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

func TestEventSenderSurvivesLateServer(t *testing.T) {
	// Events published before the sender manages to connect are buffered
	// and delivered once the dial succeeds.
	frames := make(chan models.Event, 16)
	srv := eventServer(t, frames)

	sender := NewEventSender("ws" + strings.TrimPrefix(srv.URL, "http"))
	ev, err := models.NewEvent(models.EventAgentDone, "w1", "u1", models.AgentDonePayload{Turns: 2})
	require.NoError(t, err)
	sender.Publish(ev)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sender.Run(ctx)

	select {
	case got := <-frames:
		assert.Equal(t, models.EventAgentDone, got.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for buffered event")
	}
}

func TestEventSenderResendsPendingFirst(t *testing.T) {
	frames := make(chan models.Event, 16)
	srv := eventServer(t, frames)

	conn, _, err := websocket.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sender := NewEventSender("ws://unused")
	sender.queue <- turnEvent(t, "u-queued", 1)
	held := turnEvent(t, "u-held", 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *models.Event, 1)
	go func() { done <- sender.sendLoop(ctx, ctx, conn, &held) }()

	// The held event from the previous connection goes out before anything
	// already queued.
	assert.Equal(t, "u-held", recvEvent(t, frames).UniverseID)
	assert.Equal(t, "u-queued", recvEvent(t, frames).UniverseID)

	cancel()
	assert.Nil(t, <-done)
}

func TestEventSenderReconnectsAfterDrop(t *testing.T) {
	frames := make(chan models.Event, 16)
	accepted := make(chan struct{}, 4)
	var conns atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		require.NoError(t, err)
		accepted <- struct{}{}

		if conns.Add(1) == 1 {
			// First connection: take one frame, then hang up.
			_, data, err := conn.Read(r.Context())
			if err == nil {
				var ev models.Event
				if json.Unmarshal(data, &ev) == nil {
					frames <- ev
				}
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}

		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var ev models.Event
			if json.Unmarshal(data, &ev) == nil {
				frames <- ev
			}
		}
	}))
	t.Cleanup(srv.Close)

	waitAccept := func() {
		select {
		case <-accepted:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for a connection")
		}
	}

	sender := NewEventSender("ws" + strings.TrimPrefix(srv.URL, "http"))
	sender.reconnect = 50 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sender.Run(ctx)

	waitAccept()
	sender.Publish(turnEvent(t, "u1", 1))
	assert.Equal(t, "u1", recvEvent(t, frames).UniverseID)

	// The server hung up after that frame; the sender notices and redials.
	waitAccept()
	sender.Publish(turnEvent(t, "u2", 2))
	sender.Publish(turnEvent(t, "u3", 3))
	assert.Equal(t, "u2", recvEvent(t, frames).UniverseID)
	assert.Equal(t, "u3", recvEvent(t, frames).UniverseID)
}

func TestPublishOverflowNeverBlocks(t *testing.T) {
	sender := NewEventSender("ws://unused")
	ev := turnEvent(t, "u1", 1)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < eventBufferSize; i++ {
				sender.Publish(ev)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, len(sender.queue), eventBufferSize)
}

func TestEventSenderDropsOldestWhenFull(t *testing.T) {
	sender := NewEventSender("ws://unused")

	for i := 0; i < eventBufferSize+2; i++ {
		ev, err := models.NewEvent(models.EventTurnStart, "w1", "u1", models.TurnStartPayload{Turn: i, MaxTurns: 10})
		require.NoError(t, err)
		sender.Publish(ev)
	}

	// The queue holds the newest eventBufferSize events; the oldest two
	// were dropped.
	first := <-sender.queue
	var payload models.TurnStartPayload
	require.NoError(t, json.Unmarshal(first.Data, &payload))
	assert.Equal(t, 2, payload.Turn)
	assert.Len(t, sender.queue, eventBufferSize-1)
}
