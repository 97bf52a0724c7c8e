// Package events implements the control plane's event fan-out: it ingests
// per-worker WebSocket event streams, maintains the in-memory universe
// cache, hands persistable events to the conversation store, and broadcasts
// every event to dashboard subscribers.
package events

import "github.com/mecanolabs/jarvis/pkg/models"

// ClientMessage is the JSON structure for dashboard → server WebSocket
// messages. Only "ping" is meaningful; everything else is ignored.
type ClientMessage struct {
	Action string `json:"action"`
}

// snapshotMessage is the first frame sent to every dashboard connection.
type snapshotMessage struct {
	Type      string                    `json:"type"`
	Universes []models.UniverseSnapshot `json:"universes"`
}
