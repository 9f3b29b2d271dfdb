// Package webmirror is a read-only event mirror for external observers
// (spec.md §1's web/voice front-end collaborator): a websocket endpoint
// that fans out the daemon's broadcast-class wire events as JSON, with
// per-session subscription filtering, and accepts no commands back. It
// generalizes the teacher's internal/hub.Hub — a websocket hub pairing a
// register/unregister/broadcast goroutine loop with per-client
// subscription state — from a read-write PTY control channel into a
// strictly read-only diagnostic stream: panes.write, session creation,
// and every other mutating operation stay behind internal/transport's
// authenticated wire protocol.
package webmirror

import (
	"encoding/base64"
	"encoding/json"

	"github.com/user/agentmux/internal/wire"
)

// Event is the JSON projection of one broadcast-class wire.Envelope. Type
// identifies which fields are populated; unknown/unprojected kinds are
// dropped rather than forwarded opaque, since a read-only mirror with no
// schema is not useful to an external consumer.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	WindowID  string `json:"windowId,omitempty"`
	PaneID    string `json:"paneId,omitempty"`
	State     string `json:"state,omitempty"`
	Detail    string `json:"detail,omitempty"`
	DataB64   string `json:"dataBase64,omitempty"`
	From      string `json:"from,omitempty"`
	MsgType   string `json:"msgType,omitempty"`
	PayloadB64 string `json:"payloadBase64,omitempty"`
}

// projectEvent converts env into an Event, or reports ok=false for a kind
// this mirror doesn't project (request/response-class kinds never reach
// here since only internal/registry.Registry.Broadcast* calls feed the
// mirror hook, but defensive regardless).
func projectEvent(env wire.Envelope) (Event, bool) {
	switch env.Kind {
	case wire.KindPaneOutput:
		var body wire.PaneOutputBroadcast
		if err := wire.DecodeBody(env, &body); err != nil {
			return Event{}, false
		}
		return Event{
			Type:      "pane_output",
			SessionID: body.SessionID,
			PaneID:    body.PaneID,
			DataB64:   base64.StdEncoding.EncodeToString(body.Data),
		}, true

	case wire.KindPaneStateChanged:
		var body wire.PaneStateChangedBroadcast
		if err := wire.DecodeBody(env, &body); err != nil {
			return Event{}, false
		}
		return Event{
			Type:      "pane_state_changed",
			SessionID: body.SessionID,
			PaneID:    body.PaneID,
			State:     body.State,
			Detail:    body.Detail,
		}, true

	case wire.KindPaneCreated:
		var body wire.PaneCreatedBroadcast
		if err := wire.DecodeBody(env, &body); err != nil {
			return Event{}, false
		}
		return Event{
			Type:      "pane_created",
			SessionID: body.SessionID,
			WindowID:  body.WindowID,
			PaneID:    body.PaneID,
		}, true

	case wire.KindPaneDestroyed:
		var body wire.PaneDestroyedBroadcast
		if err := wire.DecodeBody(env, &body); err != nil {
			return Event{}, false
		}
		return Event{Type: "pane_destroyed", SessionID: body.SessionID, PaneID: body.PaneID}, true

	case wire.KindWindowDestroyed:
		var body wire.WindowDestroyedBroadcast
		if err := wire.DecodeBody(env, &body); err != nil {
			return Event{}, false
		}
		return Event{Type: "window_destroyed", SessionID: body.SessionID, WindowID: body.WindowID}, true

	case wire.KindSessionDestroyed:
		var body wire.SessionDestroyedBroadcast
		if err := wire.DecodeBody(env, &body); err != nil {
			return Event{}, false
		}
		return Event{Type: "session_destroyed", SessionID: body.SessionID}, true

	case wire.KindOrchestrationMessage:
		var body wire.OrchestrationMessageBroadcast
		if err := wire.DecodeBody(env, &body); err != nil {
			return Event{}, false
		}
		return Event{
			Type:       "orchestration_message",
			SessionID:  body.SessionID,
			From:       body.From,
			MsgType:    body.MsgType,
			PayloadB64: base64.StdEncoding.EncodeToString(body.Payload),
		}, true

	default:
		return Event{}, false
	}
}

func mustMarshal(e Event) []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return []byte(`{"type":"encode_error"}`)
	}
	return data
}
