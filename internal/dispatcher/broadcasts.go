package dispatcher

import (
	"encoding/json"

	"fugue/internal/fugueid"
)

// Broadcast payload shapes, one per wire.Kind broadcast constant. The
// set here must stay exhaustive against wire.Kind's broadcast range:
// adding a broadcast kind without a matching payload here and in every
// client-side filter leaves stale broadcasts polluting response reads.

type SessionCreatedBroadcast struct {
	SessionID fugueid.ID `json:"session_id"`
	Name      string     `json:"name"`
}

type SessionFocusedBroadcast struct {
	SessionID fugueid.ID `json:"session_id"`
	WindowID  fugueid.ID `json:"window_id"`
}

type SessionKilledBroadcast struct {
	SessionID fugueid.ID `json:"session_id"`
}

type WindowCreatedBroadcast struct {
	SessionID fugueid.ID `json:"session_id"`
	WindowID  fugueid.ID `json:"window_id"`
}

type WindowFocusedBroadcast struct {
	SessionID fugueid.ID `json:"session_id"`
	WindowID  fugueid.ID `json:"window_id"`
}

type PaneCreatedBroadcast struct {
	SessionID  fugueid.ID `json:"session_id"`
	WindowID   fugueid.ID `json:"window_id"`
	PaneID     fugueid.ID `json:"pane_id"`
	ParentPane fugueid.ID `json:"parent_pane,omitempty"`
}

type PaneClosedBroadcast struct {
	SessionID fugueid.ID `json:"session_id"`
	WindowID  fugueid.ID `json:"window_id"`
	PaneID    fugueid.ID `json:"pane_id"`
}

type PaneFocusedBroadcast struct {
	SessionID fugueid.ID `json:"session_id"`
	WindowID  fugueid.ID `json:"window_id"`
	PaneID    fugueid.ID `json:"pane_id"`
}

type PaneResizedBroadcast struct {
	PaneID fugueid.ID `json:"pane_id"`
	Rows   int        `json:"rows"`
	Cols   int        `json:"cols"`
}

type PaneStateChangedBroadcast struct {
	PaneID fugueid.ID `json:"pane_id"`
	From   string     `json:"from"`
	To     string     `json:"to"`
}

type OutputBroadcast struct {
	PaneID fugueid.ID `json:"pane_id"`
	Bytes  []byte     `json:"bytes"`
}

type OrchestrationReceivedBroadcast struct {
	SessionID   fugueid.ID      `json:"session_id"`
	FromSession fugueid.ID      `json:"from_session"`
	MsgType     string          `json:"msg_type"`
	Payload     json.RawMessage `json:"payload"`
}

type PaneCrashBroadcast struct {
	PaneID   fugueid.ID `json:"pane_id"`
	ExitCode int        `json:"exit_code"`
	Signaled bool       `json:"signaled"`
}
