package dispatcher

import (
	"encoding/json"

	"fugue/internal/fugueerr"
	"fugue/internal/fugueid"
	"fugue/internal/layout"
	"fugue/internal/pane"
	"fugue/internal/store"
	"fugue/internal/window"
)

// Mutation is the WAL payload for one committed state mutation. The
// daemon's recovery path decodes these and re-applies them on top of the
// latest checkpoint, so every field captures post-state (assigned ids
// included) rather than request arguments - replay must never
// re-generate an id.
type Mutation struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Mutation kinds, exhaustive over the ops whose effects must survive
// restart. Input, reads, polls, and orchestration sends are not here:
// they mutate no topology (orchestration inboxes are in-memory per the
// delivery-guarantee contract).
const (
	MutCreateSession = "create_session"
	MutRenameSession = "rename_session"
	MutKillSession   = "kill_session"
	MutCreateWindow  = "create_window"
	MutSelectWindow  = "select_window"
	MutCreatePane    = "create_pane"
	MutClosePane     = "close_pane"
	MutResizePane    = "resize_pane"
	MutFocusPane     = "focus_pane"
	MutSetTags       = "set_tags"
	MutSetMetadata   = "set_metadata"
	MutMirror        = "mirror"
)

type CreateSessionMutation struct {
	Topology store.SessionTopology `json:"topology"`
}

type RenameSessionMutation struct {
	SessionID fugueid.ID `json:"session_id"`
	Name      string     `json:"name"`
}

type KillSessionMutation struct {
	SessionID fugueid.ID `json:"session_id"`
}

type CreateWindowMutation struct {
	SessionID fugueid.ID      `json:"session_id"`
	Window    window.Snapshot `json:"window"`
	Pane      pane.Snapshot   `json:"pane"`
}

type SelectWindowMutation struct {
	SessionID fugueid.ID `json:"session_id"`
	WindowID  fugueid.ID `json:"window_id"`
}

type CreatePaneMutation struct {
	SessionID  fugueid.ID       `json:"session_id"`
	WindowID   fugueid.ID       `json:"window_id"`
	ParentPane fugueid.ID       `json:"parent_pane"`
	Direction  layout.Direction `json:"direction"`
	Ratio      float64          `json:"ratio"`
	Pane       pane.Snapshot    `json:"pane"`
}

type ClosePaneMutation struct {
	PaneID fugueid.ID `json:"pane_id"`
}

type ResizePaneMutation struct {
	PaneID fugueid.ID `json:"pane_id"`
	Rows   int        `json:"rows"`
	Cols   int        `json:"cols"`
}

type FocusPaneMutation struct {
	WindowID fugueid.ID `json:"window_id"`
	PaneID   fugueid.ID `json:"pane_id"`
}

type SetTagsMutation struct {
	Target TagTarget `json:"target"`
	Add    []string  `json:"add,omitempty"`
	Remove []string  `json:"remove,omitempty"`
}

type SetMetadataMutation struct {
	Target TagTarget `json:"target"`
	Key    string    `json:"key"`
	Value  string    `json:"value"`
}

type MirrorMutation struct {
	SourcePane    fugueid.ID       `json:"source_pane"`
	MirrorSession fugueid.ID       `json:"mirror_session"`
	WindowID      fugueid.ID       `json:"window_id"`
	ParentPane    fugueid.ID       `json:"parent_pane"`
	Direction     layout.Direction `json:"direction"`
	Ratio         float64          `json:"ratio"`
	Pane          pane.Snapshot    `json:"pane"`
}

// EncodeMutation builds the WAL payload for a mutation record.
func EncodeMutation(kind string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fugueerr.Wrap(fugueerr.Internal, err, "marshal %s mutation", kind)
	}
	return json.Marshal(Mutation{Kind: kind, Data: data})
}

// DecodeMutation reverses EncodeMutation, for the daemon's replay path.
func DecodeMutation(payload []byte) (Mutation, error) {
	var m Mutation
	if err := json.Unmarshal(payload, &m); err != nil {
		return Mutation{}, fugueerr.Wrap(fugueerr.Internal, err, "decode wal mutation")
	}
	return m, nil
}
