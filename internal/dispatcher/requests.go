// Package dispatcher implements the request dispatcher: the daemon's
// typed request/response surface, serialized per inbound connection,
// applied transactionally against the state store, and durable via the
// WAL before any response or broadcast is observable.
package dispatcher

import (
	"encoding/json"

	"fugue/internal/fugueid"
	"fugue/internal/layout"
)

// Op names one request operation. The set is closed; an unknown op is
// answered with InvalidArgument.
type Op string

const (
	OpConnect           Op = "connect"
	OpPing              Op = "ping"
	OpListSessions      Op = "list_sessions"
	OpCreateSession     Op = "create_session"
	OpAttachSession     Op = "attach_session"
	OpDetachSession     Op = "detach_session"
	OpKillSession       Op = "kill_session"
	OpRenameSession     Op = "rename_session"
	OpCreateWindow      Op = "create_window"
	OpSelectWindow      Op = "select_window"
	OpCreatePane        Op = "create_pane"
	OpSplitPane         Op = "split_pane" // alias of create_pane; see Dispatcher.handleCreatePane
	OpClosePane         Op = "close_pane"
	OpResizePane        Op = "resize_pane"
	OpFocusPane         Op = "focus_pane"
	OpSendInput         Op = "send_input"
	OpReadPane          Op = "read_pane"
	OpListPanes         Op = "list_panes"
	OpSetTags           Op = "set_tags"
	OpGetTags           Op = "get_tags"
	OpSetMetadata       Op = "set_metadata"
	OpGetMetadata       Op = "get_metadata"
	OpPollMessages      Op = "poll_messages"
	OpSendOrchestration Op = "send_orchestration"
	OpBroadcast         Op = "broadcast"
	OpMirror            Op = "mirror"
)

// RequestEnvelope is the payload of every wire.KindRequest frame: an Op
// tag plus an opaque payload the dispatcher decodes based on that tag.
type RequestEnvelope struct {
	Op      Op              `json:"op"`
	Actor   string          `json:"actor,omitempty"` // "human" (default) or "automation"
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ResponseEnvelope is the payload of every wire.KindResponse frame.
type ResponseEnvelope struct {
	Op      Op              `json:"op"`
	Error   *ErrorPayload   `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the wire encoding of a fugueerr.Error: a
// machine-readable Kind, a human Message, and an optional retry hint.
type ErrorPayload struct {
	Kind       string  `json:"kind"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after,omitempty"`
}

// TagTarget disambiguates SetTags/GetTags/SetMetadata/GetMetadata's
// target entity: tags and metadata live on both sessions and panes.
type TagTarget struct {
	Kind string     `json:"kind"` // "session" or "pane"
	ID   fugueid.ID `json:"id"`
}

// --- Connect / Ping ---

type ConnectRequest struct {
	ProtocolVersion uint8 `json:"protocol_version"`
}

type ConnectResponse struct {
	ProtocolVersion uint8      `json:"protocol_version"`
	ClientID        fugueid.ID `json:"client_id"`
}

type PingResponse struct {
	OK bool `json:"ok"`
}

// OKResponse is the payload for mutations whose only result is that
// they happened (send_input, focus_pane, resize_pane, set_metadata...).
type OKResponse struct {
	OK bool `json:"ok"`
}

// --- Sessions ---

type ListSessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

type SessionInfo struct {
	ID           fugueid.ID   `json:"id"`
	Name         string       `json:"name"`
	Worktree     string       `json:"worktree,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	WindowIDs    []fugueid.ID `json:"window_ids"`
	ActiveWindow fugueid.ID   `json:"active_window"`
}

type CreateSessionRequest struct {
	Name             string            `json:"name"`
	Command          string            `json:"command,omitempty"`
	Args             []string          `json:"args,omitempty"`
	CWD              string            `json:"cwd,omitempty"`
	Rows             int               `json:"rows,omitempty"`
	Cols             int               `json:"cols,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	Worktree         string            `json:"worktree,omitempty"`
	ClassifierPreset string            `json:"classifier_preset,omitempty"`
	SessionType      string            `json:"session_type,omitempty"`

	// Preset names a command template under <state-dir>/presets/; Vars
	// supplies its declared template variables. When set, Preset renders
	// Command/Args and the explicit Command field is ignored.
	Preset string            `json:"preset,omitempty"`
	Vars   map[string]string `json:"vars,omitempty"`
}

type CreateSessionResponse struct {
	SessionID fugueid.ID `json:"session_id"`
	WindowID  fugueid.ID `json:"window_id"`
	PaneID    fugueid.ID `json:"pane_id"`
}

type AttachSessionRequest struct {
	SessionID fugueid.ID `json:"session_id"`
	// Name resolves the session by its unique name when SessionID is
	// empty, so thin clients don't need a ListSessions round trip first.
	Name string `json:"name,omitempty"`
}

type AttachSessionResponse struct {
	SessionID    fugueid.ID `json:"session_id"`
	Name         string     `json:"name"`
	ActiveWindow fugueid.ID `json:"active_window"`
	FocusedPane  fugueid.ID `json:"focused_pane"`
	Panes        []PaneInfo `json:"panes"`
}

type DetachSessionResponse struct {
	OK bool `json:"ok"`
}

type KillSessionRequest struct {
	SessionID fugueid.ID `json:"session_id"`
}

type KillSessionResponse struct {
	OK bool `json:"ok"`
}

type RenameSessionRequest struct {
	SessionID fugueid.ID `json:"session_id"`
	Name      string     `json:"name"`
}

type RenameSessionResponse struct {
	OK bool `json:"ok"`
}

// --- Windows ---

type CreateWindowRequest struct {
	SessionID        fugueid.ID `json:"session_id"`
	Title            string     `json:"title,omitempty"`
	Command          string     `json:"command,omitempty"`
	Args             []string   `json:"args,omitempty"`
	CWD              string     `json:"cwd,omitempty"`
	Rows             int        `json:"rows,omitempty"`
	Cols             int        `json:"cols,omitempty"`
	ClassifierPreset string     `json:"classifier_preset,omitempty"`
}

type CreateWindowResponse struct {
	WindowID fugueid.ID `json:"window_id"`
	PaneID   fugueid.ID `json:"pane_id"`
}

type SelectWindowRequest struct {
	SessionID fugueid.ID `json:"session_id"`
	WindowID  fugueid.ID `json:"window_id"`
}

// --- Panes ---

type CreatePaneRequest struct {
	ParentPane       fugueid.ID       `json:"parent_pane"`
	Direction        layout.Direction `json:"direction"`
	Command          string           `json:"command,omitempty"`
	Args             []string         `json:"args,omitempty"`
	CWD              string           `json:"cwd,omitempty"`
	ClassifierPreset string           `json:"classifier_preset,omitempty"`
	Ratio            float64          `json:"ratio,omitempty"`
}

type CreatePaneResponse struct {
	PaneID    fugueid.ID       `json:"pane_id"`
	Direction layout.Direction `json:"direction"`
}

type ClosePaneRequest struct {
	PaneID fugueid.ID `json:"pane_id"`
}

type ClosePaneResponse struct {
	OK            bool `json:"ok"`
	WindowClosed  bool `json:"window_closed"`
	SessionClosed bool `json:"session_closed"`
}

type ResizePaneRequest struct {
	PaneID fugueid.ID `json:"pane_id"`
	Rows   int        `json:"rows"`
	Cols   int        `json:"cols"`
}

type FocusPaneRequest struct {
	PaneID fugueid.ID `json:"pane_id"`
}

type SendInputRequest struct {
	PaneID fugueid.ID `json:"pane_id"`
	Bytes  []byte     `json:"bytes"`
	Submit bool       `json:"submit,omitempty"`
}

type ReadPaneRequest struct {
	PaneID fugueid.ID `json:"pane_id"`
	Lines  int        `json:"lines,omitempty"`
}

type ReadPaneResponse struct {
	Bytes    []byte `json:"bytes"`
	Activity string `json:"activity"`
}

type ListPanesRequest struct {
	SessionID fugueid.ID `json:"session_id"`
}

type PaneInfo struct {
	ID        fugueid.ID `json:"id"`
	WindowID  fugueid.ID `json:"window_id"`
	SessionID fugueid.ID `json:"session_id"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
}

type ListPanesResponse struct {
	Panes []PaneInfo `json:"panes"`
}

// --- Tags / Metadata ---

type SetTagsRequest struct {
	Target TagTarget `json:"target"`
	Add    []string  `json:"add,omitempty"`
	Remove []string  `json:"remove,omitempty"`
}

type GetTagsRequest struct {
	Target TagTarget `json:"target"`
}

type GetTagsResponse struct {
	Tags []string `json:"tags"`
}

type SetMetadataRequest struct {
	Target TagTarget `json:"target"`
	Key    string    `json:"key"`
	Value  string    `json:"value"`
}

type GetMetadataRequest struct {
	Target TagTarget `json:"target"`
	Key    string    `json:"key"`
}

type GetMetadataResponse struct {
	Value string `json:"value"`
	Found bool   `json:"found"`
}

// --- Orchestration ---

type PollMessagesRequest struct {
	WorkerID fugueid.ID `json:"worker_id,omitempty"`
}

type InboxMessage struct {
	ID          string          `json:"id"`
	FromSession fugueid.ID      `json:"from_session"`
	MsgType     string          `json:"msg_type"`
	Payload     json.RawMessage `json:"payload"`
}

type PollMessagesResponse struct {
	Messages []InboxMessage `json:"messages"`
	Dropped  int            `json:"dropped"`
}

// SendOrchestrationRequest's Target mirrors router.Target's kinds as
// wire strings: "session", "tagged", "broadcast", "worktree", "parent".
type SendOrchestrationRequest struct {
	TargetKind   string          `json:"target_kind"`
	SessionID    fugueid.ID      `json:"session_id,omitempty"`
	Tag          string          `json:"tag,omitempty"`
	WorktreePath string          `json:"worktree_path,omitempty"`
	MsgType      string          `json:"msg_type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

type SendOrchestrationResponse struct {
	DeliveredCount int `json:"delivered_count"`
}

type BroadcastRequest struct {
	MsgType string          `json:"msg_type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type MirrorRequest struct {
	SourcePane fugueid.ID `json:"source_pane"`
}

type MirrorResponse struct {
	MirrorPaneID fugueid.ID `json:"mirror_pane_id"`
}
