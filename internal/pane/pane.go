// Package pane implements the Pane: the smallest compute unit, owning
// either a PTY-backed terminal (PTY + scrollback + classifier) or a
// structured canvas widget, plus metadata, tags, and workflow state.
package pane

import (
	"sync"
	"time"

	"fugue/internal/canvas"
	"fugue/internal/classifier"
	"fugue/internal/fugueerr"
	"fugue/internal/fugueid"
	"fugue/internal/ptyproc"
	"fugue/internal/scrollback"
)

// State is the pane lifecycle state.
type State int

const (
	Spawning State = iota
	Running
	Exited
)

func (s State) String() string {
	switch s {
	case Spawning:
		return "spawning"
	case Running:
		return "running"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// Kind distinguishes a terminal pane (PTY-backed) from a canvas pane
// (structured widget, no PTY).
type Kind int

const (
	KindTerminal Kind = iota
	KindCanvas
)

// CommandSpec describes how a terminal pane's child process was (or
// will be) started, persisted so restored panes can re-spawn it.
type CommandSpec struct {
	Command string
	Args    []string
	Env     map[string]string
}

const defaultWorkflowHistory = 20

// WorkflowState tracks the optional issue a pane is currently working
// and a bounded history of prior issue ids.
type WorkflowState struct {
	CurrentIssueID string
	History        []string
}

func (w *WorkflowState) recordIssue(id string) {
	if w.CurrentIssueID != "" {
		w.History = append(w.History, w.CurrentIssueID)
		if len(w.History) > defaultWorkflowHistory {
			w.History = w.History[len(w.History)-defaultWorkflowHistory:]
		}
	}
	w.CurrentIssueID = id
}

// Pane is a single compute unit. All exported methods are safe for
// concurrent use; the PTY and scrollback are exclusively owned by the
// pane and must only be mutated by the task that owns it (the output
// pump for reads, the dispatcher for writes).
type Pane struct {
	mu sync.RWMutex

	id        fugueid.ID
	windowID  fugueid.ID
	sessionID fugueid.ID

	kind  Kind
	state State

	title string
	cwd   string
	cmd   *CommandSpec

	rows, cols int

	pty              *ptyproc.Handle
	scrollback       *scrollback.Buffer
	classifier       classifier.Classifier
	classifierPreset string
	widget           *canvas.Widget

	tags     map[string]struct{}
	metadata map[string]string
	env      map[string]string

	workflow WorkflowState

	createdAt  time.Time
	exitStatus *ptyproc.ExitStatus

	// onStateChange fires whenever the pane's lifecycle State changes,
	// so the owning Window/broadcast layer can emit PaneExited etc.
	onStateChange func(from, to State)
}

// Options configures New.
type Options struct {
	ID             fugueid.ID
	WindowID       fugueid.ID
	SessionID      fugueid.ID
	Title          string
	CWD            string
	Command        *CommandSpec
	Rows, Cols     int
	ScrollbackCap  int
	ClassifierKind string
	OnStateChange  func(from, to State)
}

// NewTerminal creates a terminal pane and spawns its PTY. The pane
// starts in Spawning and the caller (output pump) transitions it to
// Running on the first successful read.
func NewTerminal(opts Options, baseEnv []string) (*Pane, error) {
	if opts.Rows <= 0 || opts.Cols <= 0 {
		return nil, fugueerr.New(fugueerr.InvalidArgument, "pane dimensions must be positive")
	}
	id := opts.ID
	if id.Empty() {
		id = fugueid.New()
	}

	p := &Pane{
		id:               id,
		windowID:         opts.WindowID,
		sessionID:        opts.SessionID,
		kind:             KindTerminal,
		state:            Spawning,
		title:            opts.Title,
		cwd:              opts.CWD,
		cmd:              opts.Command,
		rows:             opts.Rows,
		cols:             opts.Cols,
		scrollback:       scrollback.New(opts.ScrollbackCap),
		classifier:       classifier.New(opts.ClassifierKind),
		classifierPreset: opts.ClassifierKind,
		tags:             make(map[string]struct{}),
		metadata:         make(map[string]string),
		env:              cloneEnv(opts.Command),
		createdAt:        time.Now(),
		onStateChange:    opts.OnStateChange,
	}

	env := ptyproc.BuildEnv(baseEnv, p.env)
	handle, err := ptyproc.Spawn(opts.Command.Command, opts.Command.Args, env, opts.CWD, opts.Rows, opts.Cols)
	if err != nil {
		return nil, err
	}
	p.pty = handle
	return p, nil
}

// NewCanvas creates a canvas pane with no PTY. Canvas panes start (and
// remain) Running since there is no process lifecycle to await.
func NewCanvas(opts Options, kind string, payload []byte) *Pane {
	id := opts.ID
	if id.Empty() {
		id = fugueid.New()
	}
	p := &Pane{
		id:            id,
		windowID:      opts.WindowID,
		sessionID:     opts.SessionID,
		kind:          KindCanvas,
		state:         Running,
		title:         opts.Title,
		rows:          opts.Rows,
		cols:          opts.Cols,
		widget:        canvas.New(kind, payload),
		tags:          make(map[string]struct{}),
		metadata:      make(map[string]string),
		env:           make(map[string]string),
		createdAt:     time.Now(),
		onStateChange: opts.OnStateChange,
	}
	return p
}

func cloneEnv(cmd *CommandSpec) map[string]string {
	if cmd == nil || cmd.Env == nil {
		return make(map[string]string)
	}
	out := make(map[string]string, len(cmd.Env))
	for k, v := range cmd.Env {
		out[k] = v
	}
	return out
}

func (p *Pane) ID() fugueid.ID        { return p.id }
func (p *Pane) WindowID() fugueid.ID  { return p.windowID }
func (p *Pane) SessionID() fugueid.ID { return p.sessionID }
func (p *Pane) Kind() Kind            { return p.kind }

func (p *Pane) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// setState transitions state and fires onStateChange outside the lock.
func (p *Pane) setState(to State) {
	p.mu.Lock()
	from := p.state
	if from == to {
		p.mu.Unlock()
		return
	}
	p.state = to
	p.mu.Unlock()
	if p.onStateChange != nil {
		p.onStateChange(from, to)
	}
}

// MarkRunning transitions Spawning -> Running on first successful read.
func (p *Pane) MarkRunning() {
	p.mu.RLock()
	cur := p.state
	p.mu.RUnlock()
	if cur == Spawning {
		p.setState(Running)
	}
}

// MarkExited transitions to Exited, records the exit status, and
// leaves any in-flight workflow issue attributed to the dead pane.
func (p *Pane) MarkExited(status ptyproc.ExitStatus) {
	p.mu.Lock()
	p.exitStatus = &status
	p.mu.Unlock()
	p.setState(Exited)
}

func (p *Pane) ExitStatus() (ptyproc.ExitStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.exitStatus == nil {
		return ptyproc.ExitStatus{}, false
	}
	return *p.exitStatus, true
}

// PTY exposes the underlying PTY handle for the output pump and
// dispatcher. Returns nil for canvas panes.
func (p *Pane) PTY() *ptyproc.Handle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pty
}

func (p *Pane) Scrollback() *scrollback.Buffer    { return p.scrollback }
func (p *Pane) Classifier() classifier.Classifier { return p.classifier }
func (p *Pane) Widget() *canvas.Widget            { return p.widget }

// WriteInput writes bytes to the pane: to the PTY for a terminal pane,
// or to the canvas widget's input handler. Fails with PaneExited if the
// pane has already terminated.
func (p *Pane) WriteInput(b []byte, timeout time.Duration) error {
	p.mu.RLock()
	state := p.state
	kind := p.kind
	p.mu.RUnlock()

	if kind == KindCanvas {
		return p.widget.HandleInput(b)
	}
	if state == Exited {
		return fugueerr.New(fugueerr.PaneExited, "pane %s has exited", p.id)
	}
	_, err := p.pty.Write(b, timeout)
	if err != nil {
		return fugueerr.Wrap(fugueerr.WriteFailed, err, "write input to pane %s", p.id)
	}
	return nil
}

// Resize updates the pane's dimensions, resizing the PTY for terminal
// panes (a resize to identical dimensions is a PTY-layer no-op).
func (p *Pane) Resize(rows, cols int) error {
	if rows <= 0 || cols <= 0 {
		return fugueerr.New(fugueerr.InvalidArgument, "pane dimensions must be positive")
	}
	p.mu.Lock()
	p.rows, p.cols = rows, cols
	kind := p.kind
	h := p.pty
	p.mu.Unlock()

	if kind == KindTerminal && h != nil {
		return h.Resize(rows, cols)
	}
	return nil
}

func (p *Pane) Dimensions() (rows, cols int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rows, p.cols
}

// Kill triggers graceful shutdown of a terminal pane's child process.
// No-op for canvas panes.
func (p *Pane) Kill(gracefulTimeout time.Duration) {
	p.mu.RLock()
	kind := p.kind
	h := p.pty
	p.mu.RUnlock()
	if kind == KindTerminal && h != nil {
		h.Kill(gracefulTimeout)
	}
}

// SnapshotScrollback returns at most n most-recent lines plus the live
// activity state.
func (p *Pane) SnapshotScrollback(n int) ([]byte, classifier.Activity) {
	activity := classifier.Unknown
	if p.classifier != nil {
		activity = p.classifier.State()
	}
	return p.scrollback.Snapshot(n), activity
}

func (p *Pane) Title() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.title
}

func (p *Pane) SetTitle(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.title = title
}

func (p *Pane) CWD() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cwd
}

func (p *Pane) CommandSpec() *CommandSpec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cmd
}

func (p *Pane) CreatedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.createdAt
}

// --- tags ---

func (p *Pane) TagsAdd(tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tags[tag] = struct{}{}
}

func (p *Pane) TagsRemove(tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tags, tag)
}

func (p *Pane) TagsList() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.tags))
	for t := range p.tags {
		out = append(out, t)
	}
	return out
}

func (p *Pane) HasTag(tag string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.tags[tag]
	return ok
}

// --- metadata ---

func (p *Pane) MetadataGet(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.metadata[key]
	return v, ok
}

func (p *Pane) MetadataSet(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metadata[key] = value
}

func (p *Pane) MetadataAll() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.metadata))
	for k, v := range p.metadata {
		out[k] = v
	}
	return out
}

// --- env ---

func (p *Pane) EnvGet(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.env[key]
	return v, ok
}

func (p *Pane) EnvSet(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.env[key] = value
}

// --- workflow state ---

func (p *Pane) WorkflowState() WorkflowState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.workflow
}

func (p *Pane) SetWorkflowIssue(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workflow.recordIssue(id)
}

// --- checkpoint snapshot/restore ---

// Snapshot is the checkpoint-serializable view of a Pane: every
// attribute except the live PTY handle itself. ScrollbackTail holds
// the bounded tail written into
// the checkpoint; the live portion replayed past it comes from WAL
// output-chunk records during recovery.
type Snapshot struct {
	ID               fugueid.ID        `json:"id"`
	WindowID         fugueid.ID        `json:"window_id"`
	SessionID        fugueid.ID        `json:"session_id"`
	Kind             Kind              `json:"kind"`
	Title            string            `json:"title"`
	CWD              string            `json:"cwd"`
	Command          *CommandSpec      `json:"command,omitempty"`
	Rows             int               `json:"rows"`
	Cols             int               `json:"cols"`
	ScrollbackCap    int               `json:"scrollback_cap"`
	ClassifierPreset string            `json:"classifier_preset"`
	Tags             []string          `json:"tags,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	Workflow         WorkflowState     `json:"workflow"`
	ScrollbackTail   []byte            `json:"scrollback_tail,omitempty"`
	CanvasKind       string            `json:"canvas_kind,omitempty"`
	CanvasPayload    []byte            `json:"canvas_payload,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Snapshot captures p's checkpoint-serializable state. scrollbackTailN
// bounds how many scrollback lines are embedded in the checkpoint
// itself (the rest is reconstructed by WAL replay on recovery).
func (p *Pane) Snapshot(scrollbackTailN int) Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Snapshot{
		ID:               p.id,
		WindowID:         p.windowID,
		SessionID:        p.sessionID,
		Kind:             p.kind,
		Title:            p.title,
		CWD:              p.cwd,
		Command:          p.cmd,
		Rows:             p.rows,
		Cols:             p.cols,
		ClassifierPreset: p.classifierPreset,
		Tags:             p.tagsLocked(),
		Metadata:         p.metadataLocked(),
		Env:              p.envLocked(),
		Workflow:         p.workflow,
		CreatedAt:        p.createdAt,
	}
	if p.scrollback != nil {
		s.ScrollbackCap = p.scrollback.Capacity()
		s.ScrollbackTail = p.scrollback.Snapshot(scrollbackTailN)
	}
	if p.kind == KindCanvas && p.widget != nil {
		s.CanvasKind, s.CanvasPayload = p.widget.Snapshot()
	}
	return s
}

// tagsLocked/metadataLocked/envLocked assume p.mu is already held (by
// Snapshot), unlike the exported Tags/Metadata/Env accessors which
// acquire the lock themselves.
func (p *Pane) tagsLocked() []string {
	out := make([]string, 0, len(p.tags))
	for t := range p.tags {
		out = append(out, t)
	}
	return out
}

func (p *Pane) metadataLocked() map[string]string {
	out := make(map[string]string, len(p.metadata))
	for k, v := range p.metadata {
		out[k] = v
	}
	return out
}

func (p *Pane) envLocked() map[string]string {
	out := make(map[string]string, len(p.env))
	for k, v := range p.env {
		out[k] = v
	}
	return out
}

// RestoreTerminal rebuilds a terminal pane from a checkpoint snapshot,
// re-spawning its recorded command. Used when the daemon config has
// RespawnOnRestore set; otherwise the caller should use
// RestoreInactive instead.
func RestoreTerminal(s Snapshot, baseEnv []string, onStateChange func(from, to State)) (*Pane, error) {
	opts := Options{
		ID:             s.ID,
		WindowID:       s.WindowID,
		SessionID:      s.SessionID,
		Title:          s.Title,
		CWD:            s.CWD,
		Command:        s.Command,
		Rows:           s.Rows,
		Cols:           s.Cols,
		ScrollbackCap:  s.ScrollbackCap,
		ClassifierKind: s.ClassifierPreset,
		OnStateChange:  onStateChange,
	}
	p, err := NewTerminal(opts, baseEnv)
	if err != nil {
		return nil, err
	}
	p.applyRestoredAttrs(s)
	p.scrollback.Push(s.ScrollbackTail)
	return p, nil
}

// RestoreInactive rebuilds a pane in the restored-inactive state: no
// PTY is spawned, the
// pane starts directly in Exited with its last scrollback tail
// preserved so the client still has something to show, pending a user
// command to re-spawn it manually.
func RestoreInactive(s Snapshot, onStateChange func(from, to State)) *Pane {
	p := &Pane{
		id:               s.ID,
		windowID:         s.WindowID,
		sessionID:        s.SessionID,
		kind:             s.Kind,
		state:            Exited,
		title:            s.Title,
		cwd:              s.CWD,
		cmd:              s.Command,
		rows:             s.Rows,
		cols:             s.Cols,
		scrollback:       scrollback.New(s.ScrollbackCap),
		classifier:       classifier.New(s.ClassifierPreset),
		classifierPreset: s.ClassifierPreset,
		tags:             make(map[string]struct{}),
		metadata:         make(map[string]string),
		env:              make(map[string]string),
		createdAt:        s.CreatedAt,
		onStateChange:    onStateChange,
	}
	if s.Kind == KindCanvas {
		p.widget = canvas.New(s.CanvasKind, s.CanvasPayload)
	}
	p.applyRestoredAttrs(s)
	p.scrollback.Push(s.ScrollbackTail)
	return p
}

// applyRestoredAttrs copies tags/metadata/env/workflow from a snapshot
// onto a freshly constructed pane. Caller must not yet have published p
// to other goroutines.
func (p *Pane) applyRestoredAttrs(s Snapshot) {
	for _, t := range s.Tags {
		p.tags[t] = struct{}{}
	}
	for k, v := range s.Metadata {
		p.metadata[k] = v
	}
	for k, v := range s.Env {
		p.env[k] = v
	}
	p.workflow = s.Workflow
}
