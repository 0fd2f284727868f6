package dispatcher

import (
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"fugue/internal/activitylog"
	"fugue/internal/arbitrator"
	"fugue/internal/classifier"
	"fugue/internal/clientreg"
	"fugue/internal/config"
	"fugue/internal/fsession"
	"fugue/internal/fugueerr"
	"fugue/internal/fugueid"
	"fugue/internal/git"
	"fugue/internal/layout"
	"fugue/internal/namegen"
	"fugue/internal/outputpump"
	"fugue/internal/pane"
	"fugue/internal/ptyproc"
	"fugue/internal/router"
	"fugue/internal/sideband"
	"fugue/internal/store"
	"fugue/internal/tmpl"
	"fugue/internal/walog"
	"fugue/internal/window"
	"fugue/internal/wire"
)

const (
	defaultRows = 24
	defaultCols = 80

	// writeTimeout bounds PTY input writes so a hung child (not reading
	// its PTY) can't stall the dispatcher.
	writeTimeout = 3 * time.Second

	gracefulKillTimeout = 3 * time.Second

	defaultReadLines = 200

	// walRetries bounds how often a failed WAL append is retried before
	// the daemon degrades to read-only.
	walRetries = 3
)

// Deps wires the dispatcher to the rest of the daemon.
type Deps struct {
	Store   *store.Store
	Reg     *clientreg.Registry
	Router  *router.Router
	Arb     *arbitrator.Arbitrator
	WAL     *walog.WAL
	Cfg     *config.Config
	Log     *activitylog.Logger
	BaseEnv []string
}

// Caller is the per-connection context a request arrives under.
type Caller struct {
	Client *clientreg.Client
}

// Dispatcher serializes typed requests, applies them transactionally
// against the State Store, commits them to the WAL before any response
// or broadcast is observable, and owns the per-pane output pumps and
// sideband scanners.
type Dispatcher struct {
	st   *store.Store
	reg  *clientreg.Registry
	rt   *router.Router
	arb  *arbitrator.Arbitrator
	wal  *walog.WAL
	cfg  *config.Config
	alog *activitylog.Logger

	baseEnv []string

	mu       sync.Mutex
	pumps    map[fugueid.ID]*outputpump.Pump
	scanners map[fugueid.ID]*sideband.Scanner
	degraded bool
}

// New creates a Dispatcher. The WAL may be nil in tests that don't
// exercise persistence.
func New(deps Deps) *Dispatcher {
	alog := deps.Log
	if alog == nil {
		alog = activitylog.Nop()
	}
	return &Dispatcher{
		st:       deps.Store,
		reg:      deps.Reg,
		rt:       deps.Router,
		arb:      deps.Arb,
		wal:      deps.WAL,
		cfg:      deps.Cfg,
		alog:     alog,
		baseEnv:  deps.BaseEnv,
		pumps:    make(map[fugueid.ID]*outputpump.Pump),
		scanners: make(map[fugueid.ID]*sideband.Scanner),
	}
}

// Handle processes one request envelope and returns the response
// envelope carrying the same request id. Broadcast side effects are
// enqueued through the Client Registry before Handle returns, but only
// after the mutation is durable.
func (d *Dispatcher) Handle(caller *Caller, env wire.Envelope) wire.Envelope {
	var req RequestEnvelope
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return d.respond(env.RequestID, "", nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed request payload"))
	}
	actor := arbitrator.Human
	if req.Actor == "automation" {
		actor = arbitrator.Automation
	}
	payload, err := d.dispatch(caller, actor, req.Op, req.Payload)
	return d.respond(env.RequestID, req.Op, payload, err)
}

func (d *Dispatcher) dispatch(caller *Caller, actor arbitrator.Actor, op Op, raw json.RawMessage) (any, error) {
	switch op {
	case OpConnect:
		return d.handleConnect(caller, raw)
	case OpPing:
		return PingResponse{OK: true}, nil
	case OpListSessions:
		return d.handleListSessions()
	case OpCreateSession:
		return d.handleCreateSession(caller, raw)
	case OpAttachSession:
		return d.handleAttachSession(caller, raw)
	case OpDetachSession:
		d.reg.Detach(caller.Client)
		return DetachSessionResponse{OK: true}, nil
	case OpKillSession:
		return d.handleKillSession(caller, actor, raw)
	case OpRenameSession:
		return d.handleRenameSession(raw)
	case OpCreateWindow:
		return d.handleCreateWindow(caller, actor, raw)
	case OpSelectWindow:
		return d.handleSelectWindow(actor, raw)
	case OpCreatePane, OpSplitPane:
		return d.handleCreatePane(caller, actor, raw)
	case OpClosePane:
		return d.handleClosePane(caller, actor, raw)
	case OpResizePane:
		return d.handleResizePane(actor, raw)
	case OpFocusPane:
		return d.handleFocusPane(actor, raw)
	case OpSendInput:
		return d.handleSendInput(actor, raw)
	case OpReadPane:
		return d.handleReadPane(raw)
	case OpListPanes:
		return d.handleListPanes(raw)
	case OpSetTags:
		return d.handleSetTags(raw)
	case OpGetTags:
		return d.handleGetTags(raw)
	case OpSetMetadata:
		return d.handleSetMetadata(raw)
	case OpGetMetadata:
		return d.handleGetMetadata(raw)
	case OpPollMessages:
		return d.handlePollMessages(caller, raw)
	case OpSendOrchestration:
		return d.handleSendOrchestration(caller, raw)
	case OpBroadcast:
		return d.handleBroadcastMsg(caller, raw)
	case OpMirror:
		return d.handleMirror(caller, actor, raw)
	default:
		return nil, fugueerr.New(fugueerr.InvalidArgument, "unknown operation %q", op)
	}
}

// respond builds the response envelope. Error kinds map onto the wire
// error payload; the response's Kind is always KindResponse, disjoint
// from every broadcast kind.
func (d *Dispatcher) respond(requestID string, op Op, payload any, err error) wire.Envelope {
	resp := ResponseEnvelope{Op: op}
	if err != nil {
		fe, ok := err.(*fugueerr.Error)
		if !ok {
			fe = fugueerr.Wrap(fugueerr.Internal, err, "internal error")
		}
		if fe.Kind == fugueerr.Internal {
			log.Printf("error: %s request failed: %v", op, err)
		}
		resp.Error = &ErrorPayload{Kind: string(fe.Kind), Message: fe.Message, RetryAfter: fe.RetryAfter}
	} else if payload != nil {
		data, merr := json.Marshal(payload)
		if merr != nil {
			resp.Error = &ErrorPayload{Kind: string(fugueerr.Internal), Message: "marshal response"}
		} else {
			resp.Payload = data
		}
	}
	data, _ := json.Marshal(resp)
	return wire.Envelope{Version: wire.ProtocolVersion, Kind: wire.KindResponse, RequestID: requestID, Payload: data}
}

// event builds a broadcast envelope of the given kind.
func event(kind wire.Kind, payload any) wire.Envelope {
	data, _ := json.Marshal(payload)
	return wire.Envelope{Version: wire.ProtocolVersion, Kind: kind, Payload: data}
}

// --- WAL commit ---

// commit appends a mutation record and fsyncs it. Called after the
// store transaction released the exclusive lock, and before any
// broadcast or response is produced, per the durability contract. On
// persistent WAL failure the daemon degrades to read-only: the current
// in-memory mutation stands (it already happened), but every subsequent
// mutating request is rejected until restart.
func (d *Dispatcher) commit(kind string, v any) error {
	if d.wal == nil {
		return nil
	}
	payload, err := EncodeMutation(kind, v)
	if err != nil {
		return err
	}
	for attempt := 0; attempt < walRetries; attempt++ {
		if _, err = d.wal.Append(walog.KindMutation, payload); err == nil {
			return nil
		}
		d.alog.WALError("append", err)
	}
	d.mu.Lock()
	d.degraded = true
	d.mu.Unlock()
	log.Printf("error: WAL append failed %d times, entering read-only degraded mode: %v", walRetries, err)
	return fugueerr.Wrap(fugueerr.Internal, err, "write-ahead log unavailable")
}

// checkWritable rejects mutating requests while in degraded mode.
func (d *Dispatcher) checkWritable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.degraded {
		return fugueerr.New(fugueerr.Internal, "daemon is in read-only degraded mode (write-ahead log unavailable)")
	}
	return nil
}

// --- output pump plumbing (Broadcaster implementation) ---

// StartPump registers and starts the output pump for a terminal pane.
// Also used by the daemon's recovery path for respawned panes.
func (d *Dispatcher) StartPump(p *pane.Pane) {
	if p.Kind() != pane.KindTerminal || p.PTY() == nil {
		return
	}
	pump := outputpump.New(p, d.st, d, d.wal)
	d.mu.Lock()
	d.pumps[p.ID()] = pump
	d.scanners[p.ID()] = &sideband.Scanner{}
	d.mu.Unlock()
	go pump.Run()
}

func (d *Dispatcher) stopPump(paneID fugueid.ID) {
	d.mu.Lock()
	pump := d.pumps[paneID]
	delete(d.pumps, paneID)
	delete(d.scanners, paneID)
	d.mu.Unlock()
	if pump != nil {
		pump.Stop()
	}
}

// StopAll stops every pump, for daemon shutdown.
func (d *Dispatcher) StopAll() {
	d.mu.Lock()
	pumps := make([]*outputpump.Pump, 0, len(d.pumps))
	for _, p := range d.pumps {
		pumps = append(pumps, p)
	}
	d.mu.Unlock()
	for _, p := range pumps {
		p.Stop()
	}
}

// BroadcastOutput fans one output chunk out to the attached clients of
// sessionID, and feeds the sideband scanner when paneID is a source
// pane (mirror pane ids never have a scanner registered, so mirrored
// bytes are not re-scanned for directives).
func (d *Dispatcher) BroadcastOutput(sessionID, paneID fugueid.ID, b []byte) {
	d.reg.BroadcastToSession(sessionID, event(wire.KindOutput, OutputBroadcast{PaneID: paneID, Bytes: b}))

	d.mu.Lock()
	scanner := d.scanners[paneID]
	d.mu.Unlock()
	if scanner == nil {
		return
	}
	for _, directive := range scanner.Feed(b) {
		d.HandleDirective(paneID, directive)
	}
}

// NotifyStateChange emits PaneStateChanged for a classifier transition.
func (d *Dispatcher) NotifyStateChange(sessionID, paneID fugueid.ID, from, to classifier.Activity) {
	d.reg.BroadcastToSession(sessionID, event(wire.KindPaneStateChanged, PaneStateChangedBroadcast{
		PaneID: paneID, From: from.String(), To: to.String(),
	}))
}

// NotifyExit emits PaneCrash when a pane's child process terminates.
func (d *Dispatcher) NotifyExit(sessionID, paneID fugueid.ID, status ptyproc.ExitStatus) {
	d.alog.PaneExited(sessionID.String(), paneID.String(), status.Code, status.Signaled)
	d.stopPump(paneID)
	d.reg.BroadcastToSession(sessionID, event(wire.KindPaneCrash, PaneCrashBroadcast{
		PaneID: paneID, ExitCode: status.Code, Signaled: status.Signaled,
	}))
}

// --- pane spawning ---

type spawnSpec struct {
	sessionID   fugueid.ID
	sessionName string
	windowID    fugueid.ID
	title       string
	command     string
	args        []string
	cwd         string
	rows, cols  int
	preset      string // classifier preset
	sessionType string
	env         map[string]string // session env overrides plus extras
	depth       int
}

// spawnTerminal spawns a PTY-backed pane with the FUGUE_* environment
// injected. The pane is not yet registered in the store; the
// caller does that inside its transaction, then starts the pump after
// commit.
func (d *Dispatcher) spawnTerminal(spec spawnSpec) (*pane.Pane, error) {
	paneID := fugueid.New()
	command := ptyproc.ResolveShell(spec.command)
	rows, cols := spec.rows, spec.cols
	if rows <= 0 {
		rows = defaultRows
	}
	if cols <= 0 {
		cols = defaultCols
	}

	env := make(map[string]string, len(spec.env)+5)
	for k, v := range spec.env {
		env[k] = v
	}
	env["FUGUE_PANE_ID"] = paneID.String()
	env["FUGUE_SESSION_ID"] = spec.sessionID.String()
	env["FUGUE_SESSION_NAME"] = spec.sessionName
	env["FUGUE_DEPTH"] = strconv.Itoa(spec.depth)
	if _, ok := env["TERM"]; !ok {
		env["TERM"] = "xterm-256color"
	}

	title := spec.title
	if title == "" {
		title = command
	}

	p, err := pane.NewTerminal(pane.Options{
		ID:             paneID,
		WindowID:       spec.windowID,
		SessionID:      spec.sessionID,
		Title:          title,
		CWD:            spec.cwd,
		Command:        &pane.CommandSpec{Command: command, Args: spec.args, Env: env},
		Rows:           rows,
		Cols:           cols,
		ScrollbackCap:  d.cfg.ScrollbackCap(spec.sessionType),
		ClassifierKind: spec.preset,
	}, d.baseEnv)
	if err != nil {
		return nil, err
	}
	d.alog.PaneSpawned(spec.sessionID.String(), paneID.String(), command)
	return p, nil
}

// paneCount returns how many panes a session currently holds.
func (d *Dispatcher) paneCount(sessionID fugueid.ID) int {
	count := 0
	d.st.View(func(tx *store.Tx) {
		s, err := tx.Session(sessionID)
		if err != nil {
			return
		}
		for _, winID := range s.Windows() {
			if w, err := s.Window(winID); err == nil {
				count += len(w.ListPanes())
			}
		}
	})
	return count
}

func (d *Dispatcher) checkPaneLimit(sessionID fugueid.ID) error {
	if d.paneCount(sessionID) >= d.cfg.MaxPanesPerSession {
		return fugueerr.New(fugueerr.LimitExceeded, "session %s is at its pane limit (%d)", sessionID, d.cfg.MaxPanesPerSession)
	}
	return nil
}

// --- handlers ---

func (d *Dispatcher) handleConnect(caller *Caller, raw json.RawMessage) (any, error) {
	var req ConnectRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed connect request")
	}
	if req.ProtocolVersion != wire.ProtocolVersion {
		return nil, fugueerr.New(fugueerr.ProtocolError, "protocol version %d not supported (daemon speaks %d)", req.ProtocolVersion, wire.ProtocolVersion)
	}
	caller.Client.SetProtocolVersion(req.ProtocolVersion)
	return ConnectResponse{ProtocolVersion: wire.ProtocolVersion, ClientID: caller.Client.ID()}, nil
}

func (d *Dispatcher) handleListSessions() (any, error) {
	resp := ListSessionsResponse{Sessions: []SessionInfo{}}
	d.st.View(func(tx *store.Tx) {
		for _, s := range tx.ListSessions() {
			resp.Sessions = append(resp.Sessions, sessionInfo(s))
		}
	})
	return resp, nil
}

func sessionInfo(s *fsession.Session) SessionInfo {
	info := SessionInfo{
		ID:        s.ID(),
		Name:      s.Name(),
		Worktree:  s.Worktree(),
		Tags:      s.TagsList(),
		WindowIDs: s.Windows(),
	}
	if w, err := s.ActiveWindow(); err == nil {
		info.ActiveWindow = w.ID()
	}
	return info
}

func (d *Dispatcher) handleCreateSession(caller *Caller, raw json.RawMessage) (any, error) {
	if err := d.checkWritable(); err != nil {
		return nil, err
	}
	var req CreateSessionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed create_session request")
	}

	name := req.Name
	if name == "" {
		name = namegen.Generate()
	}
	var nameTaken bool
	d.st.View(func(tx *store.Tx) {
		_, err := tx.SessionByName(name)
		nameTaken = err == nil
	})
	if nameTaken {
		return nil, fugueerr.New(fugueerr.Conflict, "session name %q already in use", name)
	}

	worktree := req.Worktree
	if worktree != "" {
		resolved, err := git.ResolveWorktreePath(worktree)
		if err != nil {
			return nil, fugueerr.Wrap(fugueerr.InvalidArgument, err, "worktree")
		}
		worktree = resolved
	}

	command, args := req.Command, req.Args
	if req.Preset != "" {
		preset, err := config.LoadPreset(req.Preset)
		if err != nil {
			return nil, fugueerr.Wrap(fugueerr.NotFound, err, "preset %q", req.Preset)
		}
		command, args, err = preset.Render(&tmpl.Context{
			SessionName: name,
			Index:       0,
			Count:       1,
			FugueDir:    config.StateDir(),
		}, req.Vars)
		if err != nil {
			return nil, fugueerr.Wrap(fugueerr.InvalidArgument, err, "preset %q", req.Preset)
		}
		if req.ClassifierPreset == "" {
			req.ClassifierPreset = preset.Classifier
		}
		for k, v := range preset.Env {
			if req.Env == nil {
				req.Env = make(map[string]string)
			}
			if _, ok := req.Env[k]; !ok {
				req.Env[k] = v
			}
		}
	}

	sessionID := fugueid.New()
	windowID := fugueid.New()

	p, err := d.spawnTerminal(spawnSpec{
		sessionID:   sessionID,
		sessionName: name,
		windowID:    windowID,
		command:     command,
		args:        args,
		cwd:         req.CWD,
		rows:        req.Rows,
		cols:        req.Cols,
		preset:      req.ClassifierPreset,
		sessionType: req.SessionType,
		env:         req.Env,
		depth:       0,
	})
	if err != nil {
		return nil, err
	}

	w := window.New(windowID, "", p.ID())
	var sess *fsession.Session
	txErr := d.st.Transact(func(tx *store.Tx) error {
		s, err := tx.CreateSession(sessionID, name, w, p)
		if err != nil {
			return err
		}
		for _, t := range req.Tags {
			s.TagsAdd(t)
		}
		for k, v := range req.Metadata {
			s.MetadataSet(k, v)
		}
		for k, v := range req.Env {
			s.EnvSet(k, v)
		}
		s.SetWorktree(worktree)
		sess = s
		return nil
	})
	if txErr != nil {
		p.Kill(gracefulKillTimeout)
		return nil, txErr
	}

	var topo store.SessionTopology
	d.st.View(func(tx *store.Tx) {
		topo = store.SessionTopology{Session: sess.Snapshot(), Panes: []pane.Snapshot{p.Snapshot(0)}}
	})
	if err := d.commit(MutCreateSession, CreateSessionMutation{Topology: topo}); err != nil {
		return nil, err
	}

	d.writeSessionMetadata(sess)
	d.alog.SessionCreated(sessionID.String(), name, worktree)
	d.StartPump(p)
	d.reg.BroadcastAll(event(wire.KindSessionCreated, SessionCreatedBroadcast{SessionID: sessionID, Name: name}))

	return CreateSessionResponse{SessionID: sessionID, WindowID: windowID, PaneID: p.ID()}, nil
}

// writeSessionMetadata refreshes the session.metadata.json convenience
// file; best-effort, never fails the request.
func (d *Dispatcher) writeSessionMetadata(s *fsession.Session) {
	meta := config.SessionMetadata{
		SessionID: s.ID().String(),
		Name:      s.Name(),
		Worktree:  s.Worktree(),
	}
	for _, id := range s.Windows() {
		meta.WindowIDs = append(meta.WindowIDs, id.String())
	}
	if w, err := s.ActiveWindow(); err == nil {
		meta.ActivePane = w.Focused().String()
	}
	if err := config.WriteSessionMetadata(config.SessionDir(s.Name()), meta); err != nil {
		log.Printf("warning: write session metadata for %s: %v", s.Name(), err)
	}
}

func (d *Dispatcher) handleAttachSession(caller *Caller, raw json.RawMessage) (any, error) {
	var req AttachSessionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed attach_session request")
	}
	var resp AttachSessionResponse
	var lookupErr error
	d.st.View(func(tx *store.Tx) {
		var s *fsession.Session
		if !req.SessionID.Empty() {
			s, lookupErr = tx.Session(req.SessionID)
		} else if req.Name != "" {
			s, lookupErr = tx.SessionByName(req.Name)
		} else {
			lookupErr = fugueerr.New(fugueerr.InvalidArgument, "attach requires a session id or name")
		}
		if lookupErr != nil {
			return
		}
		resp.SessionID = s.ID()
		resp.Name = s.Name()
		if w, err := s.ActiveWindow(); err == nil {
			resp.ActiveWindow = w.ID()
			resp.FocusedPane = w.Focused()
		}
		resp.Panes = listPanesLocked(tx, s)
	})
	if lookupErr != nil {
		return nil, lookupErr
	}
	d.reg.Attach(caller.Client, resp.SessionID)
	d.reg.BroadcastToSessionExcept(resp.SessionID, caller.Client.ID(), event(wire.KindSessionFocused, SessionFocusedBroadcast{
		SessionID: resp.SessionID, WindowID: resp.ActiveWindow,
	}))
	return resp, nil
}

func (d *Dispatcher) handleKillSession(caller *Caller, actor arbitrator.Actor, raw json.RawMessage) (any, error) {
	if err := d.checkWritable(); err != nil {
		return nil, err
	}
	var req KillSessionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed kill_session request")
	}

	// Kill passes through the arbitrator: automation may not tear down a
	// session a human is actively driving. Pane handles are captured here
	// so their PTYs can still be killed after the store forgets them.
	var panes []*pane.Pane
	var arbErr error
	d.st.View(func(tx *store.Tx) {
		s, err := tx.Session(req.SessionID)
		if err != nil {
			arbErr = err
			return
		}
		for _, winID := range s.Windows() {
			w, err := s.Window(winID)
			if err != nil {
				continue
			}
			for _, pid := range w.ListPanes() {
				if err := d.arb.CheckAccess(pid, actor, arbitrator.Kill); err != nil {
					arbErr = err
					return
				}
				if p, err := tx.Pane(pid); err == nil {
					panes = append(panes, p)
				}
			}
		}
	})
	if arbErr != nil {
		if fugueerr.Is(arbErr, fugueerr.ArbitrationDenied) {
			d.alog.ArbitrationDenied(req.SessionID.String(), "session", "kill", 0)
		}
		return nil, arbErr
	}

	var paneIDs []fugueid.ID
	txErr := d.st.Transact(func(tx *store.Tx) error {
		ids, err := tx.RemoveSession(req.SessionID)
		if err != nil {
			return err
		}
		paneIDs = ids
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	// The mutation is logged before any irreversible PTY kill.
	if err := d.commit(MutKillSession, KillSessionMutation{SessionID: req.SessionID}); err != nil {
		return nil, err
	}
	for _, pid := range paneIDs {
		d.stopPump(pid)
		d.arb.Forget(pid)
	}
	for _, p := range panes {
		go p.Kill(gracefulKillTimeout)
	}
	d.rt.Forget(req.SessionID)
	d.alog.SessionKilled(req.SessionID.String(), "kill_session")
	d.reg.BroadcastAll(event(wire.KindSessionKilled, SessionKilledBroadcast{SessionID: req.SessionID}))
	return KillSessionResponse{OK: true}, nil
}

func (d *Dispatcher) handleRenameSession(raw json.RawMessage) (any, error) {
	if err := d.checkWritable(); err != nil {
		return nil, err
	}
	var req RenameSessionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed rename_session request")
	}
	if req.Name == "" {
		return nil, fugueerr.New(fugueerr.InvalidArgument, "session name must be non-empty")
	}
	txErr := d.st.Transact(func(tx *store.Tx) error {
		return tx.RenameSession(req.SessionID, req.Name)
	})
	if txErr != nil {
		return nil, txErr
	}
	if err := d.commit(MutRenameSession, RenameSessionMutation{SessionID: req.SessionID, Name: req.Name}); err != nil {
		return nil, err
	}
	d.st.View(func(tx *store.Tx) {
		if s, err := tx.Session(req.SessionID); err == nil {
			d.writeSessionMetadata(s)
		}
	})
	return RenameSessionResponse{OK: true}, nil
}

func (d *Dispatcher) handleCreateWindow(caller *Caller, actor arbitrator.Actor, raw json.RawMessage) (any, error) {
	if err := d.checkWritable(); err != nil {
		return nil, err
	}
	var req CreateWindowRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed create_window request")
	}
	if err := d.checkPaneLimit(req.SessionID); err != nil {
		return nil, err
	}

	var sessionName string
	var sessErr error
	d.st.View(func(tx *store.Tx) {
		s, err := tx.Session(req.SessionID)
		if err != nil {
			sessErr = err
			return
		}
		sessionName = s.Name()
	})
	if sessErr != nil {
		return nil, sessErr
	}

	windowID := fugueid.New()
	p, err := d.spawnTerminal(spawnSpec{
		sessionID:   req.SessionID,
		sessionName: sessionName,
		windowID:    windowID,
		command:     req.Command,
		args:        req.Args,
		cwd:         req.CWD,
		rows:        req.Rows,
		cols:        req.Cols,
		preset:      req.ClassifierPreset,
	})
	if err != nil {
		return nil, err
	}

	var wsnap window.Snapshot
	txErr := d.st.Transact(func(tx *store.Tx) error {
		w, err := tx.CreateWindow(req.SessionID, windowID, req.Title, p)
		if err != nil {
			return err
		}
		wsnap = w.Snapshot()
		return nil
	})
	if txErr != nil {
		p.Kill(gracefulKillTimeout)
		return nil, txErr
	}
	if err := d.commit(MutCreateWindow, CreateWindowMutation{SessionID: req.SessionID, Window: wsnap, Pane: p.Snapshot(0)}); err != nil {
		return nil, err
	}
	d.StartPump(p)
	d.reg.BroadcastToSession(req.SessionID, event(wire.KindWindowCreated, WindowCreatedBroadcast{SessionID: req.SessionID, WindowID: windowID}))
	return CreateWindowResponse{WindowID: windowID, PaneID: p.ID()}, nil
}

func (d *Dispatcher) handleSelectWindow(actor arbitrator.Actor, raw json.RawMessage) (any, error) {
	if err := d.checkWritable(); err != nil {
		return nil, err
	}
	var req SelectWindowRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed select_window request")
	}
	txErr := d.st.Transact(func(tx *store.Tx) error {
		return tx.SelectWindow(req.SessionID, req.WindowID)
	})
	if txErr != nil {
		return nil, txErr
	}
	if err := d.commit(MutSelectWindow, SelectWindowMutation{SessionID: req.SessionID, WindowID: req.WindowID}); err != nil {
		return nil, err
	}
	d.reg.BroadcastToSession(req.SessionID, event(wire.KindWindowFocused, WindowFocusedBroadcast{SessionID: req.SessionID, WindowID: req.WindowID}))
	return OKResponse{OK: true}, nil
}

func (d *Dispatcher) handleCreatePane(caller *Caller, actor arbitrator.Actor, raw json.RawMessage) (any, error) {
	if err := d.checkWritable(); err != nil {
		return nil, err
	}
	var req CreatePaneRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed create_pane request")
	}
	return d.createPane(actor, req, 0)
}

// createPane is shared by the request surface and the sideband spawn
// directive (which supplies a non-zero depth).
func (d *Dispatcher) createPane(actor arbitrator.Actor, req CreatePaneRequest, depth int) (any, error) {
	if err := d.arb.CheckAccess(req.ParentPane, actor, arbitrator.Layout); err != nil {
		if fugueerr.Is(err, fugueerr.ArbitrationDenied) {
			d.alog.ArbitrationDenied(req.ParentPane.String(), "pane", "layout", 0)
		}
		return nil, err
	}

	var windowID, sessionID fugueid.ID
	var sessionName string
	var parent *pane.Pane
	var lookupErr error
	d.st.View(func(tx *store.Tx) {
		parent, lookupErr = tx.Pane(req.ParentPane)
		if lookupErr != nil {
			return
		}
		windowID, sessionID, lookupErr = tx.PaneOwner(req.ParentPane)
		if lookupErr != nil {
			return
		}
		if s, err := tx.Session(sessionID); err == nil {
			sessionName = s.Name()
		}
	})
	if lookupErr != nil {
		return nil, lookupErr
	}
	if err := d.checkPaneLimit(sessionID); err != nil {
		return nil, err
	}

	ratio := req.Ratio
	if ratio == 0 {
		ratio = 0.5
	}
	rows, cols := parent.Dimensions()
	p, err := d.spawnTerminal(spawnSpec{
		sessionID:   sessionID,
		sessionName: sessionName,
		windowID:    windowID,
		command:     req.Command,
		args:        req.Args,
		cwd:         firstNonEmpty(req.CWD, parent.CWD()),
		rows:        rows,
		cols:        cols,
		preset:      req.ClassifierPreset,
		depth:       depth,
	})
	if err != nil {
		return nil, err
	}

	txErr := d.st.Transact(func(tx *store.Tx) error {
		return tx.AddPane(sessionID, windowID, req.ParentPane, p, req.Direction, ratio)
	})
	if txErr != nil {
		p.Kill(gracefulKillTimeout)
		return nil, txErr
	}
	if err := d.commit(MutCreatePane, CreatePaneMutation{
		SessionID: sessionID, WindowID: windowID, ParentPane: req.ParentPane,
		Direction: req.Direction, Ratio: ratio, Pane: p.Snapshot(0),
	}); err != nil {
		return nil, err
	}
	if actor == arbitrator.Human {
		d.arb.RecordHumanActivity(req.ParentPane, arbitrator.Layout)
	}
	d.StartPump(p)
	d.reg.BroadcastToSession(sessionID, event(wire.KindPaneCreated, PaneCreatedBroadcast{
		SessionID: sessionID, WindowID: windowID, PaneID: p.ID(), ParentPane: req.ParentPane,
	}))
	// Direction echoes the request's external name verbatim.
	return CreatePaneResponse{PaneID: p.ID(), Direction: req.Direction}, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func (d *Dispatcher) handleClosePane(caller *Caller, actor arbitrator.Actor, raw json.RawMessage) (any, error) {
	if err := d.checkWritable(); err != nil {
		return nil, err
	}
	var req ClosePaneRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed close_pane request")
	}
	if err := d.arb.CheckAccess(req.PaneID, actor, arbitrator.Kill); err != nil {
		return nil, err
	}

	// Closing the last pane of a session's last window is a session
	// kill in disguise; reject it and require an explicit kill_session.
	var windowID, sessionID fugueid.ID
	var p *pane.Pane
	var precheckErr error
	d.st.View(func(tx *store.Tx) {
		p, precheckErr = tx.Pane(req.PaneID)
		if precheckErr != nil {
			return
		}
		windowID, sessionID, precheckErr = tx.PaneOwner(req.PaneID)
		if precheckErr != nil {
			return
		}
		s, err := tx.Session(sessionID)
		if err != nil {
			precheckErr = err
			return
		}
		w, err := s.Window(windowID)
		if err != nil {
			precheckErr = err
			return
		}
		if len(w.ListPanes()) == 1 && len(s.Windows()) == 1 {
			precheckErr = fugueerr.New(fugueerr.Conflict, "closing the last pane of session %s would kill it; use kill_session", sessionID)
		}
	})
	if precheckErr != nil {
		return nil, precheckErr
	}

	var windowClosed bool
	txErr := d.st.Transact(func(tx *store.Tx) error {
		emptied, err := tx.RemovePane(req.PaneID)
		if err != nil {
			return err
		}
		windowClosed = emptied
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	if err := d.commit(MutClosePane, ClosePaneMutation{PaneID: req.PaneID}); err != nil {
		return nil, err
	}
	d.stopPump(req.PaneID)
	d.arb.Forget(req.PaneID)
	go p.Kill(gracefulKillTimeout)
	d.reg.BroadcastToSession(sessionID, event(wire.KindPaneClosed, PaneClosedBroadcast{
		SessionID: sessionID, WindowID: windowID, PaneID: req.PaneID,
	}))
	return ClosePaneResponse{OK: true, WindowClosed: windowClosed}, nil
}

func (d *Dispatcher) handleResizePane(actor arbitrator.Actor, raw json.RawMessage) (any, error) {
	if err := d.checkWritable(); err != nil {
		return nil, err
	}
	var req ResizePaneRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed resize_pane request")
	}
	if req.Rows <= 0 || req.Cols <= 0 {
		return nil, fugueerr.New(fugueerr.InvalidArgument, "resize dimensions must be positive")
	}
	if err := d.arb.CheckAccess(req.PaneID, actor, arbitrator.Layout); err != nil {
		return nil, err
	}
	var p *pane.Pane
	var sessionID fugueid.ID
	var lookupErr error
	d.st.View(func(tx *store.Tx) {
		p, lookupErr = tx.Pane(req.PaneID)
		if lookupErr != nil {
			return
		}
		_, sessionID, lookupErr = tx.PaneOwner(req.PaneID)
	})
	if lookupErr != nil {
		return nil, lookupErr
	}
	if err := p.Resize(req.Rows, req.Cols); err != nil {
		return nil, err
	}
	if err := d.commit(MutResizePane, ResizePaneMutation{PaneID: req.PaneID, Rows: req.Rows, Cols: req.Cols}); err != nil {
		return nil, err
	}
	if actor == arbitrator.Human {
		d.arb.RecordHumanActivity(req.PaneID, arbitrator.Layout)
	}
	d.reg.BroadcastToSession(sessionID, event(wire.KindPaneResized, PaneResizedBroadcast{PaneID: req.PaneID, Rows: req.Rows, Cols: req.Cols}))
	return OKResponse{OK: true}, nil
}

func (d *Dispatcher) handleFocusPane(actor arbitrator.Actor, raw json.RawMessage) (any, error) {
	if err := d.checkWritable(); err != nil {
		return nil, err
	}
	var req FocusPaneRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed focus_pane request")
	}
	if err := d.arb.CheckAccess(req.PaneID, actor, arbitrator.Layout); err != nil {
		return nil, err
	}
	var windowID, sessionID fugueid.ID
	txErr := d.st.Transact(func(tx *store.Tx) error {
		wID, sID, err := tx.PaneOwner(req.PaneID)
		if err != nil {
			return err
		}
		s, err := tx.Session(sID)
		if err != nil {
			return err
		}
		w, err := s.Window(wID)
		if err != nil {
			return err
		}
		if err := w.SetFocused(req.PaneID); err != nil {
			return err
		}
		windowID, sessionID = wID, sID
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	if err := d.commit(MutFocusPane, FocusPaneMutation{WindowID: windowID, PaneID: req.PaneID}); err != nil {
		return nil, err
	}
	if actor == arbitrator.Human {
		d.arb.RecordHumanActivity(req.PaneID, arbitrator.Layout)
	}
	d.reg.BroadcastToSession(sessionID, event(wire.KindPaneFocused, PaneFocusedBroadcast{
		SessionID: sessionID, WindowID: windowID, PaneID: req.PaneID,
	}))
	return OKResponse{OK: true}, nil
}

func (d *Dispatcher) handleSendInput(actor arbitrator.Actor, raw json.RawMessage) (any, error) {
	var req SendInputRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed send_input request")
	}
	if err := d.arb.CheckAccess(req.PaneID, actor, arbitrator.Input); err != nil {
		if fugueerr.Is(err, fugueerr.ArbitrationDenied) {
			d.alog.ArbitrationDenied(req.PaneID.String(), "pane", "input", 0)
		}
		return nil, err
	}
	var p *pane.Pane
	var lookupErr error
	d.st.View(func(tx *store.Tx) {
		p, lookupErr = tx.Pane(req.PaneID)
	})
	if lookupErr != nil {
		return nil, lookupErr
	}
	body := req.Bytes
	if req.Submit {
		// Body and submit newline go down in one PTY write so the hosted
		// agent never observes the body without its terminator.
		body = append(append([]byte(nil), req.Bytes...), '\n')
	}
	if err := p.WriteInput(body, writeTimeout); err != nil {
		return nil, err
	}
	if actor == arbitrator.Human {
		d.arb.RecordHumanActivity(req.PaneID, arbitrator.Input)
	}
	return OKResponse{OK: true}, nil
}

func (d *Dispatcher) handleReadPane(raw json.RawMessage) (any, error) {
	var req ReadPaneRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed read_pane request")
	}
	lines := req.Lines
	if lines <= 0 {
		lines = defaultReadLines
	}
	var p *pane.Pane
	var lookupErr error
	d.st.View(func(tx *store.Tx) {
		p, lookupErr = tx.Pane(req.PaneID)
	})
	if lookupErr != nil {
		return nil, lookupErr
	}
	data, activity := p.SnapshotScrollback(lines)
	return ReadPaneResponse{Bytes: data, Activity: activity.String()}, nil
}

func (d *Dispatcher) handleListPanes(raw json.RawMessage) (any, error) {
	var req ListPanesRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed list_panes request")
	}
	var resp ListPanesResponse
	var lookupErr error
	d.st.View(func(tx *store.Tx) {
		s, err := tx.Session(req.SessionID)
		if err != nil {
			lookupErr = err
			return
		}
		resp.Panes = listPanesLocked(tx, s)
	})
	if lookupErr != nil {
		return nil, lookupErr
	}
	return resp, nil
}

func listPanesLocked(tx *store.Tx, s *fsession.Session) []PaneInfo {
	panes := []PaneInfo{}
	for _, winID := range s.Windows() {
		w, err := s.Window(winID)
		if err != nil {
			continue
		}
		for _, pid := range w.ListPanes() {
			p, err := tx.Pane(pid)
			if err != nil {
				continue
			}
			panes = append(panes, PaneInfo{
				ID:        pid,
				WindowID:  winID,
				SessionID: s.ID(),
				Title:     p.Title(),
				State:     p.State().String(),
			})
		}
	}
	return panes
}

// --- tags / metadata ---

// resolveTagTarget returns accessor closures for a session or pane
// target, so the four tag/metadata handlers share one resolution path.
type tagSurface struct {
	add    func(string)
	remove func(string)
	list   func() []string
	mget   func(string) (string, bool)
	mset   func(string, string)
}

func (d *Dispatcher) resolveTagTarget(tx *store.Tx, t TagTarget) (tagSurface, error) {
	switch t.Kind {
	case "session":
		s, err := tx.Session(t.ID)
		if err != nil {
			return tagSurface{}, err
		}
		return tagSurface{add: s.TagsAdd, remove: s.TagsRemove, list: s.TagsList, mget: s.MetadataGet, mset: s.MetadataSet}, nil
	case "pane":
		p, err := tx.Pane(t.ID)
		if err != nil {
			return tagSurface{}, err
		}
		return tagSurface{add: p.TagsAdd, remove: p.TagsRemove, list: p.TagsList, mget: p.MetadataGet, mset: p.MetadataSet}, nil
	default:
		return tagSurface{}, fugueerr.New(fugueerr.InvalidArgument, "unknown tag target kind %q", t.Kind)
	}
}

const maxMetadataEntries = 256

func (d *Dispatcher) handleSetTags(raw json.RawMessage) (any, error) {
	if err := d.checkWritable(); err != nil {
		return nil, err
	}
	var req SetTagsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed set_tags request")
	}
	var tags []string
	txErr := d.st.Transact(func(tx *store.Tx) error {
		surface, err := d.resolveTagTarget(tx, req.Target)
		if err != nil {
			return err
		}
		for _, t := range req.Add {
			surface.add(t)
		}
		for _, t := range req.Remove {
			surface.remove(t)
		}
		tags = surface.list()
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	if err := d.commit(MutSetTags, SetTagsMutation{Target: req.Target, Add: req.Add, Remove: req.Remove}); err != nil {
		return nil, err
	}
	return GetTagsResponse{Tags: tags}, nil
}

func (d *Dispatcher) handleGetTags(raw json.RawMessage) (any, error) {
	var req GetTagsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed get_tags request")
	}
	var tags []string
	var lookupErr error
	d.st.View(func(tx *store.Tx) {
		surface, err := d.resolveTagTarget(tx, req.Target)
		if err != nil {
			lookupErr = err
			return
		}
		tags = surface.list()
	})
	if lookupErr != nil {
		return nil, lookupErr
	}
	return GetTagsResponse{Tags: tags}, nil
}

func (d *Dispatcher) handleSetMetadata(raw json.RawMessage) (any, error) {
	if err := d.checkWritable(); err != nil {
		return nil, err
	}
	var req SetMetadataRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed set_metadata request")
	}
	txErr := d.st.Transact(func(tx *store.Tx) error {
		surface, err := d.resolveTagTarget(tx, req.Target)
		if err != nil {
			return err
		}
		if req.Target.Kind == "session" {
			if s, serr := tx.Session(req.Target.ID); serr == nil {
				if _, exists := s.MetadataGet(req.Key); !exists && len(s.MetadataAll()) >= maxMetadataEntries {
					return fugueerr.New(fugueerr.LimitExceeded, "metadata map is full (%d entries)", maxMetadataEntries)
				}
			}
		}
		surface.mset(req.Key, req.Value)
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	if err := d.commit(MutSetMetadata, SetMetadataMutation{Target: req.Target, Key: req.Key, Value: req.Value}); err != nil {
		return nil, err
	}
	return OKResponse{OK: true}, nil
}

func (d *Dispatcher) handleGetMetadata(raw json.RawMessage) (any, error) {
	var req GetMetadataRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed get_metadata request")
	}
	var resp GetMetadataResponse
	var lookupErr error
	d.st.View(func(tx *store.Tx) {
		surface, err := d.resolveTagTarget(tx, req.Target)
		if err != nil {
			lookupErr = err
			return
		}
		resp.Value, resp.Found = surface.mget(req.Key)
	})
	if lookupErr != nil {
		return nil, lookupErr
	}
	return resp, nil
}

// --- orchestration ---

func (d *Dispatcher) handlePollMessages(caller *Caller, raw json.RawMessage) (any, error) {
	var req PollMessagesRequest
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed poll_messages request")
		}
	}
	sessionID := req.WorkerID
	if sessionID.Empty() {
		sessionID = caller.Client.Session()
		if sessionID.Empty() {
			return nil, fugueerr.New(fugueerr.NotAttached, "poll_messages requires an attached session or an explicit worker_id")
		}
	}
	msgs, dropped := d.rt.Poll(sessionID)
	resp := PollMessagesResponse{Messages: []InboxMessage{}, Dropped: dropped}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, InboxMessage{
			ID: m.ID, FromSession: m.FromSession, MsgType: m.MsgType, Payload: m.Payload,
		})
	}
	return resp, nil
}

func (d *Dispatcher) handleSendOrchestration(caller *Caller, raw json.RawMessage) (any, error) {
	var req SendOrchestrationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed send_orchestration request")
	}
	target, err := parseTarget(req)
	if err != nil {
		return nil, err
	}
	return d.routeOrchestration(caller.Client.Session(), target, req.MsgType, req.Payload)
}

func (d *Dispatcher) handleBroadcastMsg(caller *Caller, raw json.RawMessage) (any, error) {
	var req BroadcastRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed broadcast request")
	}
	return d.routeOrchestration(caller.Client.Session(), router.Target{Kind: router.TargetBroadcast}, req.MsgType, req.Payload)
}

func (d *Dispatcher) routeOrchestration(from fugueid.ID, target router.Target, msgType string, payload json.RawMessage) (any, error) {
	msg := router.Message{
		ID:          fugueid.New().String(),
		FromSession: from,
		MsgType:     msgType,
		Payload:     payload,
	}
	delivered, recipients, err := d.rt.SendTo(target, msg)
	if err != nil {
		return nil, err
	}
	for _, sid := range recipients {
		d.reg.BroadcastToSession(sid, event(wire.KindOrchestrationReceived, OrchestrationReceivedBroadcast{
			SessionID: sid, FromSession: from, MsgType: msgType, Payload: payload,
		}))
	}
	return SendOrchestrationResponse{DeliveredCount: delivered}, nil
}

func parseTarget(req SendOrchestrationRequest) (router.Target, error) {
	switch req.TargetKind {
	case "session":
		if req.SessionID.Empty() {
			return router.Target{}, fugueerr.New(fugueerr.InvalidArgument, "session target requires session_id")
		}
		return router.Target{Kind: router.TargetSession, SessionID: req.SessionID}, nil
	case "tagged":
		if req.Tag == "" {
			return router.Target{}, fugueerr.New(fugueerr.InvalidArgument, "tagged target requires a tag")
		}
		return router.Target{Kind: router.TargetTagged, Tag: req.Tag}, nil
	case "broadcast":
		return router.Target{Kind: router.TargetBroadcast}, nil
	case "worktree":
		if req.WorktreePath == "" {
			return router.Target{}, fugueerr.New(fugueerr.InvalidArgument, "worktree target requires a path")
		}
		return router.Target{Kind: router.TargetWorktree, WorktreePath: req.WorktreePath}, nil
	case "parent":
		return router.Target{Kind: router.TargetParent}, nil
	default:
		return router.Target{}, fugueerr.New(fugueerr.InvalidArgument, "unknown target kind %q", req.TargetKind)
	}
}

// --- mirror ---

func (d *Dispatcher) handleMirror(caller *Caller, actor arbitrator.Actor, raw json.RawMessage) (any, error) {
	if err := d.checkWritable(); err != nil {
		return nil, err
	}
	var req MirrorRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fugueerr.Wrap(fugueerr.ProtocolError, err, "malformed mirror request")
	}
	mirrorSession := caller.Client.Session()
	if mirrorSession.Empty() {
		return nil, fugueerr.New(fugueerr.NotAttached, "mirror requires an attached session to place the mirror pane in")
	}

	var source *pane.Pane
	var windowID, parentPane fugueid.ID
	var lookupErr error
	d.st.View(func(tx *store.Tx) {
		source, lookupErr = tx.Pane(req.SourcePane)
		if lookupErr != nil {
			return
		}
		s, err := tx.Session(mirrorSession)
		if err != nil {
			lookupErr = err
			return
		}
		w, err := s.ActiveWindow()
		if err != nil {
			lookupErr = err
			return
		}
		windowID = w.ID()
		parentPane = w.Focused()
	})
	if lookupErr != nil {
		return nil, lookupErr
	}
	if err := d.checkPaneLimit(mirrorSession); err != nil {
		return nil, err
	}
	if err := d.arb.CheckAccess(parentPane, actor, arbitrator.Layout); err != nil {
		return nil, err
	}

	rows, cols := source.Dimensions()
	mirror := pane.NewCanvas(pane.Options{
		WindowID:  windowID,
		SessionID: mirrorSession,
		Title:     "mirror: " + source.Title(),
		Rows:      rows,
		Cols:      cols,
	}, "mirror", nil)

	const ratio = 0.5
	txErr := d.st.Transact(func(tx *store.Tx) error {
		if err := tx.AddPane(mirrorSession, windowID, parentPane, mirror, layout.Horizontal, ratio); err != nil {
			return err
		}
		tx.AddMirror(req.SourcePane, mirror.ID(), mirrorSession)
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	if err := d.commit(MutMirror, MirrorMutation{
		SourcePane: req.SourcePane, MirrorSession: mirrorSession, WindowID: windowID,
		ParentPane: parentPane, Direction: layout.Horizontal, Ratio: ratio, Pane: mirror.Snapshot(0),
	}); err != nil {
		return nil, err
	}

	d.reg.BroadcastToSession(mirrorSession, event(wire.KindPaneCreated, PaneCreatedBroadcast{
		SessionID: mirrorSession, WindowID: windowID, PaneID: mirror.ID(), ParentPane: parentPane,
	}))
	// Seed the mirror with the source's current scrollback so it is not
	// blank; the event carries the mirror's pane id, never the source's.
	if snapshot, _ := source.SnapshotScrollback(d.cfg.ScrollbackCap("")); len(snapshot) > 0 {
		d.reg.BroadcastToSession(mirrorSession, event(wire.KindOutput, OutputBroadcast{PaneID: mirror.ID(), Bytes: snapshot}))
	}
	return MirrorResponse{MirrorPaneID: mirror.ID()}, nil
}

// --- sideband directives ---

// HandleDirective dispatches one sideband control directive emitted by
// the process hosted in sourcePane. Directives run as automation: they
// pass through the arbitrator and the spawn limits like any other
// automated caller.
func (d *Dispatcher) HandleDirective(sourcePane fugueid.ID, dir sideband.Directive) {
	var err error
	switch dir.Cmd {
	case "spawn":
		err = d.directiveSpawn(sourcePane, dir)
	case "input":
		err = d.directiveInput(sourcePane, dir)
	case "canvas":
		err = d.directiveCanvas(sourcePane, dir)
	case "control":
		err = d.directiveControl(sourcePane, dir)
	default:
		err = fugueerr.New(fugueerr.InvalidArgument, "unknown sideband command %q", dir.Cmd)
	}
	if err != nil {
		log.Printf("warning: sideband %s from pane %s: %v", dir.Cmd, sourcePane, err)
	}
}

// directiveSpawn creates a new pane in the caller's session, charging
// the caller's depth budget (FUGUE_DEPTH, inherited through the process
// tree) and the per-session pane-count limit.
func (d *Dispatcher) directiveSpawn(sourcePane fugueid.ID, dir sideband.Directive) error {
	var source *pane.Pane
	var lookupErr error
	d.st.View(func(tx *store.Tx) {
		source, lookupErr = tx.Pane(sourcePane)
	})
	if lookupErr != nil {
		return lookupErr
	}

	depth := 0
	if v, ok := source.EnvGet("FUGUE_DEPTH"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			depth = n
		}
	}
	if depth >= d.cfg.MaxSidebandDepth {
		return fugueerr.New(fugueerr.LimitExceeded, "sideband spawn depth %d is at the limit (%d)", depth, d.cfg.MaxSidebandDepth)
	}

	var args []string
	command := dir.Attrs["cmd"]
	if rest := dir.Attrs["args"]; rest != "" {
		args = strings.Fields(rest)
	}
	_, err := d.createPane(arbitrator.Automation, CreatePaneRequest{
		ParentPane: sourcePane,
		Direction:  layout.Horizontal,
		Command:    command,
		Args:       args,
		CWD:        dir.Attrs["cwd"],
	}, depth+1)
	return err
}

func (d *Dispatcher) directiveInput(sourcePane fugueid.ID, dir sideband.Directive) error {
	targetID, err := fugueid.Parse(dir.Attrs["pane"])
	if err != nil {
		return fugueerr.New(fugueerr.InvalidArgument, "sideband input: bad pane id %q", dir.Attrs["pane"])
	}
	if err := d.arb.CheckAccess(targetID, arbitrator.Automation, arbitrator.Input); err != nil {
		return err
	}
	var target *pane.Pane
	var lookupErr error
	d.st.View(func(tx *store.Tx) {
		target, lookupErr = tx.Pane(targetID)
	})
	if lookupErr != nil {
		return lookupErr
	}
	body := []byte(dir.Attrs["data"])
	if dir.Attrs["submit"] == "true" {
		body = append(body, '\n')
	}
	return target.WriteInput(body, writeTimeout)
}

// directiveCanvas registers (or updates) a structured widget pane next
// to the emitting pane.
func (d *Dispatcher) directiveCanvas(sourcePane fugueid.ID, dir sideband.Directive) error {
	payload := json.RawMessage(dir.Attrs["payload"])

	if idAttr := dir.Attrs["pane"]; idAttr != "" {
		canvasID, err := fugueid.Parse(idAttr)
		if err != nil {
			return fugueerr.New(fugueerr.InvalidArgument, "sideband canvas: bad pane id %q", idAttr)
		}
		var target *pane.Pane
		var lookupErr error
		d.st.View(func(tx *store.Tx) {
			target, lookupErr = tx.Pane(canvasID)
		})
		if lookupErr != nil {
			return lookupErr
		}
		if target.Kind() != pane.KindCanvas {
			return fugueerr.New(fugueerr.InvalidArgument, "pane %s is not a canvas pane", canvasID)
		}
		target.Widget().Update(payload)
		return nil
	}

	var windowID, sessionID fugueid.ID
	var source *pane.Pane
	var lookupErr error
	d.st.View(func(tx *store.Tx) {
		source, lookupErr = tx.Pane(sourcePane)
		if lookupErr != nil {
			return
		}
		windowID, sessionID, lookupErr = tx.PaneOwner(sourcePane)
	})
	if lookupErr != nil {
		return lookupErr
	}
	if err := d.checkPaneLimit(sessionID); err != nil {
		return err
	}
	rows, cols := source.Dimensions()
	cp := pane.NewCanvas(pane.Options{
		WindowID:  windowID,
		SessionID: sessionID,
		Title:     dir.Attrs["title"],
		Rows:      rows,
		Cols:      cols,
	}, dir.Attrs["kind"], payload)
	txErr := d.st.Transact(func(tx *store.Tx) error {
		return tx.AddPane(sessionID, windowID, sourcePane, cp, layout.Horizontal, 0.5)
	})
	if txErr != nil {
		return txErr
	}
	if err := d.commit(MutCreatePane, CreatePaneMutation{
		SessionID: sessionID, WindowID: windowID, ParentPane: sourcePane,
		Direction: layout.Horizontal, Ratio: 0.5, Pane: cp.Snapshot(0),
	}); err != nil {
		return err
	}
	d.reg.BroadcastToSession(sessionID, event(wire.KindPaneCreated, PaneCreatedBroadcast{
		SessionID: sessionID, WindowID: windowID, PaneID: cp.ID(), ParentPane: sourcePane,
	}))
	return nil
}

func (d *Dispatcher) directiveControl(sourcePane fugueid.ID, dir sideband.Directive) error {
	switch dir.Attrs["action"] {
	case "focus":
		raw, _ := json.Marshal(FocusPaneRequest{PaneID: sourcePane})
		if idAttr := dir.Attrs["pane"]; idAttr != "" {
			id, err := fugueid.Parse(idAttr)
			if err != nil {
				return fugueerr.New(fugueerr.InvalidArgument, "sideband control: bad pane id %q", idAttr)
			}
			raw, _ = json.Marshal(FocusPaneRequest{PaneID: id})
		}
		_, err := d.handleFocusPane(arbitrator.Automation, raw)
		return err
	case "close":
		id := sourcePane
		if idAttr := dir.Attrs["pane"]; idAttr != "" {
			parsed, err := fugueid.Parse(idAttr)
			if err != nil {
				return fugueerr.New(fugueerr.InvalidArgument, "sideband control: bad pane id %q", idAttr)
			}
			id = parsed
		}
		raw, _ := json.Marshal(ClosePaneRequest{PaneID: id})
		_, err := d.handleClosePane(nil, arbitrator.Automation, raw)
		return err
	default:
		return fugueerr.New(fugueerr.InvalidArgument, "unknown control action %q", dir.Attrs["action"])
	}
}

// OnSlowConsumer is installed on the client registry so overflow
// disconnects are logged with their reason.
func (d *Dispatcher) OnSlowConsumer(c *clientreg.Client) {
	log.Printf("warning: client %s disconnected: %s", c.ID(), fugueerr.SlowConsumer)
}
