// Package store implements the State Store: the single process-wide,
// read-mostly-locked registry of sessions, windows, and panes. All
// reads take a shared lock; every mutation is performed inside a single
// Transact call holding the exclusive lock for its whole duration, so a
// transaction can combine several state changes before anything becomes
// externally observable. The WAL append is not part of the transaction:
// callers append the mutation record after Transact has returned and
// the lock is released. No I/O may be
// performed by a function passed to Transact - PTY/network/disk calls
// belong to the caller, before or after the Transact call.
package store

import (
	"sort"
	"sync"

	"fugue/internal/fsession"
	"fugue/internal/fugueerr"
	"fugue/internal/fugueid"
	"fugue/internal/layout"
	"fugue/internal/pane"
	"fugue/internal/window"
)

// Store owns every session, window, and pane in the process.
type Store struct {
	mu sync.RWMutex

	sessions       map[fugueid.ID]*fsession.Session
	sessionsByName map[string]fugueid.ID

	panes      map[fugueid.ID]*pane.Pane
	paneWindow map[fugueid.ID]fugueid.ID
	paneSess   map[fugueid.ID]fugueid.ID

	// mirrors maps a source pane id to the set of mirror pane ids
	// watching it, potentially in other sessions.
	mirrors       map[fugueid.ID]map[fugueid.ID]struct{}
	mirrorSession map[fugueid.ID]fugueid.ID
	mirrorSource  map[fugueid.ID]fugueid.ID
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		sessions:       make(map[fugueid.ID]*fsession.Session),
		sessionsByName: make(map[string]fugueid.ID),
		panes:          make(map[fugueid.ID]*pane.Pane),
		paneWindow:     make(map[fugueid.ID]fugueid.ID),
		paneSess:       make(map[fugueid.ID]fugueid.ID),
		mirrors:        make(map[fugueid.ID]map[fugueid.ID]struct{}),
		mirrorSession:  make(map[fugueid.ID]fugueid.ID),
		mirrorSource:   make(map[fugueid.ID]fugueid.ID),
	}
}

// Tx is the mutation handle passed to a Transact callback. Every method
// on Tx assumes the exclusive lock is already held; none perform I/O.
type Tx struct {
	st *Store
}

// Transact runs fn holding the exclusive lock for its entire duration.
// fn must not perform PTY, network, disk, or any other
// suspension-point I/O - only in-memory state transitions. The caller
// performs any WAL append, fsync, or other side effect after Transact
// returns.
func (st *Store) Transact(fn func(tx *Tx) error) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return fn(&Tx{st: st})
}

// View runs fn holding the shared read lock, for callers that need a
// consistent multi-field read (e.g. composing a response from several
// related lookups).
func (st *Store) View(fn func(tx *Tx)) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	fn(&Tx{st: st})
}

// --- sessions ---

// CreateSession registers a new session around w, whose sole initial
// pane is initialPane (already spawned by the caller before Transact
// was entered). Fails with Conflict if the name is already in use.
func (tx *Tx) CreateSession(id fugueid.ID, name string, w *window.Window, initialPane *pane.Pane) (*fsession.Session, error) {
	if _, exists := tx.st.sessionsByName[name]; exists {
		return nil, fugueerr.New(fugueerr.Conflict, "session name %q already in use", name)
	}
	s := fsession.New(id, name, w)
	tx.st.sessions[id] = s
	tx.st.sessionsByName[name] = id
	tx.st.panes[initialPane.ID()] = initialPane
	for _, paneID := range w.ListPanes() {
		tx.st.paneWindow[paneID] = w.ID()
		tx.st.paneSess[paneID] = id
	}
	return s, nil
}

func (tx *Tx) Session(id fugueid.ID) (*fsession.Session, error) {
	s, ok := tx.st.sessions[id]
	if !ok {
		return nil, fugueerr.New(fugueerr.NotFound, "session %s not found", id)
	}
	return s, nil
}

func (tx *Tx) SessionByName(name string) (*fsession.Session, error) {
	id, ok := tx.st.sessionsByName[name]
	if !ok {
		return nil, fugueerr.New(fugueerr.NotFound, "session %q not found", name)
	}
	return tx.st.sessions[id], nil
}

func (tx *Tx) ListSessions() []*fsession.Session {
	out := make([]*fsession.Session, 0, len(tx.st.sessions))
	for _, s := range tx.st.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// RenameSession updates the name index along with the session.
func (tx *Tx) RenameSession(id fugueid.ID, newName string) error {
	s, ok := tx.st.sessions[id]
	if !ok {
		return fugueerr.New(fugueerr.NotFound, "session %s not found", id)
	}
	if _, exists := tx.st.sessionsByName[newName]; exists {
		return fugueerr.New(fugueerr.Conflict, "session name %q already in use", newName)
	}
	delete(tx.st.sessionsByName, s.Name())
	s.SetName(newName)
	tx.st.sessionsByName[newName] = id
	return nil
}

// RemoveSession deletes a session and every pane belonging to it,
// returning the deleted pane ids so the caller can kill their PTYs
// (I/O performed outside the lock, after Transact returns).
func (tx *Tx) RemoveSession(id fugueid.ID) ([]fugueid.ID, error) {
	s, ok := tx.st.sessions[id]
	if !ok {
		return nil, fugueerr.New(fugueerr.NotFound, "session %s not found", id)
	}
	var paneIDs []fugueid.ID
	for _, winID := range s.Windows() {
		w, err := s.Window(winID)
		if err != nil {
			continue
		}
		for _, pid := range w.ListPanes() {
			paneIDs = append(paneIDs, pid)
			delete(tx.st.panes, pid)
			delete(tx.st.paneWindow, pid)
			delete(tx.st.paneSess, pid)
		}
	}
	delete(tx.st.sessionsByName, s.Name())
	delete(tx.st.sessions, id)
	return paneIDs, nil
}

// --- windows ---

// CreateWindow adds a new tab window holding initialPane (already
// spawned by the caller) and registers that pane in the pane tables.
func (tx *Tx) CreateWindow(sessionID, windowID fugueid.ID, title string, initialPane *pane.Pane) (*window.Window, error) {
	s, ok := tx.st.sessions[sessionID]
	if !ok {
		return nil, fugueerr.New(fugueerr.NotFound, "session %s not found", sessionID)
	}
	w := window.New(windowID, title, initialPane.ID())
	s.CreateWindow(w)
	tx.st.panes[initialPane.ID()] = initialPane
	tx.st.paneWindow[initialPane.ID()] = windowID
	tx.st.paneSess[initialPane.ID()] = sessionID
	return w, nil
}

func (tx *Tx) SelectWindow(sessionID, windowID fugueid.ID) error {
	s, err := tx.Session(sessionID)
	if err != nil {
		return err
	}
	return s.SelectWindow(windowID)
}

// --- panes ---

// AddPane registers a new pane as a layout sibling of parentPane within
// windowID, in sessionID. The pane object itself must already be spawned
// by the caller before Transact is entered.
func (tx *Tx) AddPane(sessionID, windowID, parentPane fugueid.ID, p *pane.Pane, dir layout.Direction, ratio float64) error {
	s, err := tx.Session(sessionID)
	if err != nil {
		return err
	}
	w, err := s.Window(windowID)
	if err != nil {
		return err
	}
	if err := w.AddPaneRatio(parentPane, p.ID(), dir, ratio); err != nil {
		return err
	}
	tx.st.panes[p.ID()] = p
	tx.st.paneWindow[p.ID()] = windowID
	tx.st.paneSess[p.ID()] = sessionID
	return nil
}

// RemovePane removes a pane from its owning window and the pane table.
// If removal empties the window, the window is also removed from its
// session, and windowEmptied reports this to the caller.
func (tx *Tx) RemovePane(paneID fugueid.ID) (windowEmptied bool, err error) {
	windowID, ok := tx.st.paneWindow[paneID]
	if !ok {
		return false, fugueerr.New(fugueerr.NotFound, "pane %s not found", paneID)
	}
	sessionID := tx.st.paneSess[paneID]
	s, err := tx.Session(sessionID)
	if err != nil {
		return false, err
	}
	w, err := s.Window(windowID)
	if err != nil {
		return false, err
	}
	emptied, err := w.RemovePane(paneID)
	if err != nil {
		return false, err
	}
	delete(tx.st.panes, paneID)
	delete(tx.st.paneWindow, paneID)
	delete(tx.st.paneSess, paneID)
	tx.removeMirrorsOf(paneID)

	if emptied {
		_ = s.RemoveWindow(windowID)
		return true, nil
	}
	return false, nil
}

func (tx *Tx) Pane(paneID fugueid.ID) (*pane.Pane, error) {
	p, ok := tx.st.panes[paneID]
	if !ok {
		return nil, fugueerr.New(fugueerr.NotFound, "pane %s not found", paneID)
	}
	return p, nil
}

// PaneOwner returns the window and session a pane belongs to.
func (tx *Tx) PaneOwner(paneID fugueid.ID) (windowID, sessionID fugueid.ID, err error) {
	windowID, ok := tx.st.paneWindow[paneID]
	if !ok {
		return "", "", fugueerr.New(fugueerr.NotFound, "pane %s not found", paneID)
	}
	return windowID, tx.st.paneSess[paneID], nil
}

// --- name resolution ---

// match is one candidate in a partial-name resolution.
type match struct {
	sessionName string
	windowTitle string
	paneTitle   string
	paneID      fugueid.ID
}

// ResolvePane finds panes whose owning session/window/pane names
// contain the given (possibly empty) filter substrings, and returns the
// single deterministic best match: lexicographically first over the
// (session-name, window-name, pane-title) tuple, so ambiguous partial
// name queries always resolve the same way.
func (tx *Tx) ResolvePane(sessionFilter, windowFilter, paneFilter string) (fugueid.ID, error) {
	var candidates []match
	for _, s := range tx.st.sessions {
		if sessionFilter != "" && !contains(s.Name(), sessionFilter) {
			continue
		}
		for _, winID := range s.Windows() {
			w, err := s.Window(winID)
			if err != nil {
				continue
			}
			if windowFilter != "" && !contains(w.Title(), windowFilter) {
				continue
			}
			for _, pid := range w.ListPanes() {
				p, ok := tx.st.panes[pid]
				if !ok {
					continue
				}
				if paneFilter != "" && !contains(p.Title(), paneFilter) {
					continue
				}
				candidates = append(candidates, match{s.Name(), w.Title(), p.Title(), pid})
			}
		}
	}
	if len(candidates) == 0 {
		return "", fugueerr.New(fugueerr.NotFound, "no pane matches session=%q window=%q pane=%q", sessionFilter, windowFilter, paneFilter)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.sessionName != b.sessionName {
			return a.sessionName < b.sessionName
		}
		if a.windowTitle != b.windowTitle {
			return a.windowTitle < b.windowTitle
		}
		return a.paneTitle < b.paneTitle
	})
	return candidates[0].paneID, nil
}

func contains(s, substr string) bool {
	return len(substr) == 0 || indexOfSubstr(s, substr) >= 0
}

func indexOfSubstr(s, substr string) int {
	n, m := len(s), len(substr)
	if m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == substr {
			return i
		}
	}
	return -1
}

// --- mirror registry ---

// AddMirror registers mirrorPaneID (owned by mirrorSessionID) as a
// watcher of sourcePaneID's output.
func (tx *Tx) AddMirror(sourcePaneID, mirrorPaneID, mirrorSessionID fugueid.ID) {
	set, ok := tx.st.mirrors[sourcePaneID]
	if !ok {
		set = make(map[fugueid.ID]struct{})
		tx.st.mirrors[sourcePaneID] = set
	}
	set[mirrorPaneID] = struct{}{}
	tx.st.mirrorSession[mirrorPaneID] = mirrorSessionID
	tx.st.mirrorSource[mirrorPaneID] = sourcePaneID
}

// MirrorsOf returns every mirror pane id watching sourcePaneID.
func (tx *Tx) MirrorsOf(sourcePaneID fugueid.ID) []fugueid.ID {
	set := tx.st.mirrors[sourcePaneID]
	out := make([]fugueid.ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// MirrorSession returns the session owning a mirror pane.
func (tx *Tx) MirrorSession(mirrorPaneID fugueid.ID) (fugueid.ID, bool) {
	id, ok := tx.st.mirrorSession[mirrorPaneID]
	return id, ok
}

// --- checkpoint snapshot/restore ---

// SessionTopology pairs a session's checkpoint snapshot with the
// snapshots of every pane it owns, since panes live in the store's own
// flat tables rather than nested inside fsession.Snapshot.
type SessionTopology struct {
	Session fsession.Snapshot `json:"session"`
	Panes   []pane.Snapshot   `json:"panes"`
}

// Topology is the full checkpoint-serializable state of the store,
// minus every live PTY handle.
type Topology struct {
	Sessions []SessionTopology `json:"sessions"`
}

// Snapshot captures the store's entire topology for a checkpoint.
// scrollbackTailN bounds how many lines of each pane's scrollback are
// embedded in the checkpoint itself.
func (st *Store) Snapshot(scrollbackTailN int) Topology {
	var topo Topology
	st.View(func(tx *Tx) {
		for _, s := range tx.ListSessions() {
			entry := SessionTopology{Session: s.Snapshot()}
			for _, winID := range s.Windows() {
				w, err := s.Window(winID)
				if err != nil {
					continue
				}
				for _, pid := range w.ListPanes() {
					if p, ok := tx.st.panes[pid]; ok {
						entry.Panes = append(entry.Panes, p.Snapshot(scrollbackTailN))
					}
				}
			}
			topo.Sessions = append(topo.Sessions, entry)
		}
	})
	return topo
}

// InsertSession registers a fully-constructed session (built during
// checkpoint/WAL recovery) directly into the store's indices, bypassing
// CreateSession's single-initial-pane constructor. panes must contain
// every pane id the session's windows reference.
func (tx *Tx) InsertSession(s *fsession.Session, panes map[fugueid.ID]*pane.Pane) error {
	if _, exists := tx.st.sessionsByName[s.Name()]; exists {
		return fugueerr.New(fugueerr.Conflict, "session name %q already in use", s.Name())
	}
	tx.st.sessions[s.ID()] = s
	tx.st.sessionsByName[s.Name()] = s.ID()
	for _, winID := range s.Windows() {
		w, err := s.Window(winID)
		if err != nil {
			continue
		}
		for _, pid := range w.ListPanes() {
			p, ok := panes[pid]
			if !ok {
				return fugueerr.New(fugueerr.Internal, "pane %s missing from recovery set for session %s", pid, s.ID())
			}
			tx.st.panes[pid] = p
			tx.st.paneWindow[pid] = winID
			tx.st.paneSess[pid] = s.ID()
		}
	}
	return nil
}

// InsertWindow registers a fully-restored window (WAL replay of a
// create_window mutation) along with the panes its layout references.
func (tx *Tx) InsertWindow(sessionID fugueid.ID, w *window.Window, panes map[fugueid.ID]*pane.Pane) error {
	s, ok := tx.st.sessions[sessionID]
	if !ok {
		return fugueerr.New(fugueerr.NotFound, "session %s not found", sessionID)
	}
	s.CreateWindow(w)
	for _, pid := range w.ListPanes() {
		p, ok := panes[pid]
		if !ok {
			return fugueerr.New(fugueerr.Internal, "pane %s missing from replay set for window %s", pid, w.ID())
		}
		tx.st.panes[pid] = p
		tx.st.paneWindow[pid] = w.ID()
		tx.st.paneSess[pid] = sessionID
	}
	return nil
}

func (tx *Tx) removeMirrorsOf(paneID fugueid.ID) {
	// paneID may be a source (others mirror it) or a mirror itself.
	delete(tx.st.mirrors, paneID)
	if source, ok := tx.st.mirrorSource[paneID]; ok {
		if set, ok := tx.st.mirrors[source]; ok {
			delete(set, paneID)
		}
		delete(tx.st.mirrorSource, paneID)
	}
	delete(tx.st.mirrorSession, paneID)
}
