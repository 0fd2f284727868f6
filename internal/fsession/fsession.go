// Package fsession implements the session: a collection of windows
// rendered tab-style (one active window at a time), tags, metadata,
// environment overrides, and an optional worktree path.
package fsession

import (
	"time"

	"fugue/internal/fugueerr"
	"fugue/internal/fugueid"
	"fugue/internal/window"
)

// Session owns an ordered set of windows, exactly one of which is
// active (tab semantics: creating a window never changes what is
// rendered until explicitly selected).
type Session struct {
	id       fugueid.ID
	name     string
	worktree string

	windows map[fugueid.ID]*window.Window
	order   []fugueid.ID
	active  fugueid.ID

	tags     map[string]struct{}
	metadata map[string]string
	env      map[string]string

	createdAt time.Time
}

// New creates a session around a single initial window.
func New(id fugueid.ID, name string, initialWindow *window.Window) *Session {
	s := &Session{
		id:        id,
		name:      name,
		windows:   make(map[fugueid.ID]*window.Window),
		tags:      make(map[string]struct{}),
		metadata:  make(map[string]string),
		env:       make(map[string]string),
		createdAt: time.Now(),
	}
	s.windows[initialWindow.ID()] = initialWindow
	s.order = append(s.order, initialWindow.ID())
	s.active = initialWindow.ID()
	return s
}

func (s *Session) ID() fugueid.ID       { return s.id }
func (s *Session) Name() string         { return s.name }
func (s *Session) SetName(n string)     { s.name = n }
func (s *Session) Worktree() string     { return s.worktree }
func (s *Session) SetWorktree(p string) { s.worktree = p }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// CreateWindow adds w as a new tab. It does not become active;
// creating a window is never itself a view change.
func (s *Session) CreateWindow(w *window.Window) {
	s.windows[w.ID()] = w
	s.order = append(s.order, w.ID())
}

// SelectWindow makes windowID the active tab. Returns NotFound if the
// window does not belong to this session.
func (s *Session) SelectWindow(windowID fugueid.ID) error {
	if _, ok := s.windows[windowID]; !ok {
		return fugueerr.New(fugueerr.NotFound, "window %s not present in session %s", windowID, s.id)
	}
	s.active = windowID
	return nil
}

func (s *Session) ActiveWindow() (*window.Window, error) {
	w, ok := s.windows[s.active]
	if !ok {
		return nil, fugueerr.New(fugueerr.NotFound, "session %s has no active window", s.id)
	}
	return w, nil
}

func (s *Session) Window(windowID fugueid.ID) (*window.Window, error) {
	w, ok := s.windows[windowID]
	if !ok {
		return nil, fugueerr.New(fugueerr.NotFound, "window %s not present in session %s", windowID, s.id)
	}
	return w, nil
}

// RemoveWindow deletes a window (e.g. once its last pane closes). If
// the removed window was active, the next window in order becomes
// active, or none if this was the last window.
func (s *Session) RemoveWindow(windowID fugueid.ID) error {
	if _, ok := s.windows[windowID]; !ok {
		return fugueerr.New(fugueerr.NotFound, "window %s not present in session %s", windowID, s.id)
	}
	delete(s.windows, windowID)
	idx := -1
	for i, id := range s.order {
		if id == windowID {
			idx = i
			break
		}
	}
	if idx >= 0 {
		s.order = append(s.order[:idx], s.order[idx+1:]...)
	}
	if s.active == windowID {
		if len(s.order) > 0 {
			next := idx
			if next >= len(s.order) {
				next = len(s.order) - 1
			}
			s.active = s.order[next]
		} else {
			s.active = ""
		}
	}
	return nil
}

// Windows returns window ids in creation order.
func (s *Session) Windows() []fugueid.ID {
	out := make([]fugueid.ID, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Session) IsEmpty() bool { return len(s.windows) == 0 }

// --- tags ---

func (s *Session) TagsAdd(tag string) {
	s.tags[tag] = struct{}{}
}

func (s *Session) TagsRemove(tag string) {
	delete(s.tags, tag)
}

func (s *Session) HasTag(tag string) bool {
	_, ok := s.tags[tag]
	return ok
}

func (s *Session) TagsList() []string {
	out := make([]string, 0, len(s.tags))
	for t := range s.tags {
		out = append(out, t)
	}
	return out
}

// ChildTagName returns the session name recorded under a "child:<name>"
// tag, if present, used by the Message Router's Parent target kind.
func (s *Session) ChildTagName() (string, bool) {
	const prefix = "child:"
	for t := range s.tags {
		if len(t) > len(prefix) && t[:len(prefix)] == prefix {
			return t[len(prefix):], true
		}
	}
	return "", false
}

// --- metadata ---

func (s *Session) MetadataGet(key string) (string, bool) {
	v, ok := s.metadata[key]
	return v, ok
}

func (s *Session) MetadataSet(key, value string) {
	s.metadata[key] = value
}

func (s *Session) MetadataAll() map[string]string {
	out := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

// --- checkpoint snapshot/restore ---

// Snapshot is the checkpoint-serializable view of a Session.
type Snapshot struct {
	ID        fugueid.ID        `json:"id"`
	Name      string            `json:"name"`
	Worktree  string            `json:"worktree,omitempty"`
	Windows   []window.Snapshot `json:"windows"`
	Active    fugueid.ID        `json:"active"`
	Order     []fugueid.ID      `json:"order"`
	Tags      []string          `json:"tags,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Snapshot captures s's checkpoint-serializable state.
func (s *Session) Snapshot() Snapshot {
	out := Snapshot{
		ID:        s.id,
		Name:      s.name,
		Worktree:  s.worktree,
		Active:    s.active,
		Tags:      s.TagsList(),
		Metadata:  s.MetadataAll(),
		Env:       s.EnvAll(),
		CreatedAt: s.createdAt,
	}
	out.Order = append(out.Order, s.order...)
	for _, id := range s.order {
		out.Windows = append(out.Windows, s.windows[id].Snapshot())
	}
	return out
}

// Restore rebuilds a Session directly from a checkpoint snapshot.
func Restore(s Snapshot, windows map[fugueid.ID]*window.Window) *Session {
	sess := &Session{
		id:        s.ID,
		name:      s.Name,
		worktree:  s.Worktree,
		windows:   windows,
		order:     append([]fugueid.ID(nil), s.Order...),
		active:    s.Active,
		tags:      make(map[string]struct{}),
		metadata:  make(map[string]string),
		env:       make(map[string]string),
		createdAt: s.CreatedAt,
	}
	for _, t := range s.Tags {
		sess.tags[t] = struct{}{}
	}
	for k, v := range s.Metadata {
		sess.metadata[k] = v
	}
	for k, v := range s.Env {
		sess.env[k] = v
	}
	return sess
}

// --- env overrides ---

func (s *Session) EnvGet(key string) (string, bool) {
	v, ok := s.env[key]
	return v, ok
}

func (s *Session) EnvSet(key, value string) {
	s.env[key] = value
}

func (s *Session) EnvAll() map[string]string {
	out := make(map[string]string, len(s.env))
	for k, v := range s.env {
		out[k] = v
	}
	return out
}
