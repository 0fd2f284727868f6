// Package router resolves an orchestration message's target (a
// specific session, every session carrying a tag, every other session,
// sessions rooted at a worktree, or a sending session's parent) into a
// set of recipient inboxes, and owns the bounded per-session inbox
// those recipients poll.
package router

import (
	"encoding/json"
	"sync"

	"fugue/internal/fugueerr"
	"fugue/internal/fugueid"
	"fugue/internal/store"
)

// TargetKind discriminates how an orchestration message's recipients
// are resolved.
type TargetKind int

const (
	TargetSession TargetKind = iota
	TargetTagged
	TargetBroadcast
	TargetWorktree
	TargetParent
)

// Target names the recipients of an orchestration message.
type Target struct {
	Kind         TargetKind
	SessionID    fugueid.ID
	Tag          string
	WorktreePath string
}

// Message is one orchestration message in flight or at rest in an inbox.
type Message struct {
	ID          string
	FromSession fugueid.ID
	MsgType     string
	Payload     json.RawMessage
}

const defaultInboxCap = 256

// inbox is a per-session bounded FIFO. Overflow drops the oldest
// message and increments a counter surfaced on the next poll.
type inbox struct {
	mu       sync.Mutex
	messages []Message
	dropped  int
}

func (ib *inbox) push(msg Message, cap int) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if len(ib.messages) >= cap {
		ib.messages = ib.messages[1:]
		ib.dropped++
	}
	ib.messages = append(ib.messages, msg)
}

// drain returns every queued message and the drop count accumulated
// since the last drain, resetting both.
func (ib *inbox) drain() ([]Message, int) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	msgs := ib.messages
	dropped := ib.dropped
	ib.messages = nil
	ib.dropped = 0
	return msgs, dropped
}

// Router resolves orchestration targets against the State Store and
// delivers messages into per-session inboxes.
type Router struct {
	mu       sync.Mutex
	st       *store.Store
	inboxCap int
	inboxes  map[fugueid.ID]*inbox

	// onFallbackWarning is called whenever a Parent target falls back
	// to tag=orchestrator. Nil is fine (the fallback still happens,
	// just silently).
	onFallbackWarning func(msg string)
}

// New creates a Router backed by st. inboxCap <= 0 uses a built-in
// default.
func New(st *store.Store, inboxCap int, onFallbackWarning func(string)) *Router {
	if inboxCap <= 0 {
		inboxCap = defaultInboxCap
	}
	return &Router{
		st:                st,
		inboxCap:          inboxCap,
		inboxes:           make(map[fugueid.ID]*inbox),
		onFallbackWarning: onFallbackWarning,
	}
}

func (r *Router) inboxFor(sessionID fugueid.ID) *inbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	ib, ok := r.inboxes[sessionID]
	if !ok {
		ib = &inbox{}
		r.inboxes[sessionID] = ib
	}
	return ib
}

// Send resolves target's recipients and enqueues msg into each one's
// inbox, returning the delivered count.
func (r *Router) Send(target Target, msg Message) (int, error) {
	n, _, err := r.SendTo(target, msg)
	return n, err
}

// SendTo is Send plus the resolved recipient session ids, for callers
// that also emit a per-recipient broadcast alongside inbox delivery.
func (r *Router) SendTo(target Target, msg Message) (int, []fugueid.ID, error) {
	recipients, err := r.resolve(target, msg.FromSession)
	if err != nil {
		return 0, nil, err
	}
	for _, sid := range recipients {
		r.inboxFor(sid).push(msg, r.inboxCap)
	}
	return len(recipients), recipients, nil
}

func (r *Router) resolve(target Target, from fugueid.ID) ([]fugueid.ID, error) {
	var ids []fugueid.ID
	var resolveErr error

	r.st.View(func(tx *store.Tx) {
		switch target.Kind {
		case TargetSession:
			if _, err := tx.Session(target.SessionID); err != nil {
				resolveErr = err
				return
			}
			ids = append(ids, target.SessionID)

		case TargetTagged:
			// The sender never receives its own tagged message, even if
			// it carries the tag itself.
			for _, s := range tx.ListSessions() {
				if s.HasTag(target.Tag) && s.ID() != from {
					ids = append(ids, s.ID())
				}
			}

		case TargetBroadcast:
			for _, s := range tx.ListSessions() {
				if s.ID() != from {
					ids = append(ids, s.ID())
				}
			}

		case TargetWorktree:
			for _, s := range tx.ListSessions() {
				if target.WorktreePath != "" && s.Worktree() == target.WorktreePath {
					ids = append(ids, s.ID())
				}
			}

		case TargetParent:
			ids = r.resolveParent(tx, from)

		default:
			resolveErr = fugueerr.New(fugueerr.InvalidArgument, "unknown target kind %d", target.Kind)
		}
	})
	return ids, resolveErr
}

// resolveParent routes target=parent to the session named by the
// sender's child:<name> tag; absent that tag (or the named session no
// longer existing), it falls back to every session tagged orchestrator
// and warns.
func (r *Router) resolveParent(tx *store.Tx, from fugueid.ID) []fugueid.ID {
	if fromSession, err := tx.Session(from); err == nil {
		if parentName, ok := fromSession.ChildTagName(); ok {
			if parent, err := tx.SessionByName(parentName); err == nil {
				return []fugueid.ID{parent.ID()}
			}
		}
	}
	if r.onFallbackWarning != nil {
		r.onFallbackWarning("orchestration target=parent: no child tag or matching parent session, falling back to tag=orchestrator")
	}
	var ids []fugueid.ID
	for _, s := range tx.ListSessions() {
		// Tagged delivery excludes the sender, and the fallback is
		// tagged delivery: an orchestrator-tagged sender must not
		// receive its own parent-routed message.
		if s.HasTag("orchestrator") && s.ID() != from {
			ids = append(ids, s.ID())
		}
	}
	return ids
}

// Poll drains sessionID's inbox, returning queued messages and the
// count dropped due to overflow since the last poll.
func (r *Router) Poll(sessionID fugueid.ID) ([]Message, int) {
	r.mu.Lock()
	ib, ok := r.inboxes[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, 0
	}
	return ib.drain()
}

// Forget removes a session's inbox, e.g. once the session is killed.
func (r *Router) Forget(sessionID fugueid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inboxes, sessionID)
}
