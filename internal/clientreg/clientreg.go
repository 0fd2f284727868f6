// Package clientreg implements the Client Registry: tracks connected
// clients, their attachment to sessions, and delivers broadcasts
// through a bounded per-client outbound queue drained by a dedicated
// writer task so producers never block.
package clientreg

import (
	"sync"
	"time"

	"fugue/internal/fugueerr"
	"fugue/internal/fugueid"
)

// Lifecycle mirrors a client connection's progression from accept to
// disconnect. A client may attach to at most one session at a time in
// this implementation (re-attaching to a different session detaches
// the prior one first).
type Lifecycle int

const (
	Connected Lifecycle = iota
	Attached
	Disconnected
)

// Client is one connected endpoint with a bounded outbound queue. The
// zero value is not usable; construct with Registry.Connect.
type Client struct {
	id       fugueid.ID
	out      chan any
	mu       sync.Mutex
	session  fugueid.ID
	state    Lifecycle
	lastSeen time.Time
	protocol uint8

	// closeOnce guards against double-closing out when both a
	// SlowConsumer disconnect and an explicit Disconnect race.
	closeOnce sync.Once
}

func (c *Client) ID() fugueid.ID { return c.id }

// Touch records request activity, for idle-connection accounting.
func (c *Client) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = time.Now()
}

func (c *Client) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// SetProtocolVersion records the version negotiated at Connect.
func (c *Client) SetProtocolVersion(v uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.protocol = v
}

func (c *Client) ProtocolVersion() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocol
}

func (c *Client) State() Lifecycle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Session() fugueid.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Outbound exposes the channel a per-client writer task should drain.
// It is closed when the client disconnects.
func (c *Client) Outbound() <-chan any {
	return c.out
}

// try enqueues msg without blocking. Returns false (caller should
// disconnect the client with SlowConsumer) if the queue is full.
func (c *Client) try(msg any) bool {
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.out)
	})
}

// Registry tracks every connected client and its session attachment.
type Registry struct {
	mu             sync.RWMutex
	clients        map[fugueid.ID]*Client
	bySession      map[fugueid.ID]map[fugueid.ID]struct{}
	queueDepth     int
	onSlowConsumer func(*Client)
}

// New creates a Registry whose per-client outbound queues hold
// queueDepth messages before SlowConsumer disconnect triggers.
func New(queueDepth int) *Registry {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Registry{
		clients:    make(map[fugueid.ID]*Client),
		bySession:  make(map[fugueid.ID]map[fugueid.ID]struct{}),
		queueDepth: queueDepth,
	}
}

// OnSlowConsumer registers a callback invoked (outside any lock) when a
// client is disconnected for queue overflow, so the caller can log or
// notify other components.
func (r *Registry) OnSlowConsumer(fn func(*Client)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSlowConsumer = fn
}

// Connect registers a freshly accepted client, not yet attached to any
// session.
func (r *Registry) Connect() *Client {
	c := &Client{
		id:       fugueid.New(),
		out:      make(chan any, r.queueDepth),
		state:    Connected,
		lastSeen: time.Now(),
	}
	r.mu.Lock()
	r.clients[c.id] = c
	r.mu.Unlock()
	return c
}

// Attach registers c as a broadcast recipient of sessionID. Detaches
// from any previously attached session first.
func (r *Registry) Attach(c *Client, sessionID fugueid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c.mu.Lock()
	prev := c.session
	c.session = sessionID
	c.state = Attached
	c.mu.Unlock()

	if prev != "" {
		if set, ok := r.bySession[prev]; ok {
			delete(set, c.id)
		}
	}
	set, ok := r.bySession[sessionID]
	if !ok {
		set = make(map[fugueid.ID]struct{})
		r.bySession[sessionID] = set
	}
	set[c.id] = struct{}{}
}

// Detach removes c as a broadcast recipient without disconnecting it;
// the session survives with zero attached clients.
func (r *Registry) Detach(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c.mu.Lock()
	sessionID := c.session
	c.session = ""
	c.state = Connected
	c.mu.Unlock()

	if set, ok := r.bySession[sessionID]; ok {
		delete(set, c.id)
	}
}

// Disconnect removes c from the registry entirely and closes its
// outbound channel so its writer task exits.
func (r *Registry) Disconnect(c *Client) {
	r.mu.Lock()
	c.mu.Lock()
	sessionID := c.session
	c.state = Disconnected
	c.mu.Unlock()
	if set, ok := r.bySession[sessionID]; ok {
		delete(set, c.id)
	}
	delete(r.clients, c.id)
	r.mu.Unlock()
	c.close()
}

// SendToClient enqueues msg for a specific client by id.
func (r *Registry) SendToClient(clientID fugueid.ID, msg any) error {
	r.mu.RLock()
	c, ok := r.clients[clientID]
	r.mu.RUnlock()
	if !ok {
		return fugueerr.New(fugueerr.NotFound, "client %s not connected", clientID)
	}
	r.deliver(c, msg)
	return nil
}

// BroadcastToSession enqueues msg for every client attached to sessionID.
func (r *Registry) BroadcastToSession(sessionID fugueid.ID, msg any) {
	r.broadcast(sessionID, "", msg)
}

// BroadcastAll enqueues msg for every connected client regardless of
// session attachment, for daemon-wide events (session creation/removal)
// a session browser needs even before attaching.
func (r *Registry) BroadcastAll(msg any) {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		r.deliver(c, msg)
	}
}

// BroadcastToSessionExcept is BroadcastToSession excluding exceptClient.
func (r *Registry) BroadcastToSessionExcept(sessionID, exceptClient fugueid.ID, msg any) {
	r.broadcast(sessionID, exceptClient, msg)
}

func (r *Registry) broadcast(sessionID, exceptClient fugueid.ID, msg any) {
	r.mu.RLock()
	set := r.bySession[sessionID]
	targets := make([]*Client, 0, len(set))
	for id := range set {
		if id == exceptClient {
			continue
		}
		if c, ok := r.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		r.deliver(c, msg)
	}
}

// deliver tries a non-blocking send; on overflow it disconnects the
// client with SlowConsumer. The session itself survives - only the
// slow client is dropped.
func (r *Registry) deliver(c *Client, msg any) {
	if c.try(msg) {
		return
	}
	r.Disconnect(c)
	r.mu.RLock()
	cb := r.onSlowConsumer
	r.mu.RUnlock()
	if cb != nil {
		cb(c)
	}
}

// ClientsOf returns the ids of clients currently attached to sessionID.
func (r *Registry) ClientsOf(sessionID fugueid.ID) []fugueid.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.bySession[sessionID]
	out := make([]fugueid.ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
