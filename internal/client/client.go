// Package client implements the daemon's wire-facing client side:
// request/response correlation by request id, separation of broadcast
// events from responses by frame kind, per-request timeouts, and the
// draining of late responses for timed-out requests so a stale reply is
// never delivered as the answer to a later call.
package client

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"fugue/internal/dispatcher"
	"fugue/internal/fugueerr"
	"fugue/internal/fugueid"
	"fugue/internal/wire"
)

// DefaultTimeout is the per-request deadline for daemon-facing calls.
const DefaultTimeout = 25 * time.Second

// Client is one connection to the daemon. Safe for concurrent use;
// requests are correlated by id, not by arrival order, so concurrent
// callers never steal each other's responses.
type Client struct {
	conn net.Conn

	mu       sync.Mutex
	pending  map[string]chan wire.Envelope
	dead     map[string]struct{} // timed-out request ids awaiting a late response to drain
	events   chan wire.Envelope
	closed   bool
	readErr  error
	clientID fugueid.ID
}

// Dial connects to the daemon socket and performs the Connect
// handshake, verifying protocol versions agree.
func Dial(sockPath string) (*Client, error) {
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	c := &Client{
		conn:    conn,
		pending: make(map[string]chan wire.Envelope),
		dead:    make(map[string]struct{}),
		events:  make(chan wire.Envelope, 256),
	}
	go c.readLoop()

	var resp dispatcher.ConnectResponse
	if err := c.Call(dispatcher.OpConnect, dispatcher.ConnectRequest{ProtocolVersion: wire.ProtocolVersion}, &resp); err != nil {
		conn.Close()
		return nil, err
	}
	c.clientID = resp.ClientID
	return c, nil
}

// ClientID returns the id the daemon assigned this connection.
func (c *Client) ClientID() fugueid.ID { return c.clientID }

// Events exposes the broadcast stream: every frame whose kind is in the
// broadcast range lands here, never in a Call result.
func (c *Client) Events() <-chan wire.Envelope { return c.events }

// Close tears down the connection. Outstanding Calls fail.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

// readLoop routes every inbound frame: broadcasts to the event channel,
// responses to their pending request (or the floor, if the request
// already timed out - that drain is what keeps a late response for
// request N from becoming the answer to request N+1).
func (c *Client) readLoop() {
	for {
		env, err := wire.ReadEnvelope(c.conn)
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			c.mu.Unlock()
			close(c.events)
			return
		}

		if env.Kind.IsBroadcast() {
			select {
			case c.events <- env:
			default:
				// A slow event consumer drops events locally rather than
				// stalling response routing.
			}
			continue
		}

		c.mu.Lock()
		if _, timedOut := c.dead[env.RequestID]; timedOut {
			delete(c.dead, env.RequestID)
			c.mu.Unlock()
			continue
		}
		ch, ok := c.pending[env.RequestID]
		if ok {
			delete(c.pending, env.RequestID)
		}
		c.mu.Unlock()
		if ok {
			ch <- env
			close(ch)
		}
	}
}

// Call sends one request and decodes its response payload into out
// (which may be nil). Uses DefaultTimeout.
func (c *Client) Call(op dispatcher.Op, payload any, out any) error {
	return c.CallTimeout(op, payload, out, DefaultTimeout)
}

// CallActor is Call with an explicit actor tag ("automation" marks the
// request as tool-originated so the arbitrator can gate it).
func (c *Client) CallActor(op dispatcher.Op, actor string, payload any, out any) error {
	return c.call(op, actor, payload, out, DefaultTimeout)
}

// CallTimeout is Call with an explicit deadline.
func (c *Client) CallTimeout(op dispatcher.Op, payload any, out any, timeout time.Duration) error {
	return c.call(op, "", payload, out, timeout)
}

func (c *Client) call(op dispatcher.Op, actor string, payload any, out any, timeout time.Duration) error {
	reqID := fugueid.New().String()

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = data
	}
	body, err := json.Marshal(dispatcher.RequestEnvelope{Op: op, Actor: actor, Payload: raw})
	if err != nil {
		return err
	}

	ch := make(chan wire.Envelope, 1)
	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return fmt.Errorf("daemon connection lost: %w", err)
	}
	c.pending[reqID] = ch
	c.mu.Unlock()

	env := wire.Envelope{Version: wire.ProtocolVersion, Kind: wire.KindRequest, RequestID: reqID, Payload: body}
	if err := wire.WriteEnvelope(c.conn, env); err != nil {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
		return fmt.Errorf("send request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("daemon connection closed before response")
		}
		return decodeResponse(resp, out)
	case <-timer.C:
		// Mark the id dead so the read loop drains the late response
		// instead of handing it to whoever calls next.
		c.mu.Lock()
		if _, still := c.pending[reqID]; still {
			delete(c.pending, reqID)
			c.dead[reqID] = struct{}{}
		}
		c.mu.Unlock()
		return fugueerr.New(fugueerr.Timeout, "request %s timed out after %s", op, timeout)
	}
}

func decodeResponse(env wire.Envelope, out any) error {
	var resp dispatcher.ResponseEnvelope
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	if resp.Error != nil {
		return &fugueerr.Error{
			Kind:       fugueerr.Kind(resp.Error.Kind),
			Message:    resp.Error.Message,
			RetryAfter: resp.Error.RetryAfter,
		}
	}
	if out != nil && len(resp.Payload) > 0 {
		return json.Unmarshal(resp.Payload, out)
	}
	return nil
}
