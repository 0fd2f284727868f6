// Package canvas implements the non-terminal pane variant: a
// structured widget pane with no PTY, whose content is supplied and
// updated by sideband directives rather than process output.
package canvas

import (
	"encoding/json"
	"sync"
)

// Widget holds the structured state of a canvas pane. The daemon treats
// the payload opaquely (arbitrary JSON); interpretation belongs to
// whichever client or MCP adapter renders it.
type Widget struct {
	mu      sync.RWMutex
	Kind    string // e.g. "diff", "status"
	Payload json.RawMessage

	// InputHandler, when set, receives input routed to this canvas pane
	// instead of a PTY write. Returns an error to report back to the
	// caller (e.g. on malformed input), mirroring write_input's PaneExited
	// failure mode for terminal panes.
	InputHandler func(input []byte) error
}

// New creates a Widget of the given kind with an initial payload.
func New(kind string, payload json.RawMessage) *Widget {
	return &Widget{Kind: kind, Payload: payload}
}

// Update replaces the widget's payload, as directed by a further
// sideband "canvas" directive from the hosted process.
func (w *Widget) Update(payload json.RawMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Payload = payload
}

// Snapshot returns the widget's current kind and payload.
func (w *Widget) Snapshot() (string, json.RawMessage) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.Kind, w.Payload
}

// HandleInput dispatches input to the widget's handler rather than a
// PTY. Returns nil if no handler is registered - input is simply
// dropped; a canvas with no handler is a pure display surface.
func (w *Widget) HandleInput(input []byte) error {
	w.mu.RLock()
	handler := w.InputHandler
	w.mu.RUnlock()
	if handler == nil {
		return nil
	}
	return handler(input)
}
