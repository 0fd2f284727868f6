// Package arbitrator tracks, per pane, the timestamp of the most
// recent human-originated input and layout change, and gates
// automation-originated mutations behind a lockout window measured
// from that timestamp.
package arbitrator

import (
	"sync"
	"time"

	"fugue/internal/fugueerr"
	"fugue/internal/fugueid"
)

// Actor distinguishes a direct, attached human client from an
// automation caller (MCP tool calls and sideband-originated requests).
// Only Automation is ever subject to lockout.
type Actor int

const (
	Human Actor = iota
	Automation
)

// Action names the class of mutation being arbitrated. Kill passes
// through the arbitrator alongside Input and Layout.
type Action int

const (
	Input Action = iota
	Layout
	Kill
)

// activity records the most recent human touch on a pane, split by
// lockout class (input lockout is short, layout lockout is long).
type activity struct {
	lastInput  time.Time
	lastLayout time.Time
}

// Arbitrator is safe for concurrent use.
type Arbitrator struct {
	mu sync.Mutex

	inputLockout  time.Duration
	layoutLockout time.Duration

	panes map[fugueid.ID]*activity

	now func() time.Time
}

// New creates an Arbitrator with the given lockout windows.
func New(inputLockout, layoutLockout time.Duration) *Arbitrator {
	return &Arbitrator{
		inputLockout:  inputLockout,
		layoutLockout: layoutLockout,
		panes:         make(map[fugueid.ID]*activity),
		now:           time.Now,
	}
}

// RecordHumanActivity records that a human client just performed action
// on paneID, resetting that action class's lockout clock.
func (a *Arbitrator) RecordHumanActivity(paneID fugueid.ID, action Action) {
	a.mu.Lock()
	defer a.mu.Unlock()
	act, ok := a.panes[paneID]
	if !ok {
		act = &activity{}
		a.panes[paneID] = act
	}
	now := a.now()
	switch action {
	case Layout:
		act.lastLayout = now
	default:
		act.lastInput = now
	}
}

// Forget drops tracked activity for a pane, e.g. once it is removed
// from the store. Not strictly required for correctness (a stale entry
// just wastes a little memory) but keeps the map from growing unbounded
// across a long-lived daemon's pane churn.
func (a *Arbitrator) Forget(paneID fugueid.ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.panes, paneID)
}

// CheckAccess decides whether actor may perform action on a pane.
// Human-originated requests are always allowed; automation
// requests are rejected with ArbitrationDenied (carrying a retry-after
// hint in seconds) if the relevant lockout window has not yet elapsed
// since the pane's last human activity of that class.
func (a *Arbitrator) CheckAccess(paneID fugueid.ID, actor Actor, action Action) error {
	if actor == Human {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	act, ok := a.panes[paneID]
	if !ok {
		return nil
	}

	now := a.now()
	var last time.Time
	var window time.Duration
	switch action {
	case Layout:
		last, window = act.lastLayout, a.layoutLockout
	default:
		last, window = act.lastInput, a.inputLockout
	}
	if last.IsZero() || window <= 0 {
		return nil
	}

	elapsed := now.Sub(last)
	if elapsed >= window {
		return nil
	}
	retryAfter := (window - elapsed).Seconds()
	return fugueerr.Denied(retryAfter, "pane %s had human activity %s ago, within the %s lockout window", paneID, elapsed.Round(time.Millisecond), window)
}
