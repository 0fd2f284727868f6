// Package outputpump implements the output pump: one task per pane
// that reads PTY output, appends it to scrollback, feeds the
// classifier, and fans the bytes out to attached clients and
// cross-session mirror subscribers. This is the daemon's critical
// path - per-pane ordering end-to-end depends on a single read task
// per PTY appending to scrollback and broadcasting in strict FIFO
// order.
package outputpump

import (
	"bytes"
	"context"
	"sync"
	"time"

	"fugue/internal/classifier"
	"fugue/internal/fugueid"
	"fugue/internal/pane"
	"fugue/internal/ptyproc"
	"fugue/internal/store"
	"fugue/internal/walog"
)

// Broadcaster is the narrow slice of the daemon's broadcast surface the
// pump needs, implemented by the dispatcher. Kept as an interface here
// so outputpump does not import dispatcher (which imports outputpump).
type Broadcaster interface {
	BroadcastOutput(sessionID, paneID fugueid.ID, bytes []byte)
	NotifyStateChange(sessionID, paneID fugueid.ID, from, to classifier.Activity)
	NotifyExit(sessionID, paneID fugueid.ID, status ptyproc.ExitStatus)
}

// coalesceWindow bounds how often raw output is flushed to the WAL as
// output-chunk records, limiting record churn under chatty output.
const coalesceWindow = 200 * time.Millisecond

// readBufSize is the chunk size read from the PTY per iteration.
const readBufSize = 8192

// Pump owns the single long-lived read task for one terminal pane.
type Pump struct {
	pane *pane.Pane
	st   *store.Store
	bc   Broadcaster
	wal  *walog.WAL

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	pending bytes.Buffer
}

// New creates a Pump for p. The pump does not start reading until Run
// is called (typically from a goroutine spawned by the caller
// immediately after).
func New(p *pane.Pane, st *store.Store, bc Broadcaster, wal *walog.WAL) *Pump {
	return &Pump{pane: p, st: st, bc: bc, wal: wal, done: make(chan struct{})}
}

// Run reads from the pane's PTY until EOF, error, or Stop. Each read
// performs, in order: scrollback append, classifier feed, same-session
// broadcast, cross-session mirror fan-out, and a time-coalesced WAL
// output-chunk append. Intended to be run in its own goroutine; Run
// returns once the pane has exited or Stop is called.
func (p *Pump) Run() {
	defer close(p.done)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	defer cancel()

	flushTicker := time.NewTicker(coalesceWindow)
	defer flushTicker.Stop()
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		for {
			select {
			case <-flushTicker.C:
				p.flushWAL()
			case <-ctx.Done():
				return
			}
		}
	}()

	buf := make([]byte, readBufSize)
	pty := p.pane.PTY()
	for {
		n, err := pty.Read(ctx, buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			p.handleChunk(chunk)
		}
		if err != nil {
			cancel()
			<-flushDone
			p.flushWAL()
			p.handleExit(pty)
			return
		}
		p.pane.MarkRunning()
		if c, changed := p.pane.Classifier().Tick(); changed {
			p.bc.NotifyStateChange(p.pane.SessionID(), p.pane.ID(), c.From, c.To)
		}
	}
}

func (p *Pump) handleChunk(b []byte) {
	p.pane.Scrollback().Push(b)

	if change, changed := p.pane.Classifier().Observe(b); changed {
		p.bc.NotifyStateChange(p.pane.SessionID(), p.pane.ID(), change.From, change.To)
	}

	p.bc.BroadcastOutput(p.pane.SessionID(), p.pane.ID(), b)

	var mirrors []fugueid.ID
	p.st.View(func(tx *store.Tx) {
		mirrors = tx.MirrorsOf(p.pane.ID())
	})
	for _, mirrorID := range mirrors {
		var mirrorSession fugueid.ID
		var ok bool
		p.st.View(func(tx *store.Tx) {
			mirrorSession, ok = tx.MirrorSession(mirrorID)
		})
		if !ok || mirrorSession == p.pane.SessionID() {
			// Same-session mirrors don't need a second broadcast: the
			// client already saw the source pane's own Output event.
			continue
		}
		p.bc.BroadcastOutput(mirrorSession, mirrorID, b)
	}

	p.mu.Lock()
	p.pending.Write(b)
	p.mu.Unlock()
}

// flushWAL appends whatever output has accumulated since the last
// flush as a single output-chunk record, bounding WAL churn to roughly
// one record per pane per coalesceWindow instead of one per PTY read.
func (p *Pump) flushWAL() {
	p.mu.Lock()
	if p.pending.Len() == 0 {
		p.mu.Unlock()
		return
	}
	data := append([]byte(nil), p.pending.Bytes()...)
	p.pending.Reset()
	p.mu.Unlock()

	if p.wal == nil {
		return
	}
	payload := encodeOutputRecord(p.pane.ID(), data)
	p.wal.Append(walog.KindOutput, payload)
}

func (p *Pump) handleExit(h *ptyproc.Handle) {
	status := h.Wait()
	p.pane.MarkExited(status)
	p.bc.NotifyExit(p.pane.SessionID(), p.pane.ID(), status)
}

// Stop cancels the pump's read loop. Safe to call multiple times; does
// not block on the PTY itself exiting (a hung child's Read may still
// be in flight, it simply stops being observed).
func (p *Pump) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Wait blocks until Run has returned.
func (p *Pump) Wait() {
	<-p.done
}
