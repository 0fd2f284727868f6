// Package ptyproc implements the PTY Layer: spawning child processes
// attached to pseudo-terminals, async cancellable read/write, resize,
// and graceful-then-forceful kill. This is the lowest layer in the
// daemon's dependency graph - it owns no knowledge of panes, sessions,
// or the state store.
package ptyproc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"fugue/internal/fugueerr"
)

// ExitStatus describes how a child process terminated.
type ExitStatus struct {
	Code     int
	Signaled bool
	Signal   string
}

// Handle owns one PTY-attached child process. All methods are safe for
// concurrent use; Read is cancellable via the context passed to it, and
// Write is bounded by the timeout passed to it.
type Handle struct {
	mu       sync.Mutex
	ptm      *os.File
	cmd      *exec.Cmd
	rows     int
	cols     int
	exited   bool
	status   ExitStatus
	exitOnce sync.Once
	done     chan struct{} // closed exactly once, when the child has been reaped
}

// Spawn starts command with args and env attached to a new PTY sized
// rows x cols, running in cwd. Shell resolution (explicit command ->
// $SHELL -> platform default) is the caller's responsibility - callers
// that want "open a shell" semantics should resolve the command with
// ResolveShell before calling Spawn.
func Spawn(command string, args, env []string, cwd string, rows, cols int) (*Handle, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fugueerr.New(fugueerr.InvalidArgument, "pty dimensions must be positive, got rows=%d cols=%d", rows, cols)
	}
	cmd := exec.Command(command, args...)
	cmd.Dir = cwd
	cmd.Env = env
	cmd.SysProcAttr = sysProcAttr()

	ptm, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || os.IsNotExist(err) || os.IsPermission(err) {
			return nil, fugueerr.Wrap(fugueerr.SpawnFailed, err, "spawn %s", command)
		}
		return nil, fugueerr.Wrap(fugueerr.SpawnFailed, err, "spawn %s", command)
	}

	h := &Handle{
		ptm:  ptm,
		cmd:  cmd,
		rows: rows,
		cols: cols,
		done: make(chan struct{}),
	}
	go h.reap()
	return h, nil
}

// reap waits for the child and records its exit status exactly once.
func (h *Handle) reap() {
	err := h.cmd.Wait()
	status := exitStatusFromError(err)
	h.mu.Lock()
	h.exited = true
	h.status = status
	h.mu.Unlock()
	h.exitOnce.Do(func() {
		close(h.done)
	})
}

// Wait blocks until the child exits and returns its exit status. Safe to
// call from multiple goroutines; all callers observe the same status.
func (h *Handle) Wait() ExitStatus {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Exited reports whether the child has already terminated.
func (h *Handle) Exited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}

// Read reads output bytes from the PTY. It blocks until data is
// available, EOF, or ctx is cancelled. EOF is returned as io.EOF,
// distinct from any other ReadFailed error.
func (h *Handle) Read(ctx context.Context, buf []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := h.ptm.Read(buf)
		ch <- result{n, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil && r.err.Error() != "EOF" {
			// Preserve io.EOF identity for callers checking errors.Is(err, io.EOF);
			// any other failure is wrapped with the taxonomy kind.
			return r.n, fugueerr.Wrap(fugueerr.ReadFailed, r.err, "read from pty")
		}
		return r.n, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ErrWriteTimeout is returned by Write when the child is not draining
// its PTY input within the deadline (kernel buffer full because the
// child is hung).
var ErrWriteTimeout = errors.New("pty write timed out")

// Write writes input bytes to the PTY with a bounded deadline so a hung
// child cannot block the caller forever.
func (h *Handle) Write(p []byte, timeout time.Duration) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := h.ptm.Write(p)
		ch <- result{n, err}
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.err != nil {
			return r.n, fugueerr.Wrap(fugueerr.WriteFailed, r.err, "write to pty")
		}
		return r.n, nil
	case <-timer.C:
		return 0, ErrWriteTimeout
	}
}

// Resize changes the PTY window size. A resize to identical dimensions
// is a no-op.
func (h *Handle) Resize(rows, cols int) error {
	if rows <= 0 || cols <= 0 {
		return fugueerr.New(fugueerr.InvalidArgument, "resize dimensions must be positive, got rows=%d cols=%d", rows, cols)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rows == rows && h.cols == cols {
		return nil
	}
	if err := pty.Setsize(h.ptm, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return fugueerr.Wrap(fugueerr.ResizeFailed, err, "resize pty")
	}
	h.rows, h.cols = rows, cols
	return nil
}

// Kill sends SIGTERM and waits up to gracefulTimeout for the child to
// exit before escalating to SIGKILL against the whole process group
// (the child may itself have spawned grandchildren, e.g. a hosted
// agent's subprocess tools).
func (h *Handle) Kill(gracefulTimeout time.Duration) {
	if h.Exited() {
		return
	}
	pid := h.cmd.Process.Pid
	signalGroup(pid, syscall.SIGTERM)

	select {
	case <-h.done:
		return
	case <-time.After(gracefulTimeout):
		signalGroup(pid, syscall.SIGKILL)
	}
}

// Close releases the PTY master file descriptor. Safe to call after Kill.
func (h *Handle) Close() error {
	return h.ptm.Close()
}

// File exposes the underlying PTY master for callers that need direct
// os.File semantics (e.g. passing to exec.Cmd.Stdin in tests).
func (h *Handle) File() *os.File {
	return h.ptm
}

func exitStatusFromError(err error) ExitStatus {
	if err == nil {
		return ExitStatus{Code: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return ExitStatus{Signaled: true, Signal: status.Signal().String(), Code: -1}
			}
			return ExitStatus{Code: status.ExitStatus()}
		}
		return ExitStatus{Code: exitErr.ExitCode()}
	}
	return ExitStatus{Code: -1}
}

func signalGroup(pid int, sig syscall.Signal) {
	// Negative pid targets the whole process group created by Setsid
	// in sysProcAttr, reaping grandchildren the hosted agent spawned.
	_ = syscall.Kill(-pid, sig)
}

// ResolveShell picks the command to spawn: explicit command ->
// $SHELL -> platform default.
func ResolveShell(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// BuildEnv merges the process environment with overrides, with
// overrides taking precedence.
func BuildEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(overrides))
	for _, e := range base {
		key := e
		if idx := strings.IndexByte(e, '='); idx >= 0 {
			key = e[:idx]
		}
		if _, override := overrides[key]; !override {
			env = append(env, e)
		}
	}
	for k, v := range overrides {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
