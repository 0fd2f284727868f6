package pane

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"fugue/internal/fugueerr"
	"fugue/internal/fugueid"
)

func newTestTerminalPane(t *testing.T, command string, args []string) *Pane {
	t.Helper()
	var transitions []State
	p, err := NewTerminal(Options{
		WindowID:       fugueid.New(),
		SessionID:      fugueid.New(),
		Title:          "test",
		CWD:            t.TempDir(),
		Command:        &CommandSpec{Command: command, Args: args},
		Rows:           24,
		Cols:           80,
		ScrollbackCap:  500,
		ClassifierKind: "generic",
		OnStateChange: func(from, to State) {
			transitions = append(transitions, to)
		},
	}, os.Environ())
	if err != nil {
		t.Fatalf("NewTerminal() error = %v", err)
	}
	t.Cleanup(func() {
		p.Kill(50 * time.Millisecond)
	})
	return p
}

func TestNewTerminal_RejectsNonPositiveDimensions(t *testing.T) {
	_, err := NewTerminal(Options{
		Command: &CommandSpec{Command: "/bin/sh"},
		Rows:    0,
		Cols:    80,
	}, os.Environ())
	if !fugueerr.Is(err, fugueerr.InvalidArgument) {
		t.Fatalf("err = %v, want InvalidArgument", err)
	}
}

func TestTerminalPane_StartsSpawningThenRuns(t *testing.T) {
	p := newTestTerminalPane(t, "/bin/sh", nil)
	if p.State() != Spawning {
		t.Fatalf("State() = %v, want Spawning", p.State())
	}
	p.MarkRunning()
	if p.State() != Running {
		t.Fatalf("State() = %v, want Running", p.State())
	}
	// Idempotent: a second MarkRunning leaves the pane Running.
	p.MarkRunning()
	if p.State() != Running {
		t.Fatalf("State() = %v, want Running after second MarkRunning", p.State())
	}
}

func TestTerminalPane_WriteInputRoundTrip(t *testing.T) {
	p := newTestTerminalPane(t, "/bin/cat", nil)
	p.MarkRunning()

	if err := p.WriteInput([]byte("hello\n"), time.Second); err != nil {
		t.Fatalf("WriteInput() error = %v", err)
	}

	buf := make([]byte, 256)
	n, err := p.PTY().Read(context.Background(), buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if n == 0 {
		t.Fatal("expected cat to echo input back")
	}
}

func TestTerminalPane_WriteInputFailsAfterExit(t *testing.T) {
	p := newTestTerminalPane(t, "/bin/sh", []string{"-c", "exit 0"})
	status := p.PTY().Wait()
	p.MarkExited(status)

	if p.State() != Exited {
		t.Fatalf("State() = %v, want Exited", p.State())
	}
	err := p.WriteInput([]byte("x"), 100*time.Millisecond)
	if !fugueerr.Is(err, fugueerr.PaneExited) {
		t.Fatalf("err = %v, want PaneExited", err)
	}
}

func TestTerminalPane_ResizeRejectsNonPositive(t *testing.T) {
	p := newTestTerminalPane(t, "/bin/sh", nil)
	if err := p.Resize(0, 10); !fugueerr.Is(err, fugueerr.InvalidArgument) {
		t.Fatalf("Resize() err = %v, want InvalidArgument", err)
	}
	if err := p.Resize(30, 100); err != nil {
		t.Fatalf("Resize() error = %v", err)
	}
	rows, cols := p.Dimensions()
	if rows != 30 || cols != 100 {
		t.Fatalf("Dimensions() = (%d,%d), want (30,100)", rows, cols)
	}
}

func TestTerminalPane_TagsMetadataEnvRoundTrip(t *testing.T) {
	p := newTestTerminalPane(t, "/bin/sh", nil)

	p.TagsAdd("issue-42")
	p.TagsAdd("urgent")
	if !p.HasTag("issue-42") {
		t.Fatal("expected issue-42 tag present")
	}
	p.TagsRemove("urgent")
	if p.HasTag("urgent") {
		t.Fatal("expected urgent tag removed")
	}
	tags := p.TagsList()
	if len(tags) != 1 || tags[0] != "issue-42" {
		t.Fatalf("TagsList() = %v", tags)
	}

	p.MetadataSet("branch", "feature/x")
	if v, ok := p.MetadataGet("branch"); !ok || v != "feature/x" {
		t.Fatalf("MetadataGet() = (%q, %v)", v, ok)
	}

	p.EnvSet("FOO", "bar")
	if v, ok := p.EnvGet("FOO"); !ok || v != "bar" {
		t.Fatalf("EnvGet() = (%q, %v)", v, ok)
	}
}

func TestTerminalPane_WorkflowHistoryBounded(t *testing.T) {
	p := newTestTerminalPane(t, "/bin/sh", nil)
	for i := 0; i < defaultWorkflowHistory+5; i++ {
		p.SetWorkflowIssue(strconv.Itoa(i))
	}
	ws := p.WorkflowState()
	if len(ws.History) != defaultWorkflowHistory {
		t.Fatalf("len(History) = %d, want %d", len(ws.History), defaultWorkflowHistory)
	}
}

func TestCanvasPane_StartsRunningAndRoutesInput(t *testing.T) {
	var received []byte
	p := NewCanvas(Options{
		WindowID: fugueid.New(),
		Title:    "diff-view",
		Rows:     24,
		Cols:     80,
	}, "diff", []byte(`{"path":"a.go"}`))

	if p.State() != Running {
		t.Fatalf("State() = %v, want Running", p.State())
	}
	p.Widget().InputHandler = func(input []byte) error {
		received = input
		return nil
	}
	if err := p.WriteInput([]byte("scroll-down"), time.Second); err != nil {
		t.Fatalf("WriteInput() error = %v", err)
	}
	if string(received) != "scroll-down" {
		t.Fatalf("received = %q", received)
	}
	if err := p.Resize(40, 120); err != nil {
		t.Fatalf("Resize() on canvas pane error = %v", err)
	}
}
