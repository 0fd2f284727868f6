package activitylog

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSessionCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(true, path, "test-agent", "sess-123")
	defer l.Close()

	l.SessionCreated("sess-456", "my-session", "/repo/worktree")

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}

	var e struct {
		Actor     string `json:"actor"`
		SessionID string `json:"session_id"`
		Event     string `json:"event"`
		Name      string `json:"name"`
		Worktree  string `json:"worktree"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Actor != "test-agent" {
		t.Errorf("actor = %q, want %q", e.Actor, "test-agent")
	}
	if e.SessionID != "sess-456" {
		t.Errorf("session_id = %q, want %q", e.SessionID, "sess-456")
	}
	if e.Event != "session_created" {
		t.Errorf("event = %q, want %q", e.Event, "session_created")
	}
	if e.Name != "my-session" {
		t.Errorf("name = %q, want %q", e.Name, "my-session")
	}
	if e.Worktree != "/repo/worktree" {
		t.Errorf("worktree = %q, want %q", e.Worktree, "/repo/worktree")
	}
}

func TestSessionCreated_OmitsEmptyWorktree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(true, path, "agent", "sess")
	defer l.Close()

	l.SessionCreated("sess", "name", "")

	lines := readLines(t, path)
	if strings.Contains(lines[0], "worktree") {
		t.Error("expected worktree to be omitted when empty")
	}
}

func TestSessionKilled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(true, path, "agent", "sess")
	defer l.Close()

	l.SessionKilled("sess", "idle timeout")

	lines := readLines(t, path)
	var e struct {
		Event  string `json:"event"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Event != "session_killed" {
		t.Errorf("event = %q, want %q", e.Event, "session_killed")
	}
	if e.Reason != "idle timeout" {
		t.Errorf("reason = %q, want %q", e.Reason, "idle timeout")
	}
}

func TestPaneSpawned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(true, path, "agent", "sess")
	defer l.Close()

	l.PaneSpawned("sess", "pane-1", "claude")

	lines := readLines(t, path)
	var e struct {
		Event   string `json:"event"`
		PaneID  string `json:"pane_id"`
		Command string `json:"command"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Event != "pane_spawned" {
		t.Errorf("event = %q, want %q", e.Event, "pane_spawned")
	}
	if e.PaneID != "pane-1" {
		t.Errorf("pane_id = %q, want %q", e.PaneID, "pane-1")
	}
	if e.Command != "claude" {
		t.Errorf("command = %q, want %q", e.Command, "claude")
	}
}

func TestPaneExited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(true, path, "agent", "sess")
	defer l.Close()

	l.PaneExited("sess", "pane-1", 1, true)

	lines := readLines(t, path)
	var e struct {
		Event    string `json:"event"`
		PaneID   string `json:"pane_id"`
		ExitCode int    `json:"exit_code"`
		Signaled bool   `json:"signaled"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Event != "pane_exited" {
		t.Errorf("event = %q, want %q", e.Event, "pane_exited")
	}
	if e.ExitCode != 1 || !e.Signaled {
		t.Errorf("exit_code/signaled = %d/%v, want 1/true", e.ExitCode, e.Signaled)
	}
}

func TestArbitrationDenied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(true, path, "agent", "sess")
	defer l.Close()

	l.ArbitrationDenied("sess", "pane-1", "send_input", 2*time.Second)

	lines := readLines(t, path)
	var e struct {
		Event           string `json:"event"`
		Resource        string `json:"resource"`
		Action          string `json:"action"`
		RetryAfterMilli int64  `json:"retry_after_ms"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Event != "arbitration_denied" {
		t.Errorf("event = %q, want %q", e.Event, "arbitration_denied")
	}
	if e.Resource != "pane-1" || e.Action != "send_input" {
		t.Errorf("resource/action = %q/%q", e.Resource, e.Action)
	}
	if e.RetryAfterMilli != 2000 {
		t.Errorf("retry_after_ms = %d, want 2000", e.RetryAfterMilli)
	}
}

func TestCheckpointWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(true, path, "agent", "sess")
	defer l.Close()

	l.CheckpointWritten("ckpt-7", 1024, 3)

	lines := readLines(t, path)
	var e struct {
		Event        string `json:"event"`
		CheckpointID string `json:"checkpoint_id"`
		WALFloor     uint64 `json:"wal_floor"`
		SessionCount int    `json:"session_count"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Event != "checkpoint_written" || e.CheckpointID != "ckpt-7" || e.WALFloor != 1024 || e.SessionCount != 3 {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestWALError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(true, path, "agent", "sess")
	defer l.Close()

	l.WALError("append", errors.New("disk full"))

	lines := readLines(t, path)
	var e struct {
		Event string `json:"event"`
		Op    string `json:"op"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Event != "wal_error" || e.Op != "append" || e.Error != "disk full" {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestStateChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(true, path, "agent", "sess")
	defer l.Close()

	l.StateChange("working", "idle")

	lines := readLines(t, path)
	var e struct {
		Event string `json:"event"`
		From  string `json:"from"`
		To    string `json:"to"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.From != "working" || e.To != "idle" {
		t.Errorf("from/to = %q/%q, want working/idle", e.From, e.To)
	}
}

func TestDisabledLoggerIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(false, path, "agent", "sess")
	defer l.Close()

	l.SessionCreated("sess", "name", "")
	l.PaneSpawned("sess", "pane-1", "claude")
	l.PaneExited("sess", "pane-1", 0, false)
	l.ArbitrationDenied("sess", "pane-1", "send_input", time.Second)
	l.CheckpointWritten("ckpt", 0, 0)
	l.StateChange("working", "idle")

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected no file to be created when disabled")
	}
}

func TestNopLoggerIsNoop(t *testing.T) {
	l := Nop()
	// Should not panic.
	l.SessionCreated("sess", "name", "")
	l.PaneSpawned("sess", "pane-1", "claude")
	l.PaneExited("sess", "pane-1", 0, false)
	l.ArbitrationDenied("sess", "pane-1", "send_input", time.Second)
	l.CheckpointWritten("ckpt", 0, 0)
	l.WALError("append", errors.New("boom"))
	l.StateChange("working", "idle")
	l.Close()
}

func TestMultipleEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(true, path, "agent", "sess")
	defer l.Close()

	l.SessionCreated("sess", "name", "")
	l.PaneSpawned("sess", "pane-1", "claude")
	l.StateChange("working", "idle")

	lines := readLines(t, path)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
}

func TestTimestampPresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := New(true, path, "agent", "sess")
	defer l.Close()

	l.PaneSpawned("sess", "pane-1", "claude")

	lines := readLines(t, path)
	var e struct {
		Timestamp string `json:"ts"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Timestamp == "" {
		t.Error("expected ts field to be present")
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "\n")
}
