package walog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAndLoadCheckpoint(t *testing.T) {
	dir := t.TempDir()

	topo, _ := json.Marshal(map[string]string{"hello": "world"})
	ckpt := Checkpoint{ID: 0, WALFloor: 42, SessionCount: 3, Topology: topo}

	if err := WriteCheckpoint(dir, ckpt, 2); err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}

	got, err := LoadLatestCheckpoint(dir)
	if err != nil {
		t.Fatalf("LoadLatestCheckpoint: %v", err)
	}
	if got == nil {
		t.Fatal("expected a checkpoint, got nil")
	}
	if got.WALFloor != 42 || got.SessionCount != 3 {
		t.Errorf("got %+v", got)
	}
	var m map[string]string
	if err := json.Unmarshal(got.Topology, &m); err != nil {
		t.Fatalf("unmarshal topology: %v", err)
	}
	if m["hello"] != "world" {
		t.Errorf("topology = %v", m)
	}
}

func TestLoadLatestCheckpoint_NoneWritten(t *testing.T) {
	dir := t.TempDir()
	ckpt, err := LoadLatestCheckpoint(dir)
	if err != nil {
		t.Fatalf("LoadLatestCheckpoint: %v", err)
	}
	if ckpt != nil {
		t.Errorf("expected nil checkpoint, got %+v", ckpt)
	}
}

func TestWriteCheckpoint_AdvancesCurrentPointer(t *testing.T) {
	dir := t.TempDir()

	for id := uint64(0); id < 3; id++ {
		ckpt := Checkpoint{ID: id, WALFloor: id * 10}
		if err := WriteCheckpoint(dir, ckpt, 10); err != nil {
			t.Fatalf("WriteCheckpoint(%d): %v", id, err)
		}
	}

	got, err := LoadLatestCheckpoint(dir)
	if err != nil {
		t.Fatalf("LoadLatestCheckpoint: %v", err)
	}
	if got.ID != 2 || got.WALFloor != 20 {
		t.Errorf("got %+v, want id=2 floor=20", got)
	}
}

func TestNextCheckpointID(t *testing.T) {
	dir := t.TempDir()

	id, err := NextCheckpointID(dir)
	if err != nil {
		t.Fatalf("NextCheckpointID: %v", err)
	}
	if id != 0 {
		t.Errorf("NextCheckpointID on empty dir = %d, want 0", id)
	}

	if err := WriteCheckpoint(dir, Checkpoint{ID: 0}, 10); err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}
	if err := WriteCheckpoint(dir, Checkpoint{ID: 1}, 10); err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}

	id, err = NextCheckpointID(dir)
	if err != nil {
		t.Fatalf("NextCheckpointID: %v", err)
	}
	if id != 2 {
		t.Errorf("NextCheckpointID = %d, want 2", id)
	}
}

func TestWriteCheckpoint_PrunesOldEntries(t *testing.T) {
	dir := t.TempDir()

	for id := uint64(0); id < 5; id++ {
		if err := WriteCheckpoint(dir, Checkpoint{ID: id}, 1); err != nil {
			t.Fatalf("WriteCheckpoint(%d): %v", id, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var checkpointFiles int
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".tmp" && e.Name() != currentPointerFile {
			checkpointFiles++
		}
	}
	// keepOld=1 means current + 1 prior = 2 retained checkpoint files.
	if checkpointFiles != 2 {
		t.Errorf("expected 2 checkpoint files retained, got %d", checkpointFiles)
	}
}
