package walog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"fugue/internal/fugueerr"
)

// Checkpoint is a point-in-time snapshot of the daemon's topology plus
// the WAL sequence it was taken at. Topology is opaque to this package
// (a json.RawMessage) so walog stays ignorant of sessions/windows/panes,
// matching the layering the rest of the daemon follows: the caller
// (daemon startup/checkpoint scheduler) is responsible for building the
// topology from the State Store and for applying it back on recovery.
type Checkpoint struct {
	ID           uint64          `json:"id"`
	WALFloor     uint64          `json:"wal_floor"`
	CreatedAt    time.Time       `json:"created_at"`
	SessionCount int             `json:"session_count"`
	Topology     json.RawMessage `json:"topology"`
}

const checkpointPrefix = "checkpoint-"
const currentPointerFile = "current"

func checkpointName(id uint64) string {
	return fmt.Sprintf("%s%08d", checkpointPrefix, id)
}

// NextCheckpointID scans dir for existing checkpoint files and returns
// one past the highest id found (0 if dir has none yet).
func NextCheckpointID(dir string) (uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fugueerr.Wrap(fugueerr.Internal, err, "read checkpoint dir")
	}
	var max uint64
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), checkpointPrefix) {
			continue
		}
		n := strings.TrimPrefix(e.Name(), checkpointPrefix)
		if v, err := strconv.ParseUint(n, 10, 64); err == nil && v+1 > max {
			max = v + 1
		}
	}
	return max, nil
}

// WriteCheckpoint durably writes ckpt to dir and atomically advances
// the "current" pointer to it. A "checkpoint completed" signal must
// only be emitted once the file backing it is fsynced and the pointer
// rename has landed, or replay would skip entries believing them
// checkpointed. Older checkpoints beyond
// keepOld are pruned after the new one is current, never before.
func WriteCheckpoint(dir string, ckpt Checkpoint, keepOld int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fugueerr.Wrap(fugueerr.Internal, err, "create checkpoint dir")
	}
	data, err := json.Marshal(ckpt)
	if err != nil {
		return fugueerr.Wrap(fugueerr.Internal, err, "marshal checkpoint")
	}

	name := checkpointName(ckpt.ID)
	path := filepath.Join(dir, name)
	if err := writeFileDurably(path, data); err != nil {
		return err
	}
	if err := writeFileDurably(filepath.Join(dir, currentPointerFile), []byte(name)); err != nil {
		return err
	}
	pruneCheckpoints(dir, name, keepOld)
	return nil
}

// writeFileDurably writes data to a temp file in the same directory,
// fsyncs it, and renames it into place, so a crash mid-write never
// leaves a torn file at the final path.
func writeFileDurably(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fugueerr.Wrap(fugueerr.Internal, err, "create temp file %s", tmp)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fugueerr.Wrap(fugueerr.Internal, err, "write temp file %s", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fugueerr.Wrap(fugueerr.Internal, err, "fsync temp file %s", tmp)
	}
	if err := f.Close(); err != nil {
		return fugueerr.Wrap(fugueerr.Internal, err, "close temp file %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fugueerr.Wrap(fugueerr.Internal, err, "rename %s into place", tmp)
	}
	return nil
}

// pruneCheckpoints removes checkpoint files other than keep's newest
// keepOld entries and the one just made current. Best-effort: a failed
// removal is not fatal, it just leaves an extra file on disk.
func pruneCheckpoints(dir, currentName string, keepOld int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), checkpointPrefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	keep := keepOld + 1 // +1 for currentName itself
	if len(names) <= keep {
		return
	}
	for _, n := range names[:len(names)-keep] {
		if n == currentName {
			continue
		}
		os.Remove(filepath.Join(dir, n))
	}
}

// LoadLatestCheckpoint reads the checkpoint the "current" pointer names.
// Returns (nil, nil) if no checkpoint has ever been written.
func LoadLatestCheckpoint(dir string) (*Checkpoint, error) {
	pointerPath := filepath.Join(dir, currentPointerFile)
	data, err := os.ReadFile(pointerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fugueerr.Wrap(fugueerr.Internal, err, "read checkpoint pointer")
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return nil, nil
	}
	cdata, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fugueerr.Wrap(fugueerr.Internal, err, "read checkpoint %s", name)
	}
	var ckpt Checkpoint
	if err := json.Unmarshal(cdata, &ckpt); err != nil {
		return nil, fugueerr.Wrap(fugueerr.Internal, err, "parse checkpoint %s", name)
	}
	return &ckpt, nil
}
