package socketdir

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPath(t *testing.T) {
	got := Path()
	want := filepath.Join(Dir(), "fugued.sock")
	if got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

func TestResolveSocketDir_ShortPath(t *testing.T) {
	// For a short state dir path, ResolveSocketDir returns <stateDir>/sockets/.
	stateDir := filepath.Join(os.TempDir(), "fuguet")
	os.MkdirAll(stateDir, 0o755)
	defer os.RemoveAll(stateDir)

	got := ResolveSocketDir(stateDir)
	want := filepath.Join(stateDir, "sockets")
	if got != want {
		t.Errorf("ResolveSocketDir(%q) = %q, want %q", stateDir, got, want)
	}
}

func TestResolveSocketDir_LongPath(t *testing.T) {
	// For an extremely long path, ResolveSocketDir should return a short symlink path.
	base := t.TempDir()
	longPart := strings.Repeat("a", 80)
	longDir := filepath.Join(base, longPart)
	os.MkdirAll(longDir, 0o755)

	got := ResolveSocketDir(longDir)

	if strings.HasPrefix(got, longDir) {
		testPath := filepath.Join(longDir, "sockets", socketName)
		if len(testPath) > maxSocketPathLen {
			t.Errorf("ResolveSocketDir returned long path %q, expected symlink", got)
		}
	}

	if strings.Contains(got, "fugue-") {
		target, err := os.Readlink(got)
		if err != nil {
			t.Fatalf("Readlink(%q): %v", got, err)
		}
		wantTarget := filepath.Join(longDir, "sockets")
		if target != wantTarget {
			t.Errorf("symlink target = %q, want %q", target, wantTarget)
		}
	}
}

func TestResolveSocketDir_SymlinkCreation(t *testing.T) {
	realDir := t.TempDir()
	symlinkDir := filepath.Join(t.TempDir(), "symlink-target")

	if err := os.Symlink(realDir, symlinkDir); err != nil {
		t.Fatalf("create test symlink: %v", err)
	}

	target, err := os.Readlink(symlinkDir)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != realDir {
		t.Errorf("symlink target = %q, want %q", target, realDir)
	}
}

func TestDir_CachesResult(t *testing.T) {
	ResetDirCache()
	defer ResetDirCache()

	first := Dir()
	second := Dir()
	if first != second {
		t.Errorf("Dir() not cached: %q vs %q", first, second)
	}
}
