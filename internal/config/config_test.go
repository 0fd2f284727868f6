package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"fugue/internal/version"
)

func TestLoadFrom_ValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `scrollback_lines:
  "": 5000
  watcher: 2000
input_lockout_seconds: 4
layout_lockout_seconds: 90
checkpoint_interval_seconds: 30
max_panes_per_session: 25
max_sideband_depth: 3
respawn_on_restore: false
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.ScrollbackCap("") != 5000 {
		t.Errorf("default scrollback cap = %d, want 5000", cfg.ScrollbackCap(""))
	}
	if cfg.ScrollbackCap("watcher") != 2000 {
		t.Errorf("watcher scrollback cap = %d, want 2000", cfg.ScrollbackCap("watcher"))
	}
	if cfg.InputLockoutSeconds != 4 {
		t.Errorf("input lockout = %v, want 4", cfg.InputLockoutSeconds)
	}
	if cfg.LayoutLockoutSeconds != 90 {
		t.Errorf("layout lockout = %v, want 90", cfg.LayoutLockoutSeconds)
	}
	if cfg.CheckpointIntervalSeconds != 30 {
		t.Errorf("checkpoint interval = %v, want 30", cfg.CheckpointIntervalSeconds)
	}
	if cfg.MaxPanesPerSession != 25 {
		t.Errorf("max panes = %d, want 25", cfg.MaxPanesPerSession)
	}
	if cfg.MaxSidebandDepth != 3 {
		t.Errorf("max sideband depth = %d, want 3", cfg.MaxSidebandDepth)
	}
	// An explicit false must override the built-in default of true.
	if cfg.RespawnOnRestore {
		t.Errorf("respawn_on_restore = true, want false")
	}
}

func TestLoadFrom_MissingFile(t *testing.T) {
	cfg, err := LoadFrom("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	want := Defaults()
	if cfg.InputLockoutSeconds != want.InputLockoutSeconds {
		t.Errorf("expected defaults for missing config file")
	}
}

func TestLoadFrom_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("{{invalid yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFrom(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadFrom_PartialOverlayKeepsOtherDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("input_lockout_seconds: 9\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.InputLockoutSeconds != 9 {
		t.Errorf("input lockout = %v, want 9", cfg.InputLockoutSeconds)
	}
	// Untouched fields still carry their built-in default.
	want := Defaults()
	if cfg.LayoutLockoutSeconds != want.LayoutLockoutSeconds {
		t.Errorf("layout lockout = %v, want default %v", cfg.LayoutLockoutSeconds, want.LayoutLockoutSeconds)
	}
	if cfg.MaxPanesPerSession != want.MaxPanesPerSession {
		t.Errorf("max panes = %d, want default %d", cfg.MaxPanesPerSession, want.MaxPanesPerSession)
	}
	if cfg.RespawnOnRestore != want.RespawnOnRestore {
		t.Errorf("respawn_on_restore = %v, want default %v when key absent", cfg.RespawnOnRestore, want.RespawnOnRestore)
	}
}

// --- Marker file tests ---

func TestIsFugueDir(t *testing.T) {
	dir := t.TempDir()

	if IsFugueDir(dir) {
		t.Error("expected false for dir without marker")
	}

	if err := WriteMarker(dir); err != nil {
		t.Fatalf("WriteMarker: %v", err)
	}

	if !IsFugueDir(dir) {
		t.Error("expected true for dir with marker")
	}
}

func TestReadMarkerVersion(t *testing.T) {
	dir := t.TempDir()

	if err := WriteMarker(dir); err != nil {
		t.Fatalf("WriteMarker: %v", err)
	}

	got, err := ReadMarkerVersion(dir)
	if err != nil {
		t.Fatalf("ReadMarkerVersion: %v", err)
	}
	want := "v" + version.Version
	if got != want {
		t.Errorf("ReadMarkerVersion = %q, want %q", got, want)
	}
}

func TestReadMarkerVersion_Missing(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadMarkerVersion(dir)
	if err == nil {
		t.Error("expected error for missing marker file")
	}
}

func TestWriteMarker(t *testing.T) {
	dir := t.TempDir()

	if err := WriteMarker(dir); err != nil {
		t.Fatalf("WriteMarker: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, ".fugue-dir.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := strings.TrimSpace(string(data))
	want := "v" + version.Version
	if content != want {
		t.Errorf("marker content = %q, want %q", content, want)
	}
}

func TestLooksLikeFugueDir(t *testing.T) {
	t.Run("with expected subdirs", func(t *testing.T) {
		dir := t.TempDir()
		for _, sub := range []string{"wal", "checkpoints", "sessions", "sockets"} {
			os.MkdirAll(filepath.Join(dir, sub), 0o755)
		}
		if !looksLikeFugueDir(dir) {
			t.Error("expected true for dir with wal/checkpoints/sessions/sockets")
		}
	})

	t.Run("missing subdirs", func(t *testing.T) {
		dir := t.TempDir()
		os.MkdirAll(filepath.Join(dir, "wal"), 0o755)
		if looksLikeFugueDir(dir) {
			t.Error("expected false for dir missing subdirs")
		}
	})

	t.Run("empty dir", func(t *testing.T) {
		dir := t.TempDir()
		if looksLikeFugueDir(dir) {
			t.Error("expected false for empty dir")
		}
	})
}

// --- ResolveDir tests ---

// setupFugueDir creates a temporary fugue state directory with a marker file.
func setupFugueDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := WriteMarker(dir); err != nil {
		t.Fatalf("WriteMarker: %v", err)
	}
	return dir
}

func TestResolveDir_FUGUEDIR_Valid(t *testing.T) {
	ResetResolveCache()
	defer ResetResolveCache()

	dir := setupFugueDir(t)
	t.Setenv("FUGUE_DIR", dir)

	got, err := ResolveDir()
	if err != nil {
		t.Fatalf("ResolveDir: %v", err)
	}
	if got != dir {
		t.Errorf("ResolveDir = %q, want %q", got, dir)
	}
}

func TestResolveDir_FUGUEDIR_Invalid(t *testing.T) {
	ResetResolveCache()
	defer ResetResolveCache()

	dir := t.TempDir() // no marker file
	t.Setenv("FUGUE_DIR", dir)

	_, err := ResolveDir()
	if err == nil {
		t.Fatal("expected error for FUGUE_DIR without marker")
	}
	if !strings.Contains(err.Error(), "not a fugue directory") {
		t.Errorf("error = %q, want it to contain 'not a fugue directory'", err.Error())
	}
}

func TestResolveDir_WalkUp(t *testing.T) {
	ResetResolveCache()
	defer ResetResolveCache()

	fugueDir := setupFugueDir(t)
	fugueDir, _ = filepath.EvalSymlinks(fugueDir)
	nested := filepath.Join(fugueDir, "some", "nested", "dir")
	os.MkdirAll(nested, 0o755)

	t.Setenv("FUGUE_DIR", "")

	origDir, _ := os.Getwd()
	os.Chdir(nested)
	defer os.Chdir(origDir)

	got, err := ResolveDir()
	if err != nil {
		t.Fatalf("ResolveDir: %v", err)
	}
	if got != fugueDir {
		t.Errorf("ResolveDir = %q, want %q", got, fugueDir)
	}
}

func TestResolveDir_FallbackHome(t *testing.T) {
	ResetResolveCache()
	defer ResetResolveCache()

	fakeHome := t.TempDir()
	fugueHome := filepath.Join(fakeHome, ".fugue")
	os.MkdirAll(fugueHome, 0o755)
	WriteMarker(fugueHome)

	t.Setenv("FUGUE_DIR", "")
	t.Setenv("HOME", fakeHome)

	isolated := t.TempDir()
	origDir, _ := os.Getwd()
	os.Chdir(isolated)
	defer os.Chdir(origDir)

	got, err := ResolveDir()
	if err != nil {
		t.Fatalf("ResolveDir: %v", err)
	}
	if got != fugueHome {
		t.Errorf("ResolveDir = %q, want %q", got, fugueHome)
	}
}

// --- ResolveDirAll tests ---

func TestResolveDirAll_FindsFugueDirInCWDPath(t *testing.T) {
	ResetResolveCache()
	defer ResetResolveCache()

	fugueDir := setupFugueDir(t)
	fugueDir, _ = filepath.EvalSymlinks(fugueDir)
	nested := filepath.Join(fugueDir, "subdir")
	os.MkdirAll(nested, 0o755)

	t.Setenv("FUGUE_DIR", "")
	t.Setenv("HOME", t.TempDir())

	origDir, _ := os.Getwd()
	os.Chdir(nested)
	defer os.Chdir(origDir)

	dirs := ResolveDirAll()
	found := false
	for _, d := range dirs {
		if d == fugueDir {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("ResolveDirAll() = %v, expected to contain %q", dirs, fugueDir)
	}
}

func TestResolveDirAll_FindsSiblingFugueDir(t *testing.T) {
	ResetResolveCache()
	defer ResetResolveCache()

	parent := t.TempDir()
	parent, _ = filepath.EvalSymlinks(parent)

	cwd := filepath.Join(parent, "myproject")
	os.MkdirAll(cwd, 0o755)

	siblingFugue := filepath.Join(parent, "sibling-fugue")
	os.MkdirAll(siblingFugue, 0o755)
	WriteMarker(siblingFugue)

	t.Setenv("FUGUE_DIR", "")
	t.Setenv("HOME", t.TempDir())

	origDir, _ := os.Getwd()
	os.Chdir(cwd)
	defer os.Chdir(origDir)

	dirs := ResolveDirAll()
	found := false
	for _, d := range dirs {
		if d == siblingFugue {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("ResolveDirAll() = %v, expected to contain sibling %q", dirs, siblingFugue)
	}
}

func TestResolveDirAll_FindsHomeFugue(t *testing.T) {
	ResetResolveCache()
	defer ResetResolveCache()

	fakeHome := t.TempDir()
	fakeHome, _ = filepath.EvalSymlinks(fakeHome)
	fugueHome := filepath.Join(fakeHome, ".fugue")
	os.MkdirAll(fugueHome, 0o755)
	WriteMarker(fugueHome)

	t.Setenv("FUGUE_DIR", "")
	t.Setenv("HOME", fakeHome)

	isolated := t.TempDir()
	origDir, _ := os.Getwd()
	os.Chdir(isolated)
	defer os.Chdir(origDir)

	dirs := ResolveDirAll()
	found := false
	for _, d := range dirs {
		if d == fugueHome {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("ResolveDirAll() = %v, expected to contain %q", dirs, fugueHome)
	}
}

func TestResolveDirAll_Deduplicates(t *testing.T) {
	ResetResolveCache()
	defer ResetResolveCache()

	fugueDir := setupFugueDir(t)
	fugueDir, _ = filepath.EvalSymlinks(fugueDir)

	t.Setenv("FUGUE_DIR", fugueDir)
	t.Setenv("HOME", t.TempDir())

	origDir, _ := os.Getwd()
	os.Chdir(fugueDir)
	defer os.Chdir(origDir)

	dirs := ResolveDirAll()
	count := 0
	for _, d := range dirs {
		if d == fugueDir {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected %q to appear exactly once, got %d times in %v", fugueDir, count, dirs)
	}
}

func TestResolveDirAll_SkipsInaccessible(t *testing.T) {
	ResetResolveCache()
	defer ResetResolveCache()

	t.Setenv("FUGUE_DIR", "/nonexistent/path/that/does/not/exist")
	t.Setenv("HOME", t.TempDir())

	isolated := t.TempDir()
	origDir, _ := os.Getwd()
	os.Chdir(isolated)
	defer os.Chdir(origDir)

	dirs := ResolveDirAll()
	for _, d := range dirs {
		if strings.Contains(d, "nonexistent") {
			t.Errorf("expected to skip inaccessible dir, got %q in %v", d, dirs)
		}
	}
}

func TestResolveDirAll_ResultsSorted(t *testing.T) {
	ResetResolveCache()
	defer ResetResolveCache()

	t.Setenv("FUGUE_DIR", "")
	t.Setenv("HOME", t.TempDir())

	isolated := t.TempDir()
	origDir, _ := os.Getwd()
	os.Chdir(isolated)
	defer os.Chdir(origDir)

	dirs := ResolveDirAll()
	if !sort.StringsAreSorted(dirs) {
		t.Errorf("expected sorted results, got %v", dirs)
	}
}

func TestResolveDir_MigrationAutoCreatesMarker(t *testing.T) {
	ResetResolveCache()
	defer ResetResolveCache()

	fakeHome := t.TempDir()
	fugueHome := filepath.Join(fakeHome, ".fugue")
	for _, sub := range []string{"wal", "checkpoints", "sessions", "sockets"} {
		os.MkdirAll(filepath.Join(fugueHome, sub), 0o755)
	}

	t.Setenv("FUGUE_DIR", "")
	t.Setenv("HOME", fakeHome)

	isolated := t.TempDir()
	origDir, _ := os.Getwd()
	os.Chdir(isolated)
	defer os.Chdir(origDir)

	got, err := ResolveDir()
	if err != nil {
		t.Fatalf("ResolveDir: %v", err)
	}
	if got != fugueHome {
		t.Errorf("ResolveDir = %q, want %q", got, fugueHome)
	}

	if !IsFugueDir(fugueHome) {
		t.Error("expected marker to be auto-created during migration")
	}
}
