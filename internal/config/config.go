// Package config resolves fugue's state directory and loads the
// daemon's on-disk config file: scrollback caps, arbitration lockout
// windows, checkpoint interval, and the other daemon tunables.
// Directory resolution walks FUGUE_DIR, then up from the cwd looking
// for a marker file, then ~/.fugue.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"fugue/internal/version"
)

const markerFile = ".fugue-dir.txt"

// Config is the daemon's on-disk config file, <state-dir>/config.yaml.
// Every field has a zero value that Defaults() replaces with a sane
// daemon default, so an absent or empty config.yaml is valid.
type Config struct {
	// ScrollbackLines is the default per-pane scrollback capacity for
	// newly-created panes, keyed by session type ("" applies to every
	// type not otherwise listed).
	ScrollbackLines map[string]int `yaml:"scrollback_lines,omitempty"`

	// InputLockoutSeconds and LayoutLockoutSeconds are the Arbitrator's
	// human-activity lockout windows.
	InputLockoutSeconds  float64 `yaml:"input_lockout_seconds,omitempty"`
	LayoutLockoutSeconds float64 `yaml:"layout_lockout_seconds,omitempty"`

	// CheckpointIntervalSeconds is how often the daemon snapshots
	// topology + scrollback tails to disk.
	CheckpointIntervalSeconds float64 `yaml:"checkpoint_interval_seconds,omitempty"`

	// MaxPanesPerSession and MaxSidebandDepth bound the sideband spawn
	// directive.
	MaxPanesPerSession int `yaml:"max_panes_per_session,omitempty"`
	MaxSidebandDepth   int `yaml:"max_sideband_depth,omitempty"`

	// RespawnOnRestore controls whether recovered panes re-spawn their
	// recorded command automatically or come back inactive pending a
	// user command.
	RespawnOnRestore bool `yaml:"respawn_on_restore"`

	// NetworkListen, when non-empty, additionally binds a loopback TCP
	// listener. Non-loopback addresses are refused at startup.
	NetworkListen string `yaml:"network_listen,omitempty"`
}

// fileConfig mirrors Config for YAML parsing. RespawnOnRestore is a
// pointer so merge can tell an absent key (keep the default) from an
// explicit "respawn_on_restore: false".
type fileConfig struct {
	ScrollbackLines           map[string]int `yaml:"scrollback_lines"`
	InputLockoutSeconds       float64        `yaml:"input_lockout_seconds"`
	LayoutLockoutSeconds      float64        `yaml:"layout_lockout_seconds"`
	CheckpointIntervalSeconds float64        `yaml:"checkpoint_interval_seconds"`
	MaxPanesPerSession        int            `yaml:"max_panes_per_session"`
	MaxSidebandDepth          int            `yaml:"max_sideband_depth"`
	RespawnOnRestore          *bool          `yaml:"respawn_on_restore"`
	NetworkListen             string         `yaml:"network_listen"`
}

// Defaults returns the daemon's built-in tunables, overridden by
// whatever LoadFrom actually found on disk.
func Defaults() *Config {
	return &Config{
		ScrollbackLines:           map[string]int{"": 10000},
		InputLockoutSeconds:       3,
		LayoutLockoutSeconds:      120,
		CheckpointIntervalSeconds: 45,
		MaxPanesPerSession:        50,
		MaxSidebandDepth:          5,
		RespawnOnRestore:          true,
	}
}

// merge overlays the fields o actually set onto c.
func (c *Config) merge(o *fileConfig) {
	for k, v := range o.ScrollbackLines {
		c.ScrollbackLines[k] = v
	}
	if o.InputLockoutSeconds != 0 {
		c.InputLockoutSeconds = o.InputLockoutSeconds
	}
	if o.LayoutLockoutSeconds != 0 {
		c.LayoutLockoutSeconds = o.LayoutLockoutSeconds
	}
	if o.CheckpointIntervalSeconds != 0 {
		c.CheckpointIntervalSeconds = o.CheckpointIntervalSeconds
	}
	if o.MaxPanesPerSession != 0 {
		c.MaxPanesPerSession = o.MaxPanesPerSession
	}
	if o.MaxSidebandDepth != 0 {
		c.MaxSidebandDepth = o.MaxSidebandDepth
	}
	if o.NetworkListen != "" {
		c.NetworkListen = o.NetworkListen
	}
	if o.RespawnOnRestore != nil {
		c.RespawnOnRestore = *o.RespawnOnRestore
	}
}

// ScrollbackCap returns the configured scrollback capacity for a
// session type, falling back to the "" default entry.
func (c *Config) ScrollbackCap(sessionType string) int {
	if n, ok := c.ScrollbackLines[sessionType]; ok {
		return n
	}
	return c.ScrollbackLines[""]
}

// IsFugueDir checks if dir contains a valid .fugue-dir.txt marker file.
func IsFugueDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, markerFile))
	return err == nil && !info.IsDir()
}

// ReadMarkerVersion reads the version string from .fugue-dir.txt.
func ReadMarkerVersion(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, markerFile))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteMarker writes .fugue-dir.txt with the current version.
func WriteMarker(dir string) error {
	return os.WriteFile(filepath.Join(dir, markerFile), []byte("v"+version.Version+"\n"), 0o644)
}

// looksLikeFugueDir returns true if dir exists and contains the
// expected fugue state subdirectories, even without a marker file. Used
// for one-time migration of a pre-marker ~/.fugue/.
func looksLikeFugueDir(dir string) bool {
	for _, sub := range []string{"wal", "checkpoints", "sessions", "sockets"} {
		if _, err := os.Stat(filepath.Join(dir, sub)); err != nil {
			return false
		}
	}
	return true
}

var (
	resolvedDir string
	resolvedErr error
	resolveOnce sync.Once
)

// ResolveDir finds the fugue state directory.
// Order: FUGUE_DIR env var -> walk up CWD -> ~/.fugue/ fallback.
// Result is cached for the process lifetime.
func ResolveDir() (string, error) {
	resolveOnce.Do(func() {
		resolvedDir, resolvedErr = resolveDir()
	})
	return resolvedDir, resolvedErr
}

// ResetResolveCache resets the cached ResolveDir result. For testing only.
func ResetResolveCache() {
	resolveOnce = sync.Once{}
	resolvedDir = ""
	resolvedErr = nil
}

func resolveDir() (string, error) {
	if dir := os.Getenv("FUGUE_DIR"); dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", fmt.Errorf("FUGUE_DIR: %w", err)
		}
		if !IsFugueDir(abs) {
			return "", fmt.Errorf("FUGUE_DIR=%s is not a fugue directory (missing %s)", abs, markerFile)
		}
		return abs, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	dir := cwd
	for {
		if IsFugueDir(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	global := filepath.Join(home, ".fugue")
	if IsFugueDir(global) {
		return global, nil
	}
	if looksLikeFugueDir(global) {
		if err := WriteMarker(global); err != nil {
			return "", fmt.Errorf("migrate %s: %w", global, err)
		}
		return global, nil
	}

	return "", fmt.Errorf("no fugue directory found; run 'fuguectl init' to create one")
}

// StateDir returns the resolved fugue state dir, falling back to
// ~/.fugue/ so callers that run before the directory is initialized
// (e.g. `fuguectl init` itself) still get a usable path.
func StateDir() string {
	dir, err := ResolveDir()
	if err != nil {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return filepath.Join(".", ".fugue")
		}
		return filepath.Join(home, ".fugue")
	}
	return dir
}

// ResolveDirAll discovers every fugue state directory on the system,
// deduplicated and sorted. Best-effort: silently skips inaccessible
// directories.
func ResolveDirAll() []string {
	seen := make(map[string]bool)
	var dirs []string

	add := func(dir string) {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return
		}
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			abs = real
		}
		if !seen[abs] {
			seen[abs] = true
			dirs = append(dirs, abs)
		}
	}

	if dir := os.Getenv("FUGUE_DIR"); dir != "" && IsFugueDir(dir) {
		add(dir)
	}

	if cwd, err := os.Getwd(); err == nil {
		dir := cwd
		for {
			if IsFugueDir(dir) {
				add(dir)
			}
			parent := filepath.Dir(dir)
			if entries, err := os.ReadDir(parent); err == nil {
				for _, e := range entries {
					if !e.IsDir() {
						continue
					}
					sibling := filepath.Join(parent, e.Name())
					if IsFugueDir(sibling) {
						add(sibling)
					}
				}
			}
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		global := filepath.Join(home, ".fugue")
		if IsFugueDir(global) || looksLikeFugueDir(global) {
			add(global)
		}
	}

	sort.Strings(dirs)
	return dirs
}

// Load reads the daemon config from <state-dir>/config.yaml, overlaid
// onto Defaults().
func Load() (*Config, error) {
	return LoadFrom(filepath.Join(StateDir(), "config.yaml"))
}

// LoadFrom reads a config file from an explicit path. A missing file
// yields Defaults() with no error.
func LoadFrom(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	var onDisk fileConfig
	if err := yaml.Unmarshal(data, &onDisk); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.merge(&onDisk)
	return cfg, nil
}
