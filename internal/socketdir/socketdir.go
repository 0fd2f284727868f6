// Package socketdir resolves the daemon's Unix domain socket path.
// fugue runs one daemon per state directory, so there is exactly one
// socket; overly long state dir paths fall back to a short /tmp
// symlink to stay under sockaddr_un limits.
package socketdir

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"fugue/internal/config"
)

// socketName is the daemon's fixed socket filename within the sockets dir.
const socketName = "fugued.sock"

// maxSocketPathLen is the conservative limit for Unix domain socket paths.
// macOS has sizeof(sockaddr_un.sun_path) = 104; the limit is checked
// against the full socket path (filename included), so 100 leaves a
// small margin below 104.
const maxSocketPathLen = 100

var (
	socketDir     string
	socketDirOnce sync.Once
)

// Dir returns the directory containing the daemon's socket, derived
// from the resolved fugue state dir. If the resulting path would be
// too long for a Unix domain socket, a symlink from /tmp/fugue-<hash>/
// is created and returned instead.
func Dir() string {
	socketDirOnce.Do(func() {
		socketDir = ResolveSocketDir(config.StateDir())
	})
	return socketDir
}

// ResetDirCache resets the cached Dir result. For testing only.
func ResetDirCache() {
	socketDirOnce = sync.Once{}
	socketDir = ""
}

// ResolveSocketDir returns the socket directory for a given fugue
// state dir, shortening it via a symlink if the resulting socket path
// would exceed sockaddr_un.sun_path's limit.
func ResolveSocketDir(stateDir string) string {
	realDir := filepath.Join(stateDir, "sockets")

	testPath := filepath.Join(realDir, socketName)
	if len(testPath) <= maxSocketPathLen {
		return realDir
	}

	hash := sha256.Sum256([]byte(realDir))
	shortDir := filepath.Join(os.TempDir(), fmt.Sprintf("fugue-%x", hash[:8]))

	if target, err := os.Readlink(shortDir); err == nil && target == realDir {
		return shortDir
	}

	os.MkdirAll(realDir, 0o755)

	os.Remove(shortDir)
	if err := os.Symlink(realDir, shortDir); err != nil {
		return realDir
	}
	return shortDir
}

// Path returns the full path to the daemon's socket file.
func Path() string {
	return filepath.Join(Dir(), socketName)
}

// PathIn returns the socket path for an explicit state dir, bypassing
// the process-wide resolve cache. Used by the daemon (which is handed
// its state dir) and by tests.
func PathIn(stateDir string) string {
	return filepath.Join(ResolveSocketDir(stateDir), socketName)
}
