// Package git provides the small amount of git plumbing fugue needs:
// resolving and validating a session's worktree path. fugue does not
// create worktrees itself - Session.Worktree is just an optional
// routing-target attribute pointing at a path the operator already
// checked out.
package git

import (
	"fmt"
	"os/exec"
	"path/filepath"
)

// ResolveWorktreePath validates that path is a git working tree (a
// repo checkout or a linked worktree) and returns its absolute form.
// fugue uses this to validate Session.Worktree when it's set, not to
// create worktrees.
func ResolveWorktreePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve worktree path: %w", err)
	}
	if !isGitRepo(abs) {
		return "", fmt.Errorf("worktree path %q is not a git repository", abs)
	}
	return abs, nil
}

// isGitRepo returns true if the directory is a git repository or worktree.
func isGitRepo(dir string) bool {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = dir
	return cmd.Run() == nil
}
