package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// initGitRepo creates a minimal git repo with one commit in dir.
func initGitRepo(t *testing.T, dir string) {
	t.Helper()
	run(t, dir, "git", "init")
	run(t, dir, "git", "config", "user.email", "test@test.com")
	run(t, dir, "git", "config", "user.name", "Test")
	os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644)
	run(t, dir, "git", "add", ".")
	run(t, dir, "git", "commit", "-m", "initial")
}

func run(t *testing.T, dir, name string, args ...string) {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("%s %s failed: %s: %v", name, strings.Join(args, " "), out, err)
	}
}

func TestResolveWorktreePath_ValidRepo(t *testing.T) {
	repoDir := filepath.Join(t.TempDir(), "repo")
	os.MkdirAll(repoDir, 0o755)
	initGitRepo(t, repoDir)

	got, err := ResolveWorktreePath(repoDir)
	if err != nil {
		t.Fatalf("ResolveWorktreePath: %v", err)
	}
	want, _ := filepath.Abs(repoDir)
	if got != want {
		t.Errorf("ResolveWorktreePath = %q, want %q", got, want)
	}
}

func TestResolveWorktreePath_RelativePath(t *testing.T) {
	repoDir := filepath.Join(t.TempDir(), "repo")
	os.MkdirAll(repoDir, 0o755)
	initGitRepo(t, repoDir)

	origDir, _ := os.Getwd()
	os.Chdir(filepath.Dir(repoDir))
	defer os.Chdir(origDir)

	got, err := ResolveWorktreePath("repo")
	if err != nil {
		t.Fatalf("ResolveWorktreePath: %v", err)
	}
	want, _ := filepath.Abs(repoDir)
	if got != want {
		t.Errorf("ResolveWorktreePath = %q, want %q", got, want)
	}
}

func TestResolveWorktreePath_NonGitDir(t *testing.T) {
	notGitDir := t.TempDir()

	_, err := ResolveWorktreePath(notGitDir)
	if err == nil {
		t.Fatal("expected error for non-git directory")
	}
	if !strings.Contains(err.Error(), "not a git repository") {
		t.Errorf("error = %q, want it to contain 'not a git repository'", err.Error())
	}
}

func TestResolveWorktreePath_LinkedWorktree(t *testing.T) {
	repoDir := filepath.Join(t.TempDir(), "repo")
	os.MkdirAll(repoDir, 0o755)
	initGitRepo(t, repoDir)

	worktreePath := filepath.Join(t.TempDir(), "linked-worktree")
	run(t, repoDir, "git", "worktree", "add", "-b", "feature", worktreePath)

	got, err := ResolveWorktreePath(worktreePath)
	if err != nil {
		t.Fatalf("ResolveWorktreePath: %v", err)
	}
	want, _ := filepath.Abs(worktreePath)
	if got != want {
		t.Errorf("ResolveWorktreePath = %q, want %q", got, want)
	}
}
