// Package worktree isolates sessions on git worktrees so parallel
// sessions against one repository never stomp each other's checkout.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrNotGitRepo       = errors.New("worktree: not a git repository")
	ErrGitCommandFailed = errors.New("worktree: git command failed")
)

// Manager creates and removes worktrees under a common root.
type Manager struct {
	root string

	repoLockMu sync.Mutex
	repoLocks  map[string]*sync.Mutex
}

// NewManager ensures the worktree root exists.
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("worktree: create root %s: %w", root, err)
	}
	return &Manager{
		root:      root,
		repoLocks: make(map[string]*sync.Mutex),
	}, nil
}

// repoLock serializes worktree mutations per repository. git locks its
// own metadata but concurrent adds still race on branch creation.
func (m *Manager) repoLock(repoPath string) *sync.Mutex {
	m.repoLockMu.Lock()
	defer m.repoLockMu.Unlock()
	lock, ok := m.repoLocks[repoPath]
	if !ok {
		lock = &sync.Mutex{}
		m.repoLocks[repoPath] = lock
	}
	return lock
}

// IsGitRepo reports whether path is inside a git checkout. A .git file
// (not directory) means path is itself a worktree, which also counts.
func IsGitRepo(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	if err != nil {
		return false
	}
	return info.IsDir() || info.Mode().IsRegular()
}

// CurrentBranch returns the checked-out branch of a repository.
func CurrentBranch(ctx context.Context, repoPath string) (string, error) {
	out, err := git(ctx, repoPath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// RecentBranches lists local branches by last commit date, newest
// first, for branch-name suggestion prompts.
func RecentBranches(ctx context.Context, repoPath string, limit int) ([]string, error) {
	out, err := git(ctx, repoPath, "for-each-ref",
		"--sort=-committerdate",
		"--format=%(refname:short)",
		"refs/heads/")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		branches = append(branches, line)
		if limit > 0 && len(branches) >= limit {
			break
		}
	}
	return branches, nil
}

// Entry is one checkout of a repository.
type Entry struct {
	Path   string
	Branch string // empty when detached
}

// List reports the repository's worktrees, the main checkout first,
// from `git worktree list --porcelain`.
func List(ctx context.Context, repoPath string) ([]Entry, error) {
	if !IsGitRepo(repoPath) {
		return nil, ErrNotGitRepo
	}
	out, err := git(ctx, repoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGitCommandFailed, strings.TrimSpace(out))
	}
	return parseWorktreeList(out), nil
}

func parseWorktreeList(out string) []Entry {
	var entries []Entry
	var cur *Entry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "worktree "):
			entries = append(entries, Entry{Path: strings.TrimPrefix(line, "worktree ")})
			cur = &entries[len(entries)-1]
		case strings.HasPrefix(line, "branch ") && cur != nil:
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	return entries
}

// Create adds a worktree for branch under the root, creating the branch
// off the repository HEAD when it does not exist yet. Returns the
// worktree path.
func (m *Manager) Create(ctx context.Context, repoPath, branch string) (string, error) {
	if !IsGitRepo(repoPath) {
		return "", ErrNotGitRepo
	}

	lock := m.repoLock(repoPath)
	lock.Lock()
	defer lock.Unlock()

	path := m.pathFor(repoPath, branch)
	if IsGitRepo(path) {
		slog.Debug("reusing existing worktree", "path", path, "branch", branch)
		return path, nil
	}

	out, err := git(ctx, repoPath, "worktree", "add", "-b", branch, path)
	if err != nil && strings.Contains(out, "already exists") {
		// Branch exists: check it out instead of creating it.
		out, err = git(ctx, repoPath, "worktree", "add", path, branch)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrGitCommandFailed, strings.TrimSpace(out))
	}
	slog.Info("created worktree", "path", path, "branch", branch)
	return path, nil
}

// Remove deletes a worktree checkout. The branch itself is kept: the
// user's work survives the session.
func (m *Manager) Remove(ctx context.Context, repoPath, worktreePath string) error {
	lock := m.repoLock(repoPath)
	lock.Lock()
	defer lock.Unlock()

	if out, err := git(ctx, repoPath, "worktree", "remove", "--force", worktreePath); err != nil {
		slog.Debug("git worktree remove failed, falling back to rm", "output", out, "error", err)
		if err := os.RemoveAll(worktreePath); err != nil {
			return fmt.Errorf("worktree: remove %s: %w", worktreePath, err)
		}
		_, _ = git(ctx, repoPath, "worktree", "prune")
	}
	return nil
}

// Prune removes worktree checkouts under the root that no active
// session references, then prunes git's metadata.
func (m *Manager) Prune(ctx context.Context, active map[string]bool) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(m.root, e.Name())
		if active[path] {
			continue
		}
		slog.Info("pruning orphaned worktree", "path", path)
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("prune worktree failed", "path", path, "error", err)
		}
	}
}

// pathFor derives a stable checkout path from repo name and branch.
func (m *Manager) pathFor(repoPath, branch string) string {
	repo := filepath.Base(repoPath)
	safe := strings.NewReplacer("/", "-", " ", "-").Replace(branch)
	return filepath.Join(m.root, repo+"-"+safe)
}

func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}
