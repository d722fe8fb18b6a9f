package executor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// WorkspaceManager prepares per-repository working directories for agent
// runs. Each org/repo pair gets one cached checkout under Root; repeat
// runs fetch instead of recloning.
type WorkspaceManager struct {
	// Root holds the checkouts, one directory per "org__repo".
	Root string
	// CloneURL renders the remote URL for an org/repo pair. Defaults to
	// HTTPS GitHub.
	CloneURL func(org, repo string) string

	log *slog.Logger
	mu  sync.Mutex
}

// NewWorkspaceManager creates a manager rooted at dir.
func NewWorkspaceManager(dir string, log *slog.Logger) *WorkspaceManager {
	return &WorkspaceManager{
		Root: dir,
		CloneURL: func(org, repo string) string {
			return fmt.Sprintf("https://github.com/%s/%s.git", org, repo)
		},
		log: log,
	}
}

// CloneOrUpdate ensures a checkout of org/repo at ref and returns its
// path. Serialized so concurrent tasks do not race the same checkout.
func (m *WorkspaceManager) CloneOrUpdate(ctx context.Context, org, repo, ref string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ref == "" {
		ref = "main"
	}
	dir := filepath.Join(m.Root, org+"__"+repo)

	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		if err := os.MkdirAll(m.Root, 0o755); err != nil {
			return "", fmt.Errorf("create workspace root: %w", err)
		}
		m.log.Info("cloning repository", "org", org, "repo", repo, "dir", dir)
		if err := m.git(ctx, m.Root, "clone", m.CloneURL(org, repo), dir); err != nil {
			return "", err
		}
	} else {
		if err := m.git(ctx, dir, "fetch", "origin"); err != nil {
			return "", err
		}
	}

	if err := m.git(ctx, dir, "checkout", ref); err != nil {
		return "", err
	}
	// Best effort: branches track origin, detached tags and SHAs do not.
	if err := m.git(ctx, dir, "reset", "--hard", "origin/"+ref); err != nil {
		m.log.Debug("workspace reset skipped", "ref", ref, "error", err)
	}
	return dir, nil
}

func (m *WorkspaceManager) git(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %s: %v: %s", args[0], err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}
