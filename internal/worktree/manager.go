// Package worktree manages isolated repository checkouts for agent sessions.
// Checkouts are rooted at <repo-root>/.worktrees/<branch> and are owned by at
// most one session at a time.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"foreman/internal/git"
	"foreman/internal/log"
)

// WorktreesDir is the directory under the repository root that holds all
// session checkouts.
const WorktreesDir = ".worktrees"

// CreateParams selects one of the three creation strategies.
//
//   - BranchBase set: fresh-branch. A new branch BranchName is created from
//     BranchBase and the checkout is attached to it.
//   - FetchRemote set: fetch-then-attach. origin/<BranchName> is fetched
//     first and the checkout attaches to the remote tracking ref, so the
//     checkout reflects upstream state rather than a stale local copy.
//   - Neither: existing-branch. The checkout attaches to the already-existing
//     local branch BranchName.
type CreateParams struct {
	BranchName  string
	BranchBase  string
	FetchRemote bool
}

// Manager creates and removes working copies. Errors from the git CLI are
// surfaced unchanged; callers decide whether removal failures matter.
type Manager struct {
	exec     git.Executor
	repoRoot string
}

// NewManager creates a Manager for the repository rooted at repoRoot.
func NewManager(exec git.Executor, repoRoot string) *Manager {
	return &Manager{exec: exec, repoRoot: repoRoot}
}

// PathFor returns the checkout path for a branch.
func (m *Manager) PathFor(branch string) string {
	return filepath.Join(m.repoRoot, WorktreesDir, branch)
}

// BranchFor returns the canonical branch name for a work item.
func BranchFor(workItemID int) string {
	return fmt.Sprintf("issue-%d", workItemID)
}

// Create creates a working copy for params.BranchName and returns its path.
func (m *Manager) Create(ctx context.Context, params CreateParams) (string, error) {
	if params.BranchName == "" {
		return "", fmt.Errorf("branch name is required")
	}

	path := m.PathFor(params.BranchName)

	switch {
	case params.BranchBase != "":
		// Fresh-branch: new branch from the base, checkout attached to it.
		if err := m.exec.AddWorktree(ctx, path, params.BranchName, params.BranchBase); err != nil {
			return "", err
		}
	case params.FetchRemote:
		// Fetch-then-attach: sync with upstream before attaching.
		if err := m.exec.Fetch(ctx, params.BranchName); err != nil {
			return "", err
		}
		if err := m.exec.AddWorktree(ctx, path, "", "origin/"+params.BranchName); err != nil {
			return "", err
		}
	default:
		// Existing-branch: attach to the local branch as-is.
		if err := m.exec.AddWorktree(ctx, path, "", params.BranchName); err != nil {
			return "", err
		}
	}

	log.Debug(log.CatWorktree, "Working copy created", "path", path, "branch", params.BranchName)
	return path, nil
}

// CreateOrReuse derives the issue-<N> branch and path for a work item and
// returns a usable checkout for it. Registered worktrees are reused; a
// registration whose directory was deleted out-of-band is pruned and
// re-added; an existing branch without a worktree is attached; otherwise a
// fresh branch is created from HEAD.
func (m *Manager) CreateOrReuse(ctx context.Context, workItemID int) (path, branch string, err error) {
	branch = BranchFor(workItemID)
	path = m.PathFor(branch)

	worktrees, err := m.exec.ListWorktrees()
	if err != nil {
		return "", "", err
	}

	for _, wt := range worktrees {
		if wt.Branch != branch {
			continue
		}
		if _, statErr := os.Stat(wt.Path); statErr == nil {
			log.Debug(log.CatWorktree, "Reusing registered worktree", "path", wt.Path, "branch", branch)
			return wt.Path, branch, nil
		}
		// Registered but the directory is gone: prune the stale entry and
		// re-attach below.
		if pruneErr := m.exec.PruneWorktrees(); pruneErr != nil {
			return "", "", pruneErr
		}
		break
	}

	if m.exec.BranchExists(branch) {
		if err := m.exec.AddWorktree(ctx, path, "", branch); err != nil {
			return "", "", err
		}
		return path, branch, nil
	}

	// New branch from HEAD.
	if err := m.exec.AddWorktree(ctx, path, branch, ""); err != nil {
		return "", "", err
	}
	return path, branch, nil
}

// Remove removes the working copy for a work item.
func (m *Manager) Remove(workItemID int) error {
	return m.RemoveByPath(m.PathFor(BranchFor(workItemID)))
}

// RemoveByPath force-removes the working copy at path.
func (m *Manager) RemoveByPath(path string) error {
	if err := m.exec.RemoveWorktree(path); err != nil {
		return err
	}
	log.Debug(log.CatWorktree, "Working copy removed", "path", path)
	return nil
}
