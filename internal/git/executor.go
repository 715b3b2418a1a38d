// Package git wraps the git CLI behind an Executor interface so worktree
// management can be tested without a real repository.
package git

import "context"

// WorktreeInfo describes one entry of `git worktree list --porcelain`.
type WorktreeInfo struct {
	Path   string
	HEAD   string
	Branch string
}

// Executor runs git commands for worktree and ref management.
// Implementations surface CLI errors unchanged apart from sentinel wrapping.
type Executor interface {
	// RepoRoot returns the top-level directory of the repository.
	RepoRoot() (string, error)

	// BranchExists reports whether refs/heads/<name> resolves.
	BranchExists(name string) bool

	// AddWorktree attaches a new worktree at path. When newBranch is
	// non-empty a branch is created (`-b newBranch`) starting at ref;
	// otherwise path is attached directly to ref.
	AddWorktree(ctx context.Context, path, newBranch, ref string) error

	// RemoveWorktree removes the worktree at path, forcing if necessary.
	RemoveWorktree(path string) error

	// PruneWorktrees drops stale worktree registrations.
	PruneWorktrees() error

	// ListWorktrees returns all registered worktrees.
	ListWorktrees() ([]WorktreeInfo, error)

	// Fetch fetches a single branch from origin.
	Fetch(ctx context.Context, branch string) error

	// Diff returns `git diff <base>..<head> -- <path>` output.
	Diff(base, head, path string) (string, error)
}
