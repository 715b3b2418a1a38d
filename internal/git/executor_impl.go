package git

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"foreman/internal/log"
)

// Git-specific errors for worktree operations.
var (
	// ErrBranchAlreadyCheckedOut indicates the branch is checked out in another worktree.
	ErrBranchAlreadyCheckedOut = errors.New("branch already checked out in another worktree")

	// ErrPathAlreadyExists indicates the worktree path already exists.
	ErrPathAlreadyExists = errors.New("worktree path already exists")

	// ErrWorktreeLocked indicates the worktree is locked.
	ErrWorktreeLocked = errors.New("worktree is locked")

	// ErrNotGitRepo indicates the directory is not a git repository.
	ErrNotGitRepo = errors.New("not a git repository")
)

// Compile-time check that RealExecutor implements Executor.
var _ Executor = (*RealExecutor)(nil)

// RealExecutor implements Executor by executing actual git commands.
type RealExecutor struct {
	workDir string
}

// NewRealExecutor creates a new RealExecutor rooted at workDir.
func NewRealExecutor(workDir string) *RealExecutor {
	return &RealExecutor{workDir: workDir}
}

// runGit executes a git command and returns an error if it fails.
func (e *RealExecutor) runGit(ctx context.Context, args ...string) error {
	_, err := e.runGitOutput(ctx, args...)
	return err
}

// runGitOutput executes a git command and returns stdout and any error.
func (e *RealExecutor) runGitOutput(ctx context.Context, args ...string) (string, error) {
	//nolint:gosec // G204: args come from controlled sources
	cmd := exec.CommandContext(ctx, "git", args...)
	if e.workDir != "" {
		cmd.Dir = e.workDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug(log.CatGit, "Running git", "args", strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		stderrStr := strings.TrimSpace(stderr.String())
		if stderrStr != "" {
			return "", parseGitError(stderrStr, err)
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// parseGitError converts git stderr messages to specific error types.
func parseGitError(stderr string, originalErr error) error {
	stderrLower := strings.ToLower(stderr)

	// Branch already checked out: fatal: '<branch>' is already checked out
	if strings.Contains(stderrLower, "is already checked out") ||
		strings.Contains(stderrLower, "already checked out at") {
		return fmt.Errorf("%w: %s", ErrBranchAlreadyCheckedOut, stderr)
	}

	// Path already exists: fatal: '<path>' already exists
	if strings.Contains(stderrLower, "already exists") {
		return fmt.Errorf("%w: %s", ErrPathAlreadyExists, stderr)
	}

	// Locked worktree: fatal: '<path>' is locked
	if strings.Contains(stderrLower, "is locked") {
		return fmt.Errorf("%w: %s", ErrWorktreeLocked, stderr)
	}

	if strings.Contains(stderrLower, "not a git repository") {
		return fmt.Errorf("%w: %s", ErrNotGitRepo, stderr)
	}

	return fmt.Errorf("git error: %s: %w", stderr, originalErr)
}

// RepoRoot returns the root directory of the git repository.
func (e *RealExecutor) RepoRoot() (string, error) {
	return e.runGitOutput(context.Background(), "rev-parse", "--show-toplevel")
}

// BranchExists checks if a local branch with the given name exists.
func (e *RealExecutor) BranchExists(name string) bool {
	err := e.runGit(context.Background(), "rev-parse", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}

// AddWorktree attaches a new worktree at path.
// With newBranch set: git worktree add -b <newBranch> <path> <ref>
// Without:            git worktree add <path> <ref>
func (e *RealExecutor) AddWorktree(ctx context.Context, path, newBranch, ref string) error {
	args := []string{"worktree", "add"}
	if newBranch != "" {
		args = append(args, "-b", newBranch)
	}
	args = append(args, path)
	if ref != "" {
		args = append(args, ref)
	}
	return e.runGit(ctx, args...)
}

// RemoveWorktree removes a worktree at the specified path.
func (e *RealExecutor) RemoveWorktree(path string) error {
	// Try normal remove first, fall back to --force
	err := e.runGit(context.Background(), "worktree", "remove", path)
	if err != nil {
		return e.runGit(context.Background(), "worktree", "remove", path, "--force")
	}
	return nil
}

// PruneWorktrees removes stale worktree references.
func (e *RealExecutor) PruneWorktrees() error {
	return e.runGit(context.Background(), "worktree", "prune")
}

// ListWorktrees returns information about all worktrees.
func (e *RealExecutor) ListWorktrees() ([]WorktreeInfo, error) {
	output, err := e.runGitOutput(context.Background(), "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	return parseWorktreeList(output), nil
}

// Fetch fetches a single branch from origin.
func (e *RealExecutor) Fetch(ctx context.Context, branch string) error {
	return e.runGit(ctx, "fetch", "origin", branch)
}

// Diff returns the diff between two refs limited to one path.
func (e *RealExecutor) Diff(base, head, path string) (string, error) {
	return e.runGitOutput(context.Background(), "diff", base+".."+head, "--", path)
}

// parseWorktreeList parses the porcelain output of git worktree list.
// Format:
//
//	worktree /path/to/worktree
//	HEAD <sha>
//	branch refs/heads/branch-name
//	<blank line>
func parseWorktreeList(output string) []WorktreeInfo {
	var worktrees []WorktreeInfo
	var current WorktreeInfo

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			// End of a worktree entry
			if current.Path != "" {
				worktrees = append(worktrees, current)
			}
			current = WorktreeInfo{}
			continue
		}

		parts := strings.SplitN(line, " ", 2)
		if len(parts) < 2 {
			continue
		}

		key, value := parts[0], parts[1]
		switch key {
		case "worktree":
			current.Path = value
		case "HEAD":
			current.HEAD = value
		case "branch":
			if after, found := strings.CutPrefix(value, "refs/heads/"); found {
				current.Branch = after
			} else {
				current.Branch = value
			}
		}
	}

	// The last entry when output doesn't end with a blank line
	if current.Path != "" {
		worktrees = append(worktrees, current)
	}

	return worktrees
}
