package git

import (
	"context"
	"fmt"
	"sync"
)

// FakeExecutor is an in-memory Executor for tests. It records worktree
// operations and simulates branch and registration state.
type FakeExecutor struct {
	mu sync.Mutex

	Root      string
	Branches  map[string]bool
	Worktrees []WorktreeInfo

	AddErr    error
	RemoveErr error
	FetchErr  error

	Added   []string // "path|newBranch|ref"
	Removed []string
	Fetched []string
	Pruned  int
}

// NewFakeExecutor creates a FakeExecutor rooted at root.
func NewFakeExecutor(root string) *FakeExecutor {
	return &FakeExecutor{Root: root, Branches: map[string]bool{}}
}

func (f *FakeExecutor) RepoRoot() (string, error) {
	return f.Root, nil
}

func (f *FakeExecutor) BranchExists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Branches[name]
}

func (f *FakeExecutor) AddWorktree(ctx context.Context, path, newBranch, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AddErr != nil {
		return f.AddErr
	}
	f.Added = append(f.Added, fmt.Sprintf("%s|%s|%s", path, newBranch, ref))
	branch := newBranch
	if branch == "" {
		branch = ref
	}
	if newBranch != "" {
		f.Branches[newBranch] = true
	}
	f.Worktrees = append(f.Worktrees, WorktreeInfo{Path: path, Branch: branch})
	return nil
}

func (f *FakeExecutor) RemoveWorktree(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	f.Removed = append(f.Removed, path)
	var kept []WorktreeInfo
	for _, wt := range f.Worktrees {
		if wt.Path != path {
			kept = append(kept, wt)
		}
	}
	f.Worktrees = kept
	return nil
}

func (f *FakeExecutor) PruneWorktrees() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pruned++
	return nil
}

func (f *FakeExecutor) ListWorktrees() ([]WorktreeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]WorktreeInfo, len(f.Worktrees))
	copy(out, f.Worktrees)
	return out, nil
}

func (f *FakeExecutor) Fetch(ctx context.Context, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FetchErr != nil {
		return f.FetchErr
	}
	f.Fetched = append(f.Fetched, branch)
	return nil
}

func (f *FakeExecutor) Diff(base, head, path string) (string, error) {
	return "", nil
}

var _ Executor = (*FakeExecutor)(nil)
