package poller

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"foreman/internal/cachemanager"
	"foreman/internal/log"
	"foreman/internal/plannercache"
	"foreman/internal/tracker"
)

const blobCacheTTL = time.Hour

// SpecChange is one added or modified spec file with a parsed frontmatter
// status. Files without a parseable status never appear here.
type SpecChange struct {
	Path       string
	Status     string
	ChangeType string // "added" or "modified"
}

const (
	ChangeAdded    = "added"
	ChangeModified = "modified"
)

// SpecBatch is the result of one spec poll. CommitDigest is empty when no
// changes were detected; callers preserve the last non-empty value.
type SpecBatch struct {
	Changes      []SpecChange
	CommitDigest string
}

// SpecPoller detects spec-file changes with a two-level digest comparison:
// the directory digest first, then per-file blob digests. Content is only
// fetched for files whose blob digest changed, through a read-through cache
// keyed by blob digest (blob content is immutable).
type SpecPoller struct {
	client        tracker.Client
	specsDir      string
	defaultBranch string
	blobs         *cachemanager.ReadThrough[string, string]

	mu       sync.Mutex
	snapshot plannercache.Snapshot
}

// NewSpecPoller creates a SpecPoller watching specsDir on defaultBranch.
func NewSpecPoller(client tracker.Client, specsDir, defaultBranch string) *SpecPoller {
	blobStore := cachemanager.NewMemoryCache[string, string](
		"spec-blobs", cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval)
	return &SpecPoller{
		client:        client,
		specsDir:      strings.TrimSuffix(specsDir, "/"),
		defaultBranch: defaultBranch,
		blobs: cachemanager.NewReadThrough[string, string](
			blobStore,
			func(ctx context.Context, sha string) (string, error) {
				return client.GetBlob(ctx, sha)
			},
		),
		snapshot: plannercache.Snapshot{Files: map[string]plannercache.FileEntry{}},
	}
}

// SetSnapshot replaces the in-memory snapshot, used at startup to resume from
// the persisted planner cache.
func (p *SpecPoller) SetSnapshot(snap plannercache.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if snap.Files == nil {
		snap.Files = map[string]plannercache.FileEntry{}
	}
	p.snapshot = snap
}

// Snapshot returns a deep copy of the current snapshot.
func (p *SpecPoller) Snapshot() plannercache.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copySnapshot(p.snapshot)
}

func copySnapshot(snap plannercache.Snapshot) plannercache.Snapshot {
	files := make(map[string]plannercache.FileEntry, len(snap.Files))
	for k, v := range snap.Files {
		files[k] = v
	}
	return plannercache.Snapshot{TreeDigest: snap.TreeDigest, Files: files}
}

type fetchResult struct {
	path    string
	digest  string
	content string
	err     error
}

// Poll runs one detection cycle. An unchanged directory digest returns an
// empty batch without any content fetches. Content fetch failures skip the
// affected paths and leave them to retry next cycle.
func (p *SpecPoller) Poll(ctx context.Context) (SpecBatch, error) {
	tree, err := p.client.GetTree(ctx, p.defaultBranch, true)
	if err != nil {
		log.ErrorErr(log.CatPoller, "Spec poll failed fetching tree, skipping cycle", err)
		return SpecBatch{}, err
	}

	dirDigest := ""
	for _, entry := range tree.Entries {
		if entry.Type == "tree" && entry.Path == p.specsDir {
			dirDigest = entry.SHA
			break
		}
	}

	p.mu.Lock()
	unchanged := dirDigest == p.snapshot.TreeDigest
	prev := copySnapshot(p.snapshot)
	p.mu.Unlock()

	if unchanged {
		return SpecBatch{}, nil
	}

	// Directory digest moved: list the subtree and diff blob digests.
	current := map[string]string{}
	if dirDigest != "" {
		subtree, err := p.client.GetTree(ctx, dirDigest, true)
		if err != nil {
			log.ErrorErr(log.CatPoller, "Spec poll failed fetching subtree, skipping cycle", err)
			return SpecBatch{}, err
		}
		for _, entry := range subtree.Entries {
			if entry.Type == "blob" {
				current[path.Join(p.specsDir, entry.Path)] = entry.SHA
			}
		}
	}

	var toFetch []fetchResult
	changeType := map[string]string{}
	for filePath, digest := range current {
		old, exists := prev.Files[filePath]
		switch {
		case !exists:
			changeType[filePath] = ChangeAdded
			toFetch = append(toFetch, fetchResult{path: filePath, digest: digest})
		case old.BlobDigest != digest:
			changeType[filePath] = ChangeModified
			toFetch = append(toFetch, fetchResult{path: filePath, digest: digest})
		}
	}

	// Concurrent content fetches with join-all semantics: a failed path is
	// logged and skipped, not retried within the cycle.
	var wg sync.WaitGroup
	for i := range toFetch {
		wg.Add(1)
		go func(res *fetchResult) {
			defer wg.Done()
			res.content, res.err = p.blobs.Get(ctx, res.digest, blobCacheTTL)
		}(&toFetch[i])
	}
	wg.Wait()

	next := plannercache.Snapshot{TreeDigest: dirDigest, Files: map[string]plannercache.FileEntry{}}
	failures := 0
	var changes []SpecChange
	for filePath := range current {
		if _, changed := changeType[filePath]; !changed {
			// Untouched file keeps its previous entry.
			next.Files[filePath] = prev.Files[filePath]
		}
	}
	for _, res := range toFetch {
		if res.err != nil {
			log.ErrorErr(log.CatPoller, "Spec content fetch failed, will retry next cycle", res.err,
				"path", res.path)
			failures++
			if old, exists := prev.Files[res.path]; exists {
				next.Files[res.path] = old
			}
			continue
		}
		status, _ := ExtractFrontmatterStatus(res.content)
		next.Files[res.path] = plannercache.FileEntry{BlobDigest: res.digest, FrontmatterStatus: status}
		if status != "" {
			changes = append(changes, SpecChange{
				Path:       res.path,
				Status:     status,
				ChangeType: changeType[res.path],
			})
		}
	}

	// Failed paths keep the stale directory digest so the next cycle
	// re-enters the diff and retries them.
	if failures > 0 {
		next.TreeDigest = prev.TreeDigest
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })

	batch := SpecBatch{Changes: changes}
	if len(changes) > 0 {
		commit, err := p.client.GetRef(ctx, "heads/"+p.defaultBranch)
		if err != nil {
			log.ErrorErr(log.CatPoller, "Spec poll failed fetching head ref, skipping cycle", err)
			return SpecBatch{}, err
		}
		batch.CommitDigest = commit
	}

	p.mu.Lock()
	p.snapshot = next
	p.mu.Unlock()

	if len(changes) > 0 {
		log.Info(log.CatPoller, "Spec changes detected",
			"count", len(changes), "commitDigest", batch.CommitDigest)
	}
	return batch, nil
}
