package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"foreman/internal/plannercache"
	"foreman/internal/tracker"
)

const specsDir = "docs/specs/"

func specFakeClient() *tracker.FakeClient {
	client := tracker.NewFakeClient()
	client.Refs["heads/main"] = "commit-1"
	return client
}

func setSpecTree(client *tracker.FakeClient, dirDigest string, blobs map[string]string) {
	client.Trees["main"] = &tracker.Tree{
		SHA: "root-" + dirDigest,
		Entries: []tracker.TreeEntry{
			{Path: "README.md", Type: "blob", SHA: "readme"},
			{Path: "docs/specs", Type: "tree", SHA: dirDigest},
		},
	}
	subtree := &tracker.Tree{SHA: dirDigest}
	for name, sha := range blobs {
		subtree.Entries = append(subtree.Entries, tracker.TreeEntry{Path: name, Type: "blob", SHA: sha})
	}
	client.Trees[dirDigest] = subtree
}

func TestSpecPoller_AddedApprovedSpec(t *testing.T) {
	client := specFakeClient()
	setSpecTree(client, "dir-1", map[string]string{"a.md": "blob-a"})
	client.Blobs["blob-a"] = "---\nstatus: approved\n---\n# Spec A"

	p := NewSpecPoller(client, specsDir, "main")
	batch, err := p.Poll(context.Background())
	require.NoError(t, err)

	require.Len(t, batch.Changes, 1)
	require.Equal(t, SpecChange{
		Path:       "docs/specs/a.md",
		Status:     "approved",
		ChangeType: ChangeAdded,
	}, batch.Changes[0])
	require.Equal(t, "commit-1", batch.CommitDigest)

	snap := p.Snapshot()
	require.Equal(t, "dir-1", snap.TreeDigest)
	require.Equal(t, plannercache.FileEntry{
		BlobDigest:        "blob-a",
		FrontmatterStatus: "approved",
	}, snap.Files["docs/specs/a.md"])
}

func TestSpecPoller_UnchangedDigestMakesNoContentFetches(t *testing.T) {
	client := specFakeClient()
	setSpecTree(client, "dir-1", map[string]string{"a.md": "blob-a"})
	client.Blobs["blob-a"] = "---\nstatus: approved\n---\n"

	var fetches atomic.Int32
	client.GetBlobFn = func(ctx context.Context, sha string) (string, error) {
		fetches.Add(1)
		return "---\nstatus: approved\n---\n", nil
	}

	p := NewSpecPoller(client, specsDir, "main")
	_, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), fetches.Load())

	batch, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Empty(t, batch.Changes)
	require.Empty(t, batch.CommitDigest)
	require.Equal(t, int32(1), fetches.Load())
}

func TestSpecPoller_ModifiedSpec(t *testing.T) {
	client := specFakeClient()
	setSpecTree(client, "dir-1", map[string]string{"a.md": "blob-a1"})
	client.Blobs["blob-a1"] = "---\nstatus: draft\n---\n"

	p := NewSpecPoller(client, specsDir, "main")
	_, err := p.Poll(context.Background())
	require.NoError(t, err)

	setSpecTree(client, "dir-2", map[string]string{"a.md": "blob-a2"})
	client.Blobs["blob-a2"] = "---\nstatus: approved\n---\n"
	client.Refs["heads/main"] = "commit-2"

	batch, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Changes, 1)
	require.Equal(t, ChangeModified, batch.Changes[0].ChangeType)
	require.Equal(t, "approved", batch.Changes[0].Status)
	require.Equal(t, "commit-2", batch.CommitDigest)
}

func TestSpecPoller_RemovedFileDroppedSilently(t *testing.T) {
	client := specFakeClient()
	setSpecTree(client, "dir-1", map[string]string{"a.md": "blob-a", "b.md": "blob-b"})
	client.Blobs["blob-a"] = "---\nstatus: approved\n---\n"
	client.Blobs["blob-b"] = "---\nstatus: draft\n---\n"

	p := NewSpecPoller(client, specsDir, "main")
	_, err := p.Poll(context.Background())
	require.NoError(t, err)

	setSpecTree(client, "dir-2", map[string]string{"a.md": "blob-a"})
	batch, err := p.Poll(context.Background())
	require.NoError(t, err)

	require.Empty(t, batch.Changes)
	require.Empty(t, batch.CommitDigest)
	snap := p.Snapshot()
	require.Equal(t, "dir-2", snap.TreeDigest)
	require.NotContains(t, snap.Files, "docs/specs/b.md")
}

func TestSpecPoller_FileWithoutStatusDoesNotParticipate(t *testing.T) {
	client := specFakeClient()
	setSpecTree(client, "dir-1", map[string]string{"notes.md": "blob-n"})
	client.Blobs["blob-n"] = "# just notes, no frontmatter"

	p := NewSpecPoller(client, specsDir, "main")
	batch, err := p.Poll(context.Background())
	require.NoError(t, err)

	require.Empty(t, batch.Changes)
	require.Empty(t, batch.CommitDigest)
	// The file is still recorded so the next cycle does not refetch it.
	snap := p.Snapshot()
	require.Equal(t, plannercache.FileEntry{BlobDigest: "blob-n"}, snap.Files["docs/specs/notes.md"])
}

func TestSpecPoller_FetchFailureRetriesNextCycle(t *testing.T) {
	client := specFakeClient()
	setSpecTree(client, "dir-1", map[string]string{"a.md": "blob-a", "b.md": "blob-b"})

	failing := true
	client.GetBlobFn = func(ctx context.Context, sha string) (string, error) {
		if sha == "blob-b" && failing {
			return "", errors.New("boom")
		}
		return "---\nstatus: approved\n---\n", nil
	}

	p := NewSpecPoller(client, specsDir, "main")
	batch, err := p.Poll(context.Background())
	require.NoError(t, err)

	// a.md settled, b.md failed and is absent from the batch.
	require.Len(t, batch.Changes, 1)
	require.Equal(t, "docs/specs/a.md", batch.Changes[0].Path)

	// The directory digest stays stale so the failed path is retried.
	failing = false
	batch, err = p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Changes, 1)
	require.Equal(t, "docs/specs/b.md", batch.Changes[0].Path)
}

func TestSpecPoller_EmptySpecDir(t *testing.T) {
	client := specFakeClient()
	client.Trees["main"] = &tracker.Tree{
		SHA:     "root",
		Entries: []tracker.TreeEntry{{Path: "README.md", Type: "blob", SHA: "readme"}},
	}

	p := NewSpecPoller(client, specsDir, "main")
	batch, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Empty(t, batch.Changes)
	require.Empty(t, batch.CommitDigest)
}

func TestSpecPoller_ResumeFromSnapshot(t *testing.T) {
	client := specFakeClient()
	setSpecTree(client, "dir-1", map[string]string{"a.md": "blob-a"})

	p := NewSpecPoller(client, specsDir, "main")
	p.SetSnapshot(plannercache.Snapshot{
		TreeDigest: "dir-1",
		Files: map[string]plannercache.FileEntry{
			"docs/specs/a.md": {BlobDigest: "blob-a", FrontmatterStatus: "approved"},
		},
	})

	// Same digest as the persisted snapshot: nothing to do.
	batch, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Empty(t, batch.Changes)
}
