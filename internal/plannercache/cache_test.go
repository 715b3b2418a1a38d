package plannercache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	c := New(path)

	snapshot := Snapshot{
		TreeDigest: "tree-abc",
		Files: map[string]FileEntry{
			"docs/specs/auth.md":  {BlobDigest: "blob-1", FrontmatterStatus: "approved"},
			"docs/specs/queue.md": {BlobDigest: "blob-2", FrontmatterStatus: "draft"},
		},
	}
	require.NoError(t, c.Write(snapshot, "commit-123"))

	entry, err := c.Load()
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, "commit-123", entry.CommitDigest)
	require.Equal(t, snapshot, entry.Snapshot)
}

func TestCacheMissingFileIsColdStart(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "nonexistent.json"))
	entry, err := c.Load()
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestCacheCorruptFileIsColdStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	entry, err := New(path).Load()
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestCacheInvalidEntryIsColdStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)

	// Missing commitDigest.
	require.NoError(t, os.WriteFile(path, []byte(`{"snapshot":{"treeDigest":"t","files":{}}}`), 0644))
	entry, err := New(path).Load()
	require.NoError(t, err)
	require.Nil(t, entry)

	// File entry without a blob digest.
	data := `{"commitDigest":"c","snapshot":{"treeDigest":"t","files":{"a.md":{"frontmatterStatus":"draft"}}}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	entry, err = New(path).Load()
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestCacheWriteReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	c := New(path)

	require.NoError(t, c.Write(Snapshot{TreeDigest: "t1", Files: map[string]FileEntry{}}, "c1"))
	require.NoError(t, c.Write(Snapshot{TreeDigest: "t2", Files: map[string]FileEntry{}}, "c2"))

	entry, err := c.Load()
	require.NoError(t, err)
	require.Equal(t, "c2", entry.CommitDigest)
	require.Equal(t, "t2", entry.Snapshot.TreeDigest)

	// No temp file left behind.
	_, statErr := os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(statErr))
}

func TestCacheRoundTripProperty(t *testing.T) {
	dir := t.TempDir()
	rapid.Check(t, func(t *rapid.T) {
		files := rapid.MapOfN(
			rapid.StringMatching(`[a-z]{1,8}\.md`),
			rapid.Custom(func(t *rapid.T) FileEntry {
				return FileEntry{
					BlobDigest:        rapid.StringMatching(`[0-9a-f]{8}`).Draw(t, "digest"),
					FrontmatterStatus: rapid.SampledFrom([]string{"", "draft", "approved", "review"}).Draw(t, "status"),
				}
			}),
			0, 10,
		).Draw(t, "files")
		commit := rapid.StringMatching(`[0-9a-f]{8}`).Draw(t, "commit")

		c := New(filepath.Join(dir, DefaultFileName))
		snapshot := Snapshot{TreeDigest: "tree", Files: files}
		require.NoError(t, c.Write(snapshot, commit))

		entry, err := c.Load()
		require.NoError(t, err)
		require.NotNil(t, entry)
		require.Equal(t, commit, entry.CommitDigest)
		require.Len(t, entry.Snapshot.Files, len(files))
		for path, fe := range files {
			require.Equal(t, fe, entry.Snapshot.Files[path])
		}
	})
}
