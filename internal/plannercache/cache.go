// Package plannercache persists the content-addressed snapshot of the last
// successful planner run. The cache is the only state that survives a process
// restart; losing it is safe and merely causes redundant planner work.
package plannercache

import (
	"encoding/json"
	"fmt"
	"os"

	"foreman/internal/log"
)

// DefaultFileName is the cache file name under the repository root.
const DefaultFileName = ".foreman-cache.json"

// FileEntry records one spec file's blob digest and parsed frontmatter status.
type FileEntry struct {
	BlobDigest        string `json:"blobDigest"`
	FrontmatterStatus string `json:"frontmatterStatus"`
}

// Snapshot is the content-addressed view of the spec directory.
// TreeDigest "" means unknown (cold start).
type Snapshot struct {
	TreeDigest string               `json:"treeDigest"`
	Files      map[string]FileEntry `json:"files"`
}

// Entry is the on-disk shape: the snapshot plus the head commit digest of the
// last successful planner run.
type Entry struct {
	Snapshot     Snapshot `json:"snapshot"`
	CommitDigest string   `json:"commitDigest"`
}

// Cache reads and writes the planner cache file atomically.
type Cache struct {
	path string
}

// New creates a Cache at the given file path.
func New(path string) *Cache {
	return &Cache{path: path}
}

// Path returns the cache file path.
func (c *Cache) Path() string {
	return c.path
}

// Load reads and validates the cache file. Any read, parse, or validation
// failure is a cold start: Load logs at debug level and returns nil, nil.
func (c *Cache) Load() (*Entry, error) {
	data, err := os.ReadFile(c.path) //nolint:gosec // G304: path derived from repo root
	if err != nil {
		log.Debug(log.CatCache, "Planner cache not readable, cold start", "path", c.path, "error", err)
		return nil, nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		log.Debug(log.CatCache, "Planner cache unparseable, cold start", "path", c.path, "error", err)
		return nil, nil
	}

	if err := validate(&entry); err != nil {
		log.Debug(log.CatCache, "Planner cache invalid, cold start", "path", c.path, "error", err)
		return nil, nil
	}

	return &entry, nil
}

func validate(entry *Entry) error {
	if entry.CommitDigest == "" {
		return fmt.Errorf("missing commitDigest")
	}
	if entry.Snapshot.Files == nil {
		return fmt.Errorf("missing snapshot.files")
	}
	for path, fe := range entry.Snapshot.Files {
		if fe.BlobDigest == "" {
			return fmt.Errorf("file %q missing blobDigest", path)
		}
	}
	return nil
}

// Write persists the snapshot and commit digest atomically: serialize, write
// to <path>.tmp, rename to <path>. A crash mid-write leaves the previous
// complete file in place.
func (c *Cache) Write(snapshot Snapshot, commitDigest string) error {
	entry := Entry{Snapshot: snapshot, CommitDigest: commitDigest}
	if entry.Snapshot.Files == nil {
		entry.Snapshot.Files = map[string]FileEntry{}
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling planner cache: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil { //nolint:gosec // G306: cache is not sensitive
		return fmt.Errorf("writing planner cache temp file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("renaming planner cache into place: %w", err)
	}

	log.Debug(log.CatCache, "Planner cache written", "path", c.path,
		"files", len(entry.Snapshot.Files), "commitDigest", commitDigest)
	return nil
}
