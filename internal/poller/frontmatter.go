// Package poller contains the three pollers that diff external tracker state
// against in-memory snapshots: work items, spec files, and revisions.
package poller

import (
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterDelimiter = "---"

// ExtractFrontmatterStatus parses the leading ---…--- YAML block of a spec
// file and returns its status field. Content outside the block is ignored.
// Returns ok=false when the block is absent, unparseable, or has no status.
func ExtractFrontmatterStatus(content string) (string, bool) {
	block, ok := frontmatterBlock(content)
	if !ok {
		return "", false
	}

	var fm struct {
		Status string `yaml:"status"`
	}
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return "", false
	}
	if fm.Status == "" {
		return "", false
	}
	return fm.Status, true
}

// frontmatterBlock returns the YAML between the leading delimiter pair.
func frontmatterBlock(content string) (string, bool) {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, frontmatterDelimiter+"\n") {
		return "", false
	}
	rest := normalized[len(frontmatterDelimiter)+1:]
	end := strings.Index(rest, "\n"+frontmatterDelimiter)
	if end < 0 {
		return "", false
	}
	// The closing delimiter must sit on its own line.
	after := rest[end+1+len(frontmatterDelimiter):]
	if after != "" && !strings.HasPrefix(after, "\n") {
		return "", false
	}
	return rest[:end], true
}
