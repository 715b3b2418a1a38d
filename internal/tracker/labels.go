package tracker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Label conventions on the tracker.
const (
	LabelTaskImplement    = "task:implement"
	LabelStatusPrefix     = "status:"
	LabelPriorityPrefix   = "priority:"
	LabelComplexityPrefix = "complexity:"
)

// StatusLabel returns the full status label for a status value.
func StatusLabel(status string) string {
	return LabelStatusPrefix + status
}

// StatusFromLabels extracts the status value from a label set.
// Returns StatusPending when no status label is present.
func StatusFromLabels(labels []string) string {
	for _, l := range labels {
		if after, ok := strings.CutPrefix(l, LabelStatusPrefix); ok {
			return after
		}
	}
	return StatusPending
}

// PriorityFromLabels extracts the priority value, or "" if absent.
func PriorityFromLabels(labels []string) string {
	for _, l := range labels {
		if after, ok := strings.CutPrefix(l, LabelPriorityPrefix); ok {
			return after
		}
	}
	return ""
}

// ComplexityFromLabels extracts the complexity value, or "" if absent.
func ComplexityFromLabels(labels []string) string {
	for _, l := range labels {
		if after, ok := strings.CutPrefix(l, LabelComplexityPrefix); ok {
			return after
		}
	}
	return ""
}

// HasLabel reports whether the label set contains the exact label.
func HasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// closingKeyword matches GitHub-style closing keywords: "closes #N",
// "fixes #N", "resolves #N" (case-insensitive, optional -s/-d suffixes).
var closingKeyword = regexp.MustCompile(`(?i)\b(?:close[sd]?|fix(?:e[sd])?|resolve[sd]?)\s+#(\d+)`)

// LinksWorkItem reports whether a pull-request body contains a closing-keyword
// reference to the given work item id.
func LinksWorkItem(body string, workItemID int) bool {
	for _, m := range closingKeyword.FindAllStringSubmatch(body, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n == workItemID {
			return true
		}
	}
	return false
}

// LinkedWorkItems returns every work item id referenced by a closing keyword
// in the body, in order of appearance.
func LinkedWorkItems(body string) []int {
	var ids []int
	for _, m := range closingKeyword.FindAllStringSubmatch(body, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			ids = append(ids, n)
		}
	}
	return ids
}

// FindPullRequestForWorkItem returns the first pull request whose body links
// the work item, preferring non-draft PRs. Returns nil when none match.
func FindPullRequestForWorkItem(prs []PullRequest, workItemID int, includeDrafts bool) *PullRequest {
	var draft *PullRequest
	for i := range prs {
		if !LinksWorkItem(prs[i].Body, workItemID) {
			continue
		}
		if prs[i].IsDraft {
			if draft == nil {
				draft = &prs[i]
			}
			continue
		}
		return &prs[i]
	}
	if includeDrafts {
		return draft
	}
	return nil
}

// ValidateRepository checks an owner/name repository reference.
func ValidateRepository(repo string) error {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("repository must be in owner/name form, got %q", repo)
	}
	return nil
}
