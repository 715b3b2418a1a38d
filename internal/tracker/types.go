// Package tracker defines the data model for the hosted source-control
// service and the narrow client interface the core consumes. Concrete API
// clients live outside the core; tests use fakes.
package tracker

import (
	"time"
)

// Status values a work item can carry via its status:* label.
// Status is the only field that drives scheduling.
const (
	StatusPending         = "pending"
	StatusUnblocked       = "unblocked"
	StatusNeedsChanges    = "needs-changes"
	StatusInProgress      = "in-progress"
	StatusReview          = "review"
	StatusNeedsRefinement = "needs-refinement"
	StatusBlocked         = "blocked"
	StatusApproved        = "approved"
)

// Issue is a raw issue as returned by the tracker: labels not yet interpreted.
type Issue struct {
	Number    int
	Title     string
	Body      string
	Labels    []string
	State     string
	CreatedAt time.Time
}

// WorkItem is a unit of tracked development work derived from an issue.
// Identity is the numeric issue number. A work item is tracked iff the issue
// is open and carries the task:implement label.
type WorkItem struct {
	ID         int
	Title      string
	Body       string
	Status     string
	Priority   string
	Complexity string
	BlockedBy  []int
	CreatedAt  time.Time
}

// WorkItemFromIssue interprets an issue's labels into a work item.
func WorkItemFromIssue(issue Issue) WorkItem {
	return WorkItem{
		ID:         issue.Number,
		Title:      issue.Title,
		Body:       issue.Body,
		Status:     StatusFromLabels(issue.Labels),
		Priority:   PriorityFromLabels(issue.Labels),
		Complexity: ComplexityFromLabels(issue.Labels),
		CreatedAt:  issue.CreatedAt,
	}
}

// PullRequest is a proposed change under review.
type PullRequest struct {
	Number  int
	Title   string
	URL     string
	HeadSHA string
	HeadRef string
	Author  string
	Body    string
	IsDraft bool
}

// PullRequestFile is a single changed file in a pull request.
type PullRequestFile struct {
	Filename  string
	Status    string
	Additions int
	Deletions int
	Patch     string
}

// Review is a submitted pull-request review.
type Review struct {
	Author      string
	State       string
	Body        string
	SubmittedAt time.Time
}

// ReviewComment is an inline pull-request comment.
type ReviewComment struct {
	Author string
	Path   string
	Line   int
	Body   string
}

// CombinedStatus is the aggregate commit status for a ref.
type CombinedStatus struct {
	State      string
	TotalCount int
}

// CheckRun is a single CI check run for a ref.
type CheckRun struct {
	Name       string
	Status     string
	Conclusion string
}

// TreeEntry is one entry of a (possibly recursive) git tree.
type TreeEntry struct {
	Path string
	Type string // "blob" or "tree"
	SHA  string
}

// Tree is a git tree listing for a ref.
type Tree struct {
	SHA     string
	Entries []TreeEntry
}
