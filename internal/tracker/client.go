package tracker

import "context"

// Client is the narrow surface of the hosted source-control API the core
// consumes. Every method propagates errors unchanged; callers decide whether
// a failure drops a poll cycle or skips a command.
type Client interface {
	// Issues
	ListOpenIssuesByLabel(ctx context.Context, label string) ([]Issue, error)
	GetIssue(ctx context.Context, number int) (*Issue, error)
	AddLabel(ctx context.Context, number int, label string) error
	RemoveLabel(ctx context.Context, number int, label string) error
	// SetStatusLabel replaces any status:* label on the issue with the given
	// status value.
	SetStatusLabel(ctx context.Context, number int, status string) error

	// Pull requests
	ListOpenPullRequests(ctx context.Context) ([]PullRequest, error)
	GetPullRequest(ctx context.Context, number int) (*PullRequest, error)
	ListPullRequestFiles(ctx context.Context, number int) ([]PullRequestFile, error)
	ListPullRequestReviews(ctx context.Context, number int) ([]Review, error)
	ListPullRequestComments(ctx context.Context, number int) ([]ReviewComment, error)

	// CI
	GetCombinedStatus(ctx context.Context, ref string) (*CombinedStatus, error)
	ListCheckRuns(ctx context.Context, ref string) ([]CheckRun, error)

	// Git data
	GetTree(ctx context.Context, ref string, recursive bool) (*Tree, error)
	GetRef(ctx context.Context, ref string) (string, error)
	GetFileContent(ctx context.Context, path, ref string) (string, error)
	GetBlob(ctx context.Context, sha string) (string, error)
}
