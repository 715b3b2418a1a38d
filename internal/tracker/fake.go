package tracker

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FakeClient is an in-memory Client for tests. Behavior is driven by the
// exported state fields; individual calls can be overridden with the
// corresponding Fn field. All methods are safe for concurrent use.
type FakeClient struct {
	mu sync.Mutex

	Issues       []Issue
	PullRequests []PullRequest
	PRFiles      map[int][]PullRequestFile
	PRReviews    map[int][]Review
	PRComments   map[int][]ReviewComment
	Statuses     map[string]*CombinedStatus
	Checks       map[string][]CheckRun
	Trees        map[string]*Tree
	Refs         map[string]string
	Files        map[string]string // "path@ref" → content
	Blobs        map[string]string

	ListOpenIssuesErr error
	ListPRsErr        error

	// Label mutations are recorded for assertions.
	AddedLabels   []string // "number:label"
	RemovedLabels []string
	StatusLabels  map[int]string

	GetCombinedStatusFn func(ctx context.Context, ref string) (*CombinedStatus, error)
	GetBlobFn           func(ctx context.Context, sha string) (string, error)
}

// NewFakeClient creates an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		PRFiles:      map[int][]PullRequestFile{},
		PRReviews:    map[int][]Review{},
		PRComments:   map[int][]ReviewComment{},
		Statuses:     map[string]*CombinedStatus{},
		Checks:       map[string][]CheckRun{},
		Trees:        map[string]*Tree{},
		Refs:         map[string]string{},
		Files:        map[string]string{},
		Blobs:        map[string]string{},
		StatusLabels: map[int]string{},
	}
}

func (f *FakeClient) ListOpenIssuesByLabel(ctx context.Context, label string) ([]Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListOpenIssuesErr != nil {
		return nil, f.ListOpenIssuesErr
	}
	var out []Issue
	for _, issue := range f.Issues {
		if HasLabel(issue.Labels, label) {
			out = append(out, issue)
		}
	}
	return out, nil
}

func (f *FakeClient) GetIssue(ctx context.Context, number int) (*Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Issues {
		if f.Issues[i].Number == number {
			issue := f.Issues[i]
			return &issue, nil
		}
	}
	return nil, fmt.Errorf("issue %d not found", number)
}

func (f *FakeClient) AddLabel(ctx context.Context, number int, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AddedLabels = append(f.AddedLabels, fmt.Sprintf("%d:%s", number, label))
	return nil
}

func (f *FakeClient) RemoveLabel(ctx context.Context, number int, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RemovedLabels = append(f.RemovedLabels, fmt.Sprintf("%d:%s", number, label))
	return nil
}

func (f *FakeClient) SetStatusLabel(ctx context.Context, number int, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatusLabels[number] = status
	for i := range f.Issues {
		if f.Issues[i].Number != number {
			continue
		}
		var labels []string
		for _, l := range f.Issues[i].Labels {
			if !strings.HasPrefix(l, LabelStatusPrefix) {
				labels = append(labels, l)
			}
		}
		f.Issues[i].Labels = append(labels, StatusLabel(status))
	}
	return nil
}

func (f *FakeClient) ListOpenPullRequests(ctx context.Context) ([]PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListPRsErr != nil {
		return nil, f.ListPRsErr
	}
	out := make([]PullRequest, len(f.PullRequests))
	copy(out, f.PullRequests)
	return out, nil
}

func (f *FakeClient) GetPullRequest(ctx context.Context, number int) (*PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.PullRequests {
		if f.PullRequests[i].Number == number {
			pr := f.PullRequests[i]
			return &pr, nil
		}
	}
	return nil, fmt.Errorf("pull request %d not found", number)
}

func (f *FakeClient) ListPullRequestFiles(ctx context.Context, number int) ([]PullRequestFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PRFiles[number], nil
}

func (f *FakeClient) ListPullRequestReviews(ctx context.Context, number int) ([]Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PRReviews[number], nil
}

func (f *FakeClient) ListPullRequestComments(ctx context.Context, number int) ([]ReviewComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PRComments[number], nil
}

func (f *FakeClient) GetCombinedStatus(ctx context.Context, ref string) (*CombinedStatus, error) {
	if f.GetCombinedStatusFn != nil {
		return f.GetCombinedStatusFn(ctx, ref)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if status, ok := f.Statuses[ref]; ok {
		return status, nil
	}
	return &CombinedStatus{}, nil
}

func (f *FakeClient) ListCheckRuns(ctx context.Context, ref string) ([]CheckRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Checks[ref], nil
}

func (f *FakeClient) GetTree(ctx context.Context, ref string, recursive bool) (*Tree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tree, ok := f.Trees[ref]; ok {
		return tree, nil
	}
	return nil, fmt.Errorf("tree %q not found", ref)
}

func (f *FakeClient) GetRef(ctx context.Context, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sha, ok := f.Refs[ref]; ok {
		return sha, nil
	}
	return "", fmt.Errorf("ref %q not found", ref)
}

func (f *FakeClient) GetFileContent(ctx context.Context, path, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if content, ok := f.Files[path+"@"+ref]; ok {
		return content, nil
	}
	return "", fmt.Errorf("file %q@%q not found", path, ref)
}

func (f *FakeClient) GetBlob(ctx context.Context, sha string) (string, error) {
	if f.GetBlobFn != nil {
		return f.GetBlobFn(ctx, sha)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if content, ok := f.Blobs[sha]; ok {
		return content, nil
	}
	return "", fmt.Errorf("blob %q not found", sha)
}

var _ Client = (*FakeClient)(nil)
