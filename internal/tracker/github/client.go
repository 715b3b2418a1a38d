// Package github implements the tracker client against the GitHub REST API,
// authenticating as a GitHub App installation.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"foreman/internal/tracker"
)

const defaultBaseURL = "https://api.github.com"

// Options configures a Client.
type Options struct {
	// Repository in owner/name form.
	Repository string
	// App credentials.
	AppID          int64
	PrivateKeyPath string
	InstallationID int64
	// BaseURL overrides the API endpoint, for GitHub Enterprise or tests.
	BaseURL string
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Client is a tracker.Client backed by the GitHub REST API.
type Client struct {
	repo       string
	baseURL    string
	httpClient *http.Client
	tokens     *appTokenSource
}

// New creates a Client and loads the app private key. No network call is made
// until the first request.
func New(opts Options) (*Client, error) {
	if err := tracker.ValidateRepository(opts.Repository); err != nil {
		return nil, err
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	tokens, err := newAppTokenSource(opts.AppID, opts.InstallationID, opts.PrivateKeyPath, baseURL, httpClient)
	if err != nil {
		return nil, err
	}
	return &Client{
		repo:       opts.Repository,
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tokens,
	}, nil
}

var _ tracker.Client = (*Client)(nil)

// do issues one authenticated API request and decodes the JSON response into
// out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) repoPath(format string, args ...any) string {
	return "/repos/" + c.repo + fmt.Sprintf(format, args...)
}

type apiIssue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	Labels    []struct {
		Name string `json:"name"`
	} `json:"labels"`
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

func (a apiIssue) toIssue() tracker.Issue {
	labels := make([]string, 0, len(a.Labels))
	for _, l := range a.Labels {
		labels = append(labels, l.Name)
	}
	return tracker.Issue{
		Number:    a.Number,
		Title:     a.Title,
		Body:      a.Body,
		Labels:    labels,
		State:     a.State,
		CreatedAt: a.CreatedAt,
	}
}

// ListOpenIssuesByLabel returns open issues carrying the label. The issues
// endpoint also returns pull requests; those are filtered out.
func (c *Client) ListOpenIssuesByLabel(ctx context.Context, label string) ([]tracker.Issue, error) {
	var issues []tracker.Issue
	for page := 1; ; page++ {
		path := c.repoPath("/issues?state=open&per_page=100&page=%d&labels=%s", page, url.QueryEscape(label))
		var batch []apiIssue
		if err := c.do(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		for _, a := range batch {
			if a.PullRequest != nil {
				continue
			}
			issues = append(issues, a.toIssue())
		}
		if len(batch) < 100 {
			return issues, nil
		}
	}
}

func (c *Client) GetIssue(ctx context.Context, number int) (*tracker.Issue, error) {
	var a apiIssue
	if err := c.do(ctx, http.MethodGet, c.repoPath("/issues/%d", number), nil, &a); err != nil {
		return nil, err
	}
	issue := a.toIssue()
	return &issue, nil
}

func (c *Client) AddLabel(ctx context.Context, number int, label string) error {
	body, err := json.Marshal(map[string][]string{"labels": {label}})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, c.repoPath("/issues/%d/labels", number), strings.NewReader(string(body)), nil)
}

func (c *Client) RemoveLabel(ctx context.Context, number int, label string) error {
	path := c.repoPath("/issues/%d/labels/%s", number, url.PathEscape(label))
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	// Removing an absent label is not an error.
	if err != nil && strings.Contains(err.Error(), "404") {
		return nil
	}
	return err
}

// SetStatusLabel rewrites the issue's label set, replacing any status:* label
// with the given status.
func (c *Client) SetStatusLabel(ctx context.Context, number int, status string) error {
	issue, err := c.GetIssue(ctx, number)
	if err != nil {
		return err
	}
	labels := make([]string, 0, len(issue.Labels)+1)
	for _, l := range issue.Labels {
		if !strings.HasPrefix(l, tracker.LabelStatusPrefix) {
			labels = append(labels, l)
		}
	}
	labels = append(labels, tracker.StatusLabel(status))

	body, err := json.Marshal(map[string][]string{"labels": labels})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, c.repoPath("/issues/%d/labels", number), strings.NewReader(string(body)), nil)
}

type apiPull struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	HTMLURL string `json:"html_url"`
	Body    string `json:"body"`
	Draft   bool   `json:"draft"`
	User    struct {
		Login string `json:"login"`
	} `json:"user"`
	Head struct {
		SHA string `json:"sha"`
		Ref string `json:"ref"`
	} `json:"head"`
}

func (a apiPull) toPullRequest() tracker.PullRequest {
	return tracker.PullRequest{
		Number:  a.Number,
		Title:   a.Title,
		URL:     a.HTMLURL,
		HeadSHA: a.Head.SHA,
		HeadRef: a.Head.Ref,
		Author:  a.User.Login,
		Body:    a.Body,
		IsDraft: a.Draft,
	}
}

func (c *Client) ListOpenPullRequests(ctx context.Context) ([]tracker.PullRequest, error) {
	var prs []tracker.PullRequest
	for page := 1; ; page++ {
		var batch []apiPull
		path := c.repoPath("/pulls?state=open&per_page=100&page=%d", page)
		if err := c.do(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		for _, a := range batch {
			prs = append(prs, a.toPullRequest())
		}
		if len(batch) < 100 {
			return prs, nil
		}
	}
}

func (c *Client) GetPullRequest(ctx context.Context, number int) (*tracker.PullRequest, error) {
	var a apiPull
	if err := c.do(ctx, http.MethodGet, c.repoPath("/pulls/%d", number), nil, &a); err != nil {
		return nil, err
	}
	pr := a.toPullRequest()
	return &pr, nil
}

func (c *Client) ListPullRequestFiles(ctx context.Context, number int) ([]tracker.PullRequestFile, error) {
	var raw []struct {
		Filename  string `json:"filename"`
		Status    string `json:"status"`
		Additions int    `json:"additions"`
		Deletions int    `json:"deletions"`
		Patch     string `json:"patch"`
	}
	if err := c.do(ctx, http.MethodGet, c.repoPath("/pulls/%d/files?per_page=100", number), nil, &raw); err != nil {
		return nil, err
	}
	files := make([]tracker.PullRequestFile, 0, len(raw))
	for _, f := range raw {
		files = append(files, tracker.PullRequestFile{
			Filename:  f.Filename,
			Status:    f.Status,
			Additions: f.Additions,
			Deletions: f.Deletions,
			Patch:     f.Patch,
		})
	}
	return files, nil
}

func (c *Client) ListPullRequestReviews(ctx context.Context, number int) ([]tracker.Review, error) {
	var raw []struct {
		State       string    `json:"state"`
		Body        string    `json:"body"`
		SubmittedAt time.Time `json:"submitted_at"`
		User        struct {
			Login string `json:"login"`
		} `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, c.repoPath("/pulls/%d/reviews?per_page=100", number), nil, &raw); err != nil {
		return nil, err
	}
	reviews := make([]tracker.Review, 0, len(raw))
	for _, r := range raw {
		reviews = append(reviews, tracker.Review{
			Author:      r.User.Login,
			State:       r.State,
			Body:        r.Body,
			SubmittedAt: r.SubmittedAt,
		})
	}
	return reviews, nil
}

func (c *Client) ListPullRequestComments(ctx context.Context, number int) ([]tracker.ReviewComment, error) {
	var raw []struct {
		Path string `json:"path"`
		Line int    `json:"line"`
		Body string `json:"body"`
		User struct {
			Login string `json:"login"`
		} `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, c.repoPath("/pulls/%d/comments?per_page=100", number), nil, &raw); err != nil {
		return nil, err
	}
	comments := make([]tracker.ReviewComment, 0, len(raw))
	for _, rc := range raw {
		comments = append(comments, tracker.ReviewComment{
			Author: rc.User.Login,
			Path:   rc.Path,
			Line:   rc.Line,
			Body:   rc.Body,
		})
	}
	return comments, nil
}

func (c *Client) GetCombinedStatus(ctx context.Context, ref string) (*tracker.CombinedStatus, error) {
	var raw struct {
		State      string `json:"state"`
		TotalCount int    `json:"total_count"`
	}
	if err := c.do(ctx, http.MethodGet, c.repoPath("/commits/%s/status", url.PathEscape(ref)), nil, &raw); err != nil {
		return nil, err
	}
	return &tracker.CombinedStatus{State: raw.State, TotalCount: raw.TotalCount}, nil
}

func (c *Client) ListCheckRuns(ctx context.Context, ref string) ([]tracker.CheckRun, error) {
	var raw struct {
		CheckRuns []struct {
			Name       string `json:"name"`
			Status     string `json:"status"`
			Conclusion string `json:"conclusion"`
		} `json:"check_runs"`
	}
	path := c.repoPath("/commits/%s/check-runs?per_page=100", url.PathEscape(ref))
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	checks := make([]tracker.CheckRun, 0, len(raw.CheckRuns))
	for _, cr := range raw.CheckRuns {
		checks = append(checks, tracker.CheckRun{
			Name:       cr.Name,
			Status:     cr.Status,
			Conclusion: cr.Conclusion,
		})
	}
	return checks, nil
}

func (c *Client) GetTree(ctx context.Context, ref string, recursive bool) (*tracker.Tree, error) {
	path := c.repoPath("/git/trees/%s", url.PathEscape(ref))
	if recursive {
		path += "?recursive=1"
	}
	var raw struct {
		SHA  string `json:"sha"`
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
			SHA  string `json:"sha"`
		} `json:"tree"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	tree := &tracker.Tree{SHA: raw.SHA, Entries: make([]tracker.TreeEntry, 0, len(raw.Tree))}
	for _, e := range raw.Tree {
		tree.Entries = append(tree.Entries, tracker.TreeEntry{Path: e.Path, Type: e.Type, SHA: e.SHA})
	}
	return tree, nil
}

// GetRef resolves a fully-qualified ref like "heads/main" to a commit sha.
func (c *Client) GetRef(ctx context.Context, ref string) (string, error) {
	var raw struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := c.do(ctx, http.MethodGet, c.repoPath("/git/ref/%s", ref), nil, &raw); err != nil {
		return "", err
	}
	return raw.Object.SHA, nil
}

func (c *Client) GetFileContent(ctx context.Context, path, ref string) (string, error) {
	apiPath := c.repoPath("/contents/%s?ref=%s", escapePath(path), url.QueryEscape(ref))
	var raw struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := c.do(ctx, http.MethodGet, apiPath, nil, &raw); err != nil {
		return "", err
	}
	return decodeContent(raw.Content, raw.Encoding)
}

func (c *Client) GetBlob(ctx context.Context, sha string) (string, error) {
	var raw struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := c.do(ctx, http.MethodGet, c.repoPath("/git/blobs/%s", url.PathEscape(sha)), nil, &raw); err != nil {
		return "", err
	}
	return decodeContent(raw.Content, raw.Encoding)
}

// decodeContent handles the base64 blob payload. GitHub inserts newlines into
// the encoded text.
func decodeContent(content, encoding string) (string, error) {
	if encoding != "base64" {
		return content, nil
	}
	cleaned := strings.ReplaceAll(content, "\n", "")
	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return "", fmt.Errorf("decode blob content: %w", err)
	}
	return string(data), nil
}

// escapePath escapes each segment of a repo-relative path, keeping the
// slashes.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
