// Package prompt assembles the prompts for the three agent roles. Templates
// are deliberately plain text: the agents receive tracker context, never
// instructions derived from agent output.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"foreman/internal/tracker"
)

var plannerTmpl = template.Must(template.New("planner").Parse(
	`You are the planner. The following spec files were approved:
{{range .SpecPaths}}  - {{.}}
{{end}}
Read each spec, break the work into implementable issues, and file them on the
tracker with the task:implement label, a status:pending label, and priority and
complexity labels where you can judge them. Reference blocking issues in the
issue body. Do not start implementing.
`))

var implementorTmpl = template.Must(template.New("implementor").Parse(
	`You are the implementor for issue #{{.Item.ID}}: {{.Item.Title}}

{{.Item.Body}}
{{if .HasPR}}
An open pull request already exists for this issue: {{.PR.Title}} ({{.PR.URL}})
CI status: {{.CIStatus}}
Changed files:
{{range .Files}}  - {{.Filename}} (+{{.Additions}}/-{{.Deletions}})
{{end}}{{if .Reviews}}Review feedback to address:
{{range .Reviews}}--- {{.Author}} ({{.State}}):
{{.Body}}
{{end}}{{end}}Continue on the existing branch, address the feedback, and push your commits.
{{else}}
Implement the issue on the current branch. Commit as you go and open a pull
request whose description contains "Closes #{{.Item.ID}}" when you are done.
{{end}}`))

var reviewerTmpl = template.Must(template.New("reviewer").Parse(
	`You are the reviewer for issue #{{.Item.ID}}: {{.Item.Title}}

{{.Item.Body}}

Pull request under review: {{.PR.Title}} ({{.PR.URL}})
Changed files:
{{range .Files}}  - {{.Filename}} (+{{.Additions}}/-{{.Deletions}})
{{end}}{{if .Reviews}}Previous reviews:
{{range .Reviews}}--- {{.Author}} ({{.State}}):
{{.Body}}
{{end}}{{end}}
Check out the branch, verify the change against the issue, run the tests, and
submit a review. Approve only if the change fully resolves the issue.
`))

// Planner renders the planner prompt for a batch of approved spec paths.
func Planner(specPaths []string) (string, error) {
	var sb strings.Builder
	err := plannerTmpl.Execute(&sb, struct{ SpecPaths []string }{SpecPaths: specPaths})
	if err != nil {
		return "", fmt.Errorf("rendering planner prompt: %w", err)
	}
	return sb.String(), nil
}

type workItemContext struct {
	Item     tracker.WorkItem
	HasPR    bool
	PR       *tracker.PullRequest
	Files    []tracker.PullRequestFile
	Reviews  []tracker.Review
	CIStatus string
}

// Implementor renders the implementor prompt. pr and its companions are nil
// when no pull request exists for the work item yet.
func Implementor(item tracker.WorkItem, pr *tracker.PullRequest, files []tracker.PullRequestFile, reviews []tracker.Review, ciStatus string) (string, error) {
	if ciStatus == "" {
		ciStatus = "unknown"
	}
	ctx := workItemContext{
		Item:     item,
		HasPR:    pr != nil,
		PR:       pr,
		Files:    files,
		Reviews:  reviews,
		CIStatus: ciStatus,
	}
	var sb strings.Builder
	if err := implementorTmpl.Execute(&sb, ctx); err != nil {
		return "", fmt.Errorf("rendering implementor prompt: %w", err)
	}
	return sb.String(), nil
}

// Reviewer renders the reviewer prompt. A pull request is required.
func Reviewer(item tracker.WorkItem, pr *tracker.PullRequest, files []tracker.PullRequestFile, reviews []tracker.Review) (string, error) {
	if pr == nil {
		return "", fmt.Errorf("reviewer prompt requires a pull request")
	}
	ctx := workItemContext{Item: item, HasPR: true, PR: pr, Files: files, Reviews: reviews}
	var sb strings.Builder
	if err := reviewerTmpl.Execute(&sb, ctx); err != nil {
		return "", fmt.Errorf("rendering reviewer prompt: %w", err)
	}
	return sb.String(), nil
}
