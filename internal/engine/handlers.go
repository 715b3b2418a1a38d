package engine

import (
	"context"
	"fmt"
	"time"

	"foreman/internal/agent"
	"foreman/internal/log"
	"foreman/internal/poller"
	"foreman/internal/prompt"
	"foreman/internal/tracker"
)

// modelForComplexity maps the complexity label to a model override.
// Unrecognized or absent complexity leaves the agent's default model.
func modelForComplexity(complexity string) string {
	switch complexity {
	case "simple":
		return "sonnet"
	case "complex":
		return "opus"
	default:
		return ""
	}
}

// implementorDispatchable lists the statuses an implementor may start from.
func implementorDispatchable(status string) bool {
	switch status {
	case tracker.StatusPending, tracker.StatusUnblocked, tracker.StatusNeedsChanges, tracker.StatusInProgress:
		return true
	default:
		return false
	}
}

// handleDispatchImplementor gates on the work item's status, chooses the
// branch strategy, and builds the prompt. Context-build failures skip the
// command; the user sees a log line, nothing else changes.
func (e *Engine) handleDispatchImplementor(ctx context.Context, workItemID int) error {
	item, ok := e.workPoller.Get(workItemID)
	if !ok {
		log.Info(log.CatEngine, "Implementor dispatch skipped, unknown work item", "workItem", workItemID)
		return nil
	}
	if !implementorDispatchable(item.Status) {
		log.Info(log.CatEngine, "Implementor dispatch skipped, status not eligible",
			"workItem", workItemID, "status", item.Status)
		return nil
	}

	prs, err := e.client.ListOpenPullRequests(ctx)
	if err != nil {
		log.ErrorErr(log.CatEngine, "Implementor dispatch skipped, PR lookup failed", err,
			"workItem", workItemID)
		return nil
	}

	params := agent.ImplementorParams{
		WorkItemID: workItemID,
		Model:      modelForComplexity(item.Complexity),
	}

	pr := tracker.FindPullRequestForWorkItem(prs, workItemID, true)
	if pr != nil {
		// Continue on the PR's branch as-is.
		params.BranchName = pr.HeadRef
	} else {
		// Fresh branch off the default branch.
		params.BranchName = fmt.Sprintf("issue-%d-%d", workItemID, time.Now().Unix())
		params.BranchBase = e.defaultBranch
	}

	promptText, err := e.buildImplementorPrompt(ctx, item, pr)
	if err != nil {
		log.ErrorErr(log.CatEngine, "Implementor dispatch skipped, context build failed", err,
			"workItem", workItemID)
		return nil
	}
	params.Prompt = promptText

	e.agents.DispatchImplementor(params)
	return nil
}

func (e *Engine) buildImplementorPrompt(ctx context.Context, item tracker.WorkItem, pr *tracker.PullRequest) (string, error) {
	if pr == nil {
		return prompt.Implementor(item, nil, nil, nil, "")
	}

	files, err := e.client.ListPullRequestFiles(ctx, pr.Number)
	if err != nil {
		return "", err
	}
	reviews, err := e.client.ListPullRequestReviews(ctx, pr.Number)
	if err != nil {
		return "", err
	}
	combined, err := e.client.GetCombinedStatus(ctx, pr.HeadSHA)
	if err != nil {
		return "", err
	}
	checks, err := e.client.ListCheckRuns(ctx, pr.HeadSHA)
	if err != nil {
		return "", err
	}
	ci := poller.DerivePipelineStatus(combined, checks)
	return prompt.Implementor(item, pr, files, reviews, string(ci))
}

// handleDispatchReviewer requires the item to be in review and a non-draft PR
// to exist. The checkout uses the fetch-then-attach strategy so the reviewer
// sees the pushed state.
func (e *Engine) handleDispatchReviewer(ctx context.Context, workItemID int) error {
	item, ok := e.workPoller.Get(workItemID)
	if !ok {
		log.Info(log.CatEngine, "Reviewer dispatch skipped, unknown work item", "workItem", workItemID)
		return nil
	}
	if item.Status != tracker.StatusReview {
		log.Info(log.CatEngine, "Reviewer dispatch skipped, status not review",
			"workItem", workItemID, "status", item.Status)
		return nil
	}

	prs, err := e.client.ListOpenPullRequests(ctx)
	if err != nil {
		log.ErrorErr(log.CatEngine, "Reviewer dispatch skipped, PR lookup failed", err,
			"workItem", workItemID)
		return nil
	}
	pr := tracker.FindPullRequestForWorkItem(prs, workItemID, false)
	if pr == nil {
		log.Info(log.CatEngine, "Reviewer dispatch skipped, no open non-draft PR", "workItem", workItemID)
		return nil
	}

	promptText, err := e.buildReviewerPrompt(ctx, item, pr)
	if err != nil {
		log.ErrorErr(log.CatEngine, "Reviewer dispatch skipped, context build failed", err,
			"workItem", workItemID)
		return nil
	}

	e.agents.DispatchReviewer(agent.ReviewerParams{
		WorkItemID:  workItemID,
		BranchName:  pr.HeadRef,
		FetchRemote: true,
		Prompt:      promptText,
	})
	return nil
}

func (e *Engine) buildReviewerPrompt(ctx context.Context, item tracker.WorkItem, pr *tracker.PullRequest) (string, error) {
	files, err := e.client.ListPullRequestFiles(ctx, pr.Number)
	if err != nil {
		return "", err
	}
	reviews, err := e.client.ListPullRequestReviews(ctx, pr.Number)
	if err != nil {
		return "", err
	}
	return prompt.Reviewer(item, pr, files, reviews)
}
