package engine

import (
	"context"
	"time"

	"foreman/internal/events"
	"foreman/internal/log"
	"foreman/internal/poller"
	"foreman/internal/tracker"
)

// Recovery resets orphaned in-progress work items, at startup and after every
// terminal agent event.
type Recovery struct {
	client     tracker.Client
	workPoller *poller.WorkItemPoller
	hasAgent   func(workItemID int) bool
	enqueue    func(events.Event)
}

// NewRecovery creates a Recovery.
func NewRecovery(client tracker.Client, workPoller *poller.WorkItemPoller, hasAgent func(int) bool, enqueue func(events.Event)) *Recovery {
	return &Recovery{client: client, workPoller: workPoller, hasAgent: hasAgent, enqueue: enqueue}
}

// Startup resets every open work item stuck in-progress from a previous run
// back to pending and returns the number of resets. Per-item failures are
// logged and skipped.
func (r *Recovery) Startup(ctx context.Context) (int, error) {
	issues, err := r.client.ListOpenIssuesByLabel(ctx, tracker.StatusLabel(tracker.StatusInProgress))
	if err != nil {
		return 0, err
	}

	count := 0
	for _, issue := range issues {
		if !tracker.HasLabel(issue.Labels, tracker.LabelTaskImplement) {
			continue
		}
		if err := r.client.SetStatusLabel(ctx, issue.Number, tracker.StatusPending); err != nil {
			log.ErrorErr(log.CatEngine, "Startup recovery failed to reset work item", err,
				"workItem", issue.Number)
			continue
		}
		item := tracker.WorkItemFromIssue(issue)
		item.Status = tracker.StatusPending
		r.enqueue(events.Event{
			Type:       events.WorkItemChanged,
			Timestamp:  time.Now(),
			WorkItem:   &item,
			WorkItemID: item.ID,
			OldStatus:  tracker.StatusInProgress,
			NewStatus:  tracker.StatusPending,
			IsRecovery: true,
		})
		count++
		log.Info(log.CatEngine, "Recovered orphaned work item", "workItem", issue.Number)
	}
	return count, nil
}

// OnTerminal runs crash recovery for one work item after its session ended.
// An item still marked in-progress with no agent running is reset to pending.
// Completion-dispatch pre-updates the snapshot before this runs, so a
// completed implementor that moved its item to review is never reset.
func (r *Recovery) OnTerminal(ctx context.Context, workItemID int) {
	item, ok := r.workPoller.Get(workItemID)
	if !ok || item.Status != tracker.StatusInProgress || r.hasAgent(workItemID) {
		return
	}

	if err := r.client.SetStatusLabel(ctx, workItemID, tracker.StatusPending); err != nil {
		log.ErrorErr(log.CatEngine, "Crash recovery failed to reset work item", err,
			"workItem", workItemID)
		return
	}
	r.workPoller.SyncStatus(workItemID, tracker.StatusPending)

	item.Status = tracker.StatusPending
	r.enqueue(events.Event{
		Type:       events.WorkItemChanged,
		Timestamp:  time.Now(),
		WorkItem:   &item,
		WorkItemID: workItemID,
		OldStatus:  tracker.StatusInProgress,
		NewStatus:  tracker.StatusPending,
		IsRecovery: true,
	})
	log.Info(log.CatEngine, "Reset orphaned in-progress work item", "workItem", workItemID)
}
