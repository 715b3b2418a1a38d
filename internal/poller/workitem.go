package poller

import (
	"context"
	"sort"
	"sync"

	"foreman/internal/events"
	"foreman/internal/log"
	"foreman/internal/tracker"
)

// WorkItemPoller tracks open issues carrying the task:implement label and
// enqueues workItemChanged events when their scheduling-relevant labels
// change. The poller is the sole mutator of its snapshot except for
// SyncStatus, which exists so completion-dispatch can pre-apply a transition
// before the next poll observes it.
type WorkItemPoller struct {
	client tracker.Client
	queue  *events.Queue

	mu    sync.RWMutex
	items map[int]tracker.WorkItem
}

// NewWorkItemPoller creates a WorkItemPoller producing into queue.
func NewWorkItemPoller(client tracker.Client, queue *events.Queue) *WorkItemPoller {
	return &WorkItemPoller{
		client: client,
		queue:  queue,
		items:  make(map[int]tracker.WorkItem),
	}
}

// Poll fetches the tracked set and diffs it against the snapshot. A fetch
// error skips the cycle and leaves the snapshot untouched.
func (p *WorkItemPoller) Poll(ctx context.Context) error {
	issues, err := p.client.ListOpenIssuesByLabel(ctx, tracker.LabelTaskImplement)
	if err != nil {
		log.ErrorErr(log.CatPoller, "Work-item poll failed, skipping cycle", err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[int]bool, len(issues))
	for _, issue := range issues {
		item := tracker.WorkItemFromIssue(issue)
		seen[item.ID] = true

		old, exists := p.items[item.ID]
		p.items[item.ID] = item

		switch {
		case !exists:
			// First observation: oldStatus is null.
			p.queue.Enqueue(events.NewWorkItemChanged(&item, "", item.Status))
		case old.Status != item.Status || old.Priority != item.Priority || old.Complexity != item.Complexity:
			p.queue.Enqueue(events.NewWorkItemChanged(&item, old.Status, item.Status))
		}
	}

	// Items that disappeared from the tracked set.
	var removed []int
	for id := range p.items {
		if !seen[id] {
			removed = append(removed, id)
		}
	}
	sort.Ints(removed)
	for _, id := range removed {
		old := p.items[id]
		delete(p.items, id)
		p.queue.Enqueue(events.NewWorkItemRemoved(id, old.Status))
	}

	return nil
}

// Get returns the snapshot entry for a work item.
func (p *WorkItemPoller) Get(id int) (tracker.WorkItem, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	item, ok := p.items[id]
	return item, ok
}

// Count returns the number of tracked work items.
func (p *WorkItemPoller) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

// SyncStatus pre-applies a status transition to the snapshot so the next
// poll does not re-emit it as an external change. No event is enqueued.
func (p *WorkItemPoller) SyncStatus(id int, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if item, ok := p.items[id]; ok {
		item.Status = status
		p.items[id] = item
	}
}
