package poller

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"foreman/internal/events"
	"foreman/internal/tracker"
)

func drainQueue(q *events.Queue) []events.Event {
	var out []events.Event
	for {
		event, ok := q.Dequeue()
		if !ok {
			return out
		}
		out = append(out, event)
	}
}

func issueWith(number int, labels ...string) tracker.Issue {
	return tracker.Issue{
		Number: number,
		Title:  "work item",
		Labels: append([]string{tracker.LabelTaskImplement}, labels...),
	}
}

func TestWorkItemPoller_FirstObservation(t *testing.T) {
	client := tracker.NewFakeClient()
	client.Issues = []tracker.Issue{issueWith(1, "status:pending")}
	queue := events.NewQueue()
	p := NewWorkItemPoller(client, queue)

	require.NoError(t, p.Poll(context.Background()))

	got := drainQueue(queue)
	require.Len(t, got, 1)
	require.Equal(t, events.WorkItemChanged, got[0].Type)
	require.Equal(t, 1, got[0].WorkItemID)
	require.Empty(t, got[0].OldStatus)
	require.Equal(t, tracker.StatusPending, got[0].NewStatus)

	item, ok := p.Get(1)
	require.True(t, ok)
	require.Equal(t, tracker.StatusPending, item.Status)
}

func TestWorkItemPoller_StatusTransition(t *testing.T) {
	client := tracker.NewFakeClient()
	client.Issues = []tracker.Issue{issueWith(7, "status:pending")}
	queue := events.NewQueue()
	p := NewWorkItemPoller(client, queue)

	require.NoError(t, p.Poll(context.Background()))
	drainQueue(queue)

	client.Issues = []tracker.Issue{issueWith(7, "status:unblocked")}
	require.NoError(t, p.Poll(context.Background()))

	got := drainQueue(queue)
	require.Len(t, got, 1)
	require.Equal(t, tracker.StatusPending, got[0].OldStatus)
	require.Equal(t, tracker.StatusUnblocked, got[0].NewStatus)
}

func TestWorkItemPoller_NoEventWhenOnlyBodyChanges(t *testing.T) {
	client := tracker.NewFakeClient()
	client.Issues = []tracker.Issue{issueWith(7, "status:pending")}
	queue := events.NewQueue()
	p := NewWorkItemPoller(client, queue)

	require.NoError(t, p.Poll(context.Background()))
	drainQueue(queue)

	client.Issues[0].Body = "edited description"
	require.NoError(t, p.Poll(context.Background()))

	require.Empty(t, drainQueue(queue))
	item, _ := p.Get(7)
	require.Equal(t, "edited description", item.Body)
}

func TestWorkItemPoller_Removal(t *testing.T) {
	client := tracker.NewFakeClient()
	client.Issues = []tracker.Issue{issueWith(3, "status:in-progress")}
	queue := events.NewQueue()
	p := NewWorkItemPoller(client, queue)

	require.NoError(t, p.Poll(context.Background()))
	drainQueue(queue)

	client.Issues = nil
	require.NoError(t, p.Poll(context.Background()))

	got := drainQueue(queue)
	require.Len(t, got, 1)
	require.Equal(t, 3, got[0].WorkItemID)
	require.Equal(t, tracker.StatusInProgress, got[0].OldStatus)
	require.Empty(t, got[0].NewStatus)

	_, ok := p.Get(3)
	require.False(t, ok)
	require.Zero(t, p.Count())
}

func TestWorkItemPoller_ErrorSkipsCycle(t *testing.T) {
	client := tracker.NewFakeClient()
	client.Issues = []tracker.Issue{issueWith(1, "status:pending")}
	queue := events.NewQueue()
	p := NewWorkItemPoller(client, queue)

	require.NoError(t, p.Poll(context.Background()))
	drainQueue(queue)

	client.ListOpenIssuesErr = errors.New("rate limited")
	require.Error(t, p.Poll(context.Background()))

	// Snapshot untouched, no removal event for item 1.
	require.Empty(t, drainQueue(queue))
	_, ok := p.Get(1)
	require.True(t, ok)
}

func TestWorkItemPoller_SyncStatusSuppressesDuplicate(t *testing.T) {
	client := tracker.NewFakeClient()
	client.Issues = []tracker.Issue{issueWith(42, "status:in-progress")}
	queue := events.NewQueue()
	p := NewWorkItemPoller(client, queue)

	require.NoError(t, p.Poll(context.Background()))
	drainQueue(queue)

	// Completion-dispatch moves the item to review and pre-syncs the snapshot.
	p.SyncStatus(42, tracker.StatusReview)
	client.Issues = []tracker.Issue{issueWith(42, "status:review")}
	require.NoError(t, p.Poll(context.Background()))

	require.Empty(t, drainQueue(queue))
}

func TestWorkItemPoller_PriorityAndComplexityChanges(t *testing.T) {
	client := tracker.NewFakeClient()
	client.Issues = []tracker.Issue{issueWith(5, "status:pending", "priority:high")}
	queue := events.NewQueue()
	p := NewWorkItemPoller(client, queue)

	require.NoError(t, p.Poll(context.Background()))
	drainQueue(queue)

	client.Issues = []tracker.Issue{issueWith(5, "status:pending", "priority:low", "complexity:complex")}
	require.NoError(t, p.Poll(context.Background()))

	got := drainQueue(queue)
	require.Len(t, got, 1)
	// Status did not change; the event still carries it on both sides.
	require.Equal(t, tracker.StatusPending, got[0].OldStatus)
	require.Equal(t, tracker.StatusPending, got[0].NewStatus)
	require.Equal(t, "low", got[0].WorkItem.Priority)
	require.Equal(t, "complex", got[0].WorkItem.Complexity)
}
