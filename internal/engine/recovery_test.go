package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"foreman/internal/events"
	"foreman/internal/poller"
	"foreman/internal/tracker"
)

type recoveryFixture struct {
	client   *tracker.FakeClient
	poller   *poller.WorkItemPoller
	recovery *Recovery
	hasAgent bool
	enqueued []events.Event
}

func newRecoveryFixture(t *testing.T) *recoveryFixture {
	t.Helper()
	f := &recoveryFixture{client: tracker.NewFakeClient()}
	f.poller = poller.NewWorkItemPoller(f.client, events.NewQueue())
	f.recovery = NewRecovery(f.client, f.poller,
		func(int) bool { return f.hasAgent },
		func(e events.Event) { f.enqueued = append(f.enqueued, e) },
	)
	return f
}

func TestStartupResetsOrphanedItems(t *testing.T) {
	f := newRecoveryFixture(t)
	f.client.Issues = []tracker.Issue{
		{Number: 1, Title: "stuck", Labels: []string{tracker.LabelTaskImplement, "status:in-progress"}},
		{Number: 2, Title: "not a work item", Labels: []string{"status:in-progress"}},
		{Number: 3, Title: "fine", Labels: []string{tracker.LabelTaskImplement, "status:pending"}},
	}

	count, err := f.recovery.Startup(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, tracker.StatusPending, f.client.StatusLabels[1])
	_, touched := f.client.StatusLabels[2]
	require.False(t, touched)

	require.Len(t, f.enqueued, 1)
	event := f.enqueued[0]
	require.Equal(t, events.WorkItemChanged, event.Type)
	require.Equal(t, 1, event.WorkItemID)
	require.Equal(t, tracker.StatusInProgress, event.OldStatus)
	require.Equal(t, tracker.StatusPending, event.NewStatus)
	require.True(t, event.IsRecovery)
}

func TestStartupListFailurePropagates(t *testing.T) {
	f := newRecoveryFixture(t)
	f.client.ListOpenIssuesErr = fmt.Errorf("tracker down")

	_, err := f.recovery.Startup(context.Background())
	require.ErrorContains(t, err, "tracker down")
	require.Empty(t, f.enqueued)
}

func (f *recoveryFixture) seedItem(t *testing.T, number int, status string) {
	t.Helper()
	f.client.Issues = []tracker.Issue{
		{Number: number, Title: "item", Labels: []string{tracker.LabelTaskImplement, "status:" + status}},
	}
	require.NoError(t, f.poller.Poll(context.Background()))
}

func TestOnTerminalResetsInProgressWithoutAgent(t *testing.T) {
	f := newRecoveryFixture(t)
	f.seedItem(t, 7, tracker.StatusInProgress)
	f.enqueued = nil

	f.recovery.OnTerminal(context.Background(), 7)

	require.Equal(t, tracker.StatusPending, f.client.StatusLabels[7])
	item, ok := f.poller.Get(7)
	require.True(t, ok)
	require.Equal(t, tracker.StatusPending, item.Status)

	require.Len(t, f.enqueued, 1)
	require.True(t, f.enqueued[0].IsRecovery)
	require.Equal(t, tracker.StatusPending, f.enqueued[0].NewStatus)
}

func TestOnTerminalSkipsWhenAgentRunning(t *testing.T) {
	f := newRecoveryFixture(t)
	f.seedItem(t, 7, tracker.StatusInProgress)
	f.enqueued = nil
	f.hasAgent = true

	f.recovery.OnTerminal(context.Background(), 7)
	require.Empty(t, f.client.StatusLabels)
	require.Empty(t, f.enqueued)
}

func TestOnTerminalSkipsNonInProgress(t *testing.T) {
	f := newRecoveryFixture(t)
	f.seedItem(t, 7, tracker.StatusReview)
	f.enqueued = nil

	f.recovery.OnTerminal(context.Background(), 7)
	require.Empty(t, f.client.StatusLabels)
	require.Empty(t, f.enqueued)
}

func TestOnTerminalUnknownItem(t *testing.T) {
	f := newRecoveryFixture(t)
	f.recovery.OnTerminal(context.Background(), 99)
	require.Empty(t, f.enqueued)
}
