package agent

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"foreman/internal/agent/client"
	"foreman/internal/events"
	"foreman/internal/git"
	"foreman/internal/worktree"
)

type scriptedQuery struct {
	msgs       chan client.Message
	interrupts atomic.Int32
}

func newScriptedQuery() *scriptedQuery {
	return &scriptedQuery{msgs: make(chan client.Message, 16)}
}

func (q *scriptedQuery) Messages() <-chan client.Message { return q.msgs }

func (q *scriptedQuery) Interrupt() error {
	q.interrupts.Add(1)
	return nil
}

func (q *scriptedQuery) send(msg client.Message) { q.msgs <- msg }
func (q *scriptedQuery) end()                    { close(q.msgs) }

func initMsg(sessionID string) client.Message {
	return client.Message{Type: client.TypeSystem, SubType: client.SubTypeInit, SessionID: sessionID}
}

func textMsg(text string) client.Message {
	return client.Message{
		Type: client.TypeAssistant,
		Message: &client.AssistantMessage{
			Content: []client.ContentBlock{{Type: "text", Text: text}},
		},
	}
}

func successMsg() client.Message {
	return client.Message{Type: client.TypeResult, SubType: client.SubTypeSuccess}
}

func errorMsg() client.Message {
	return client.Message{Type: client.TypeResult, SubType: client.SubTypeErrDuringExec}
}

type fixture struct {
	manager *Manager
	queue   *events.Queue
	exec    *git.FakeExecutor
	query   *scriptedQuery
	calls   atomic.Int32
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		queue: events.NewQueue(),
		exec:  git.NewFakeExecutor(root),
		query: newScriptedQuery(),
	}
	cfg := Config{
		QueryFactory: func(ctx context.Context, params client.QueryParams) (client.Query, error) {
			f.calls.Add(1)
			return f.query, nil
		},
		Worktrees: worktree.NewManager(f.exec, root),
		Queue:     f.queue,
		RepoRoot:  root,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.manager = NewManager(cfg)
	return f
}

// waitEvents drains the queue until at least n events have arrived.
func waitEvents(t *testing.T, q *events.Queue, n int) []events.Event {
	t.Helper()
	var out []events.Event
	require.Eventually(t, func() bool {
		for {
			event, ok := q.Dequeue()
			if !ok {
				break
			}
			out = append(out, event)
		}
		return len(out) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return out
}

func TestManager_ImplementorHappyPath(t *testing.T) {
	f := newFixture(t, nil)

	f.manager.DispatchImplementor(ImplementorParams{
		WorkItemID: 42,
		BranchName: "issue-42-123",
		BranchBase: "main",
		Prompt:     "implement it",
	})

	f.query.send(initMsg("sess-1"))
	f.query.send(textMsg("working on it"))
	f.query.send(successMsg())

	got := waitEvents(t, f.queue, 2)
	require.Equal(t, events.AgentStarted, got[0].Type)
	require.Equal(t, "sess-1", got[0].SessionID)
	require.Equal(t, 42, got[0].WorkItemID)
	require.Equal(t, events.RoleImplementor, got[0].Role)

	require.Equal(t, events.AgentCompleted, got[1].Type)
	require.Equal(t, "issue-42-123", got[1].BranchName)

	require.False(t, f.manager.HasAgentFor(42))
	// Working copy torn down after the terminal event.
	require.Eventually(t, func() bool {
		wts, _ := f.exec.ListWorktrees()
		return len(wts) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManager_AtMostOnePerWorkItem(t *testing.T) {
	f := newFixture(t, nil)

	f.manager.DispatchImplementor(ImplementorParams{WorkItemID: 7, BranchName: "issue-7", BranchBase: "main"})
	f.query.send(initMsg("sess-1"))
	waitEvents(t, f.queue, 1)

	// Second dispatch for the same work item is silently skipped.
	f.manager.DispatchReviewer(ReviewerParams{WorkItemID: 7, BranchName: "issue-7"})
	require.Equal(t, 1, f.manager.ActiveCount())
	require.Equal(t, int32(1), f.calls.Load())

	f.query.send(successMsg())
	waitEvents(t, f.queue, 1)
}

func TestManager_PlannerSkippedWhileRunning(t *testing.T) {
	f := newFixture(t, nil)

	f.manager.DispatchPlanner(PlannerParams{SpecPaths: []string{"docs/specs/a.md"}, Prompt: "plan"})
	f.query.send(initMsg("planner-1"))
	waitEvents(t, f.queue, 1)

	f.manager.DispatchPlanner(PlannerParams{SpecPaths: []string{"docs/specs/b.md"}, Prompt: "plan"})
	require.Equal(t, int32(1), f.calls.Load())
	require.True(t, f.manager.PlannerRunning())

	f.query.send(successMsg())
	got := waitEvents(t, f.queue, 1)
	require.Equal(t, events.AgentCompleted, got[0].Type)
	require.Equal(t, []string{"docs/specs/a.md"}, got[0].SpecPaths)
	require.False(t, f.manager.PlannerRunning())
}

func TestManager_InstallFailureEmitsFailedWithoutSession(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.InstallCommand = "exit 1"
	})

	f.manager.DispatchImplementor(ImplementorParams{WorkItemID: 9, BranchName: "issue-9", BranchBase: "main"})

	got := waitEvents(t, f.queue, 1)
	require.Equal(t, events.AgentFailed, got[0].Type)
	require.Empty(t, got[0].SessionID)
	require.Equal(t, "issue-9", got[0].BranchName)
	require.Contains(t, got[0].Error, "install failed")

	// The broken working copy was removed and the factory never ran.
	require.NotEmpty(t, f.exec.Removed)
	require.Zero(t, f.calls.Load())
	require.False(t, f.manager.HasAgentFor(9))
}

func TestManager_ErrorResultFails(t *testing.T) {
	f := newFixture(t, nil)

	f.manager.DispatchImplementor(ImplementorParams{WorkItemID: 3, BranchName: "issue-3", BranchBase: "main"})
	f.query.send(initMsg("sess-1"))
	f.query.send(errorMsg())

	got := waitEvents(t, f.queue, 2)
	require.Equal(t, events.AgentFailed, got[1].Type)
	require.Equal(t, "Agent session ended with error", got[1].Error)
}

func TestManager_StreamEndWithoutResultIsSuccess(t *testing.T) {
	f := newFixture(t, nil)

	f.manager.DispatchImplementor(ImplementorParams{WorkItemID: 4, BranchName: "issue-4", BranchBase: "main"})
	f.query.send(initMsg("sess-1"))
	waitEvents(t, f.queue, 1)

	f.query.end()
	got := waitEvents(t, f.queue, 1)
	require.Equal(t, events.AgentCompleted, got[0].Type)
}

func TestManager_CancelIgnoresLateResult(t *testing.T) {
	f := newFixture(t, nil)

	f.manager.DispatchImplementor(ImplementorParams{WorkItemID: 5, BranchName: "issue-5", BranchBase: "main"})
	f.query.send(initMsg("sess-1"))
	waitEvents(t, f.queue, 1)

	f.manager.CancelAgent(5, "Cancelled by user")
	got := waitEvents(t, f.queue, 1)
	require.Equal(t, events.AgentFailed, got[0].Type)
	require.Equal(t, "Cancelled by user", got[0].Error)
	require.Eventually(t, func() bool { return f.query.interrupts.Load() == 1 },
		time.Second, 5*time.Millisecond)

	// A result arriving after finalization is ignored.
	f.query.send(successMsg())
	f.query.end()
	time.Sleep(50 * time.Millisecond)
	require.True(t, f.queue.IsEmpty())
	require.False(t, f.manager.HasAgentFor(5))
}

func TestManager_CancelUnknownIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	f.manager.CancelAgent(99, "whatever")
	f.manager.CancelPlanner("whatever")
	require.True(t, f.queue.IsEmpty())
}

func TestManager_DeadlineTimeout(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.MaxAgentDuration = 50 * time.Millisecond
	})

	f.manager.DispatchImplementor(ImplementorParams{WorkItemID: 6, BranchName: "issue-6", BranchBase: "main"})
	f.query.send(initMsg("sess-1"))

	got := waitEvents(t, f.queue, 2)
	require.Equal(t, events.AgentFailed, got[1].Type)
	require.True(t, strings.Contains(got[1].Error, "exceeded max duration"), got[1].Error)

	f.query.end()
}

func TestManager_CancelAll(t *testing.T) {
	f := newFixture(t, nil)

	f.manager.DispatchPlanner(PlannerParams{SpecPaths: []string{"a.md"}, Prompt: "plan"})
	f.query.send(initMsg("planner-1"))
	waitEvents(t, f.queue, 1)

	f.manager.CancelAll("Shutdown")
	got := waitEvents(t, f.queue, 1)
	require.Equal(t, events.AgentFailed, got[0].Type)
	require.Equal(t, "Shutdown", got[0].Error)
	require.Zero(t, f.manager.ActiveCount())

	f.query.end()
}

func TestManager_GetAgentStream(t *testing.T) {
	f := newFixture(t, nil)

	require.Nil(t, f.manager.GetAgentStream("unknown"))

	f.manager.DispatchImplementor(ImplementorParams{WorkItemID: 8, BranchName: "issue-8", BranchBase: "main"})
	f.query.send(initMsg("sess-8"))
	f.query.send(textMsg("first"))
	waitEvents(t, f.queue, 1)

	reader := f.manager.GetAgentStream("sess-8")
	require.NotNil(t, reader)

	chunk, ok := reader.Next(context.Background())
	require.True(t, ok)
	require.Equal(t, "first", chunk)

	f.query.send(successMsg())
	waitEvents(t, f.queue, 1)

	// After completion the stream is closed and lookups return nil.
	_, ok = reader.Next(context.Background())
	require.False(t, ok)
	require.Nil(t, f.manager.GetAgentStream("sess-8"))
}

func TestManager_AgentNamesResolvePerRole(t *testing.T) {
	m := NewManager(Config{ImplementorAgent: "builder", ReviewerAgent: "critic"})
	require.Equal(t, "builder", m.agentName(events.RoleImplementor))
	require.Equal(t, "critic", m.agentName(events.RoleReviewer))
	// Unconfigured roles fall back to the role name.
	require.Equal(t, "planner", m.agentName(events.RolePlanner))
}

func TestManager_ConfiguredAgentNameReachesFactory(t *testing.T) {
	var gotName string
	f := newFixture(t, func(cfg *Config) {
		cfg.ImplementorAgent = "builder"
		inner := cfg.QueryFactory
		cfg.QueryFactory = func(ctx context.Context, params client.QueryParams) (client.Query, error) {
			gotName = params.AgentName
			return inner(ctx, params)
		}
	})

	f.manager.DispatchImplementor(ImplementorParams{WorkItemID: 12, BranchName: "issue-12", BranchBase: "main"})
	f.query.send(initMsg("sess-12"))
	waitEvents(t, f.queue, 1)

	require.Equal(t, "builder", gotName)
}

func TestManager_InitAfterFinishEmitsNoStartedEvent(t *testing.T) {
	f := newFixture(t, nil)

	s := f.manager.reserveWorkItem(events.RoleImplementor, 13, "issue-13")
	require.NotNil(t, s)
	f.manager.finishSession(s, false, "Cancelled before init", outcomeCancelled)
	f.manager.handleInit(s, "sess-late")

	got := waitEvents(t, f.queue, 1)
	require.Len(t, got, 1)
	require.Equal(t, events.AgentFailed, got[0].Type)
}

func TestManager_CancelDuringInitKeepsEventOrder(t *testing.T) {
	f := newFixture(t, nil)

	f.manager.DispatchImplementor(ImplementorParams{WorkItemID: 14, BranchName: "issue-14", BranchBase: "main"})
	go f.manager.CancelAgent(14, "Cancelled by user")
	f.query.send(initMsg("sess-14"))
	f.query.end()

	var got []events.Event
	require.Eventually(t, func() bool {
		for {
			event, ok := f.queue.Dequeue()
			if !ok {
				break
			}
			got = append(got, event)
		}
		for _, event := range got {
			if event.Type == events.AgentCompleted || event.Type == events.AgentFailed {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	started, terminal := -1, -1
	for i, event := range got {
		switch event.Type {
		case events.AgentStarted:
			started = i
		case events.AgentCompleted, events.AgentFailed:
			if terminal == -1 {
				terminal = i
			}
		}
	}
	// The started event may be skipped entirely, but it never trails the
	// terminal event.
	if started != -1 {
		require.Less(t, started, terminal)
	}
}
