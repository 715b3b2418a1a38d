// Package engine wires the pollers, the agent manager, dispatch, and recovery
// into the single-consumer event loop, and owns startup and shutdown.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"foreman/internal/agent"
	"foreman/internal/agent/client"
	"foreman/internal/config"
	"foreman/internal/events"
	"foreman/internal/git"
	"foreman/internal/log"
	"foreman/internal/plannercache"
	"foreman/internal/poller"
	"foreman/internal/prompt"
	"foreman/internal/tracker"
	"foreman/internal/worktree"
)

// Options wires the Engine's external collaborators.
type Options struct {
	Config       config.Config
	Client       tracker.Client
	QueryFactory client.QueryFactory
	Git          git.Executor
	RepoRoot     string
}

// StartReport summarizes what Start observed.
type StartReport struct {
	WorkItemCount int
	Recoveries    int
}

// Engine is the root of the control plane. All state mutations are serialized
// through its event loop; pollers and session monitors are producers only.
type Engine struct {
	client   tracker.Client
	agents   *agent.Manager
	queue    *events.Queue
	emitter  *events.Emitter
	dispatch *Dispatch
	recovery *Recovery
	cache    *plannercache.Cache

	workPoller *poller.WorkItemPoller
	specPoller *poller.SpecPoller
	revPoller  *poller.RevisionPoller

	defaultBranch   string
	shutdownTimeout time.Duration
	workInterval    time.Duration
	specInterval    time.Duration
	revInterval     time.Duration

	ctx       context.Context
	cancelCtx context.CancelFunc

	commands     chan Command
	timersStop   chan struct{}
	timersOnce   sync.Once
	loopStop     chan struct{}
	loopDone     chan struct{}
	shutdownOnce sync.Once
	shuttingDown atomic.Bool

	mu                          sync.Mutex
	latestCommitDigest          string
	previousPlannerCommitDigest string
	pendingSnapshot             *plannercache.Snapshot
	pendingCommit               string
}

// New builds an Engine and all its internal subsystems from opts.
func New(opts Options) *Engine {
	cfg := opts.Config
	queue := events.NewQueue()

	e := &Engine{
		client:          opts.Client,
		queue:           queue,
		emitter:         events.NewEmitter(),
		defaultBranch:   cfg.SpecPoller.DefaultBranch,
		shutdownTimeout: cfg.ShutdownTimeoutDuration(),
		workInterval:    time.Duration(cfg.WorkItemPoller.PollInterval) * time.Second,
		specInterval:    time.Duration(cfg.SpecPoller.PollInterval) * time.Second,
		revInterval:     time.Duration(cfg.RevisionPoller.PollInterval) * time.Second,
		commands:        make(chan Command, 32),
		timersStop:      make(chan struct{}),
		loopStop:        make(chan struct{}),
		loopDone:        make(chan struct{}),
	}
	e.ctx, e.cancelCtx = context.WithCancel(context.Background())

	e.cache = plannercache.New(opts.RepoRoot + "/" + plannercache.DefaultFileName)
	e.workPoller = poller.NewWorkItemPoller(opts.Client, queue)
	e.specPoller = poller.NewSpecPoller(opts.Client, cfg.SpecPoller.SpecsDir, cfg.SpecPoller.DefaultBranch)
	e.revPoller = poller.NewRevisionPoller(opts.Client, poller.RevisionCallbacks{
		OnDetected: func(number int) {
			log.Info(log.CatPoller, "Revision detected", "revision", number)
		},
		OnRemoved: func(number int) {
			// A disappearing revision does not cancel its reviewer; the
			// session finishes and crash recovery settles the work item.
			log.Info(log.CatPoller, "Revision removed", "revision", number)
		},
	})

	worktrees := worktree.NewManager(opts.Git, opts.RepoRoot)
	e.agents = agent.NewManager(agent.Config{
		QueryFactory:     opts.QueryFactory,
		Worktrees:        worktrees,
		Queue:            queue,
		RepoRoot:         opts.RepoRoot,
		MaxAgentDuration: cfg.MaxAgentDurationDuration(),
		InstallCommand:   cfg.Agents.InstallCommand,
		LogsDir:          cfg.Logging.LogsDir,
		SessionLogging:   cfg.Logging.AgentSessions,
		PlannerAgent:     cfg.Agents.AgentPlanner,
		ImplementorAgent: cfg.Agents.AgentImplementor,
		ReviewerAgent:    cfg.Agents.AgentReviewer,
	})

	e.dispatch = NewDispatch(e.agents.PlannerRunning, e.dispatchPlanner, queue.Enqueue)
	e.recovery = NewRecovery(opts.Client, e.workPoller, e.agents.HasAgentFor, queue.Enqueue)

	// The internal handler is the first emitter subscriber, registered before
	// any poll runs.
	e.emitter.Subscribe(e.onEvent)
	return e
}

// Subscribe registers an external event observer. Returns its unsubscribe
// function.
func (e *Engine) Subscribe(h events.Handler) func() {
	return e.emitter.Subscribe(h)
}

// AgentStream returns a reader over a live session's output, or nil.
func (e *Engine) AgentStream(sessionID string) *agent.StreamReader {
	return e.agents.GetAgentStream(sessionID)
}

// Submit routes a command through the engine loop.
func (e *Engine) Submit(cmd Command) {
	e.commands <- cmd
}

// Start brings the engine up: cache resume, startup recovery, one awaited
// poll per poller, then periodic timers. The event loop runs until Shutdown.
func (e *Engine) Start(ctx context.Context) (StartReport, error) {
	if entry, err := e.cache.Load(); err == nil && entry != nil {
		e.specPoller.SetSnapshot(entry.Snapshot)
		e.mu.Lock()
		e.latestCommitDigest = entry.CommitDigest
		e.previousPlannerCommitDigest = entry.CommitDigest
		e.mu.Unlock()
		log.Info(log.CatEngine, "Resumed from planner cache",
			"files", len(entry.Snapshot.Files), "commitDigest", entry.CommitDigest)
	}

	log.SafeGo("engine-loop", e.loop)

	recoveries, err := e.recovery.Startup(ctx)
	if err != nil {
		log.ErrorErr(log.CatEngine, "Startup recovery failed", err)
		recoveries = 0
	}

	if err := e.workPoller.Poll(ctx); err != nil {
		log.Warn(log.CatEngine, "Initial work-item poll failed", "error", err.Error())
	}
	e.runSpecPoll(ctx)
	_ = e.revPoller.Poll(ctx)

	e.startTimer("work-item-poll-timer", e.workInterval, func(ctx context.Context) {
		_ = e.workPoller.Poll(ctx)
	})
	e.startTimer("spec-poll-timer", e.specInterval, e.runSpecPoll)
	e.startTimer("revision-poll-timer", e.revInterval, func(ctx context.Context) {
		_ = e.revPoller.Poll(ctx)
	})

	log.Info(log.CatEngine, "Engine started",
		"workItems", e.workPoller.Count(), "recoveries", recoveries)
	return StartReport{WorkItemCount: e.workPoller.Count(), Recoveries: recoveries}, nil
}

func (e *Engine) startTimer(name string, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	log.SafeGo(name, func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn(e.ctx)
			case <-e.timersStop:
				return
			}
		}
	})
}

func (e *Engine) stopTimers() {
	e.timersOnce.Do(func() { close(e.timersStop) })
}

// loop is the single consumer: one event at a time, handlers run to
// completion before the next dequeue.
func (e *Engine) loop() {
	defer close(e.loopDone)
	for {
		e.drainQueue()
		select {
		case <-e.queue.Signal():
		case cmd := <-e.commands:
			e.runCommand(cmd)
		case <-e.loopStop:
			e.drainQueue()
			return
		}
	}
}

func (e *Engine) drainQueue() {
	for {
		event, ok := e.queue.Dequeue()
		if !ok {
			return
		}
		e.emitter.Emit(event)
	}
}

func (e *Engine) runCommand(cmd Command) {
	fields := []any{"command", cmd.Name()}
	if traceID := commandTraceID(cmd); traceID != "" {
		fields = append(fields, "traceID", traceID)
	}
	log.Info(log.CatEngine, "Executing command", fields...)
	if err := cmd.Execute(e.ctx, e); err != nil {
		log.ErrorErr(log.CatEngine, "Command failed", err, "command", cmd.Name())
	}
}

// onEvent is the internal emitter subscriber: it runs on the loop thread for
// every dequeued event.
func (e *Engine) onEvent(event events.Event) {
	switch event.Type {
	case events.WorkItemChanged:
		e.onWorkItemChanged(event)
	case events.AgentCompleted:
		e.onAgentTerminal(event, true)
	case events.AgentFailed:
		e.onAgentTerminal(event, false)
	}
}

func (e *Engine) onWorkItemChanged(event events.Event) {
	id := event.WorkItemID

	if event.NewStatus == "" {
		// Removed from the tracked set; a running agent has nothing to land on.
		if e.agents.HasAgentFor(id) {
			e.agents.CancelAgent(id, "Work item removed")
		}
		return
	}
	if event.IsEngineTransition || event.IsRecovery || e.shuttingDown.Load() {
		return
	}

	switch {
	case event.NewStatus == tracker.StatusReview && event.OldStatus != "" && !e.agents.HasAgentFor(id):
		// Externally moved to review: somebody pushed work we did not schedule.
		_ = e.handleDispatchReviewer(e.ctx, id)
	case event.NewStatus == tracker.StatusUnblocked && !e.agents.HasAgentFor(id):
		_ = e.handleDispatchImplementor(e.ctx, id)
	}
}

func (e *Engine) onAgentTerminal(event events.Event, succeeded bool) {
	if event.Role == events.RolePlanner {
		if succeeded {
			e.persistPlannerCache()
		} else {
			e.clearPendingCache()
			e.dispatch.HandlePlannerFailed(event.SpecPaths)
		}
	}

	if event.Role == events.RoleImplementor && succeeded && event.WorkItemID > 0 && !e.shuttingDown.Load() {
		e.completionDispatch(e.ctx, event.WorkItemID)
	}

	if event.WorkItemID > 0 {
		e.recovery.OnTerminal(e.ctx, event.WorkItemID)
	}
}

// completionDispatch moves a work item whose implementor succeeded into
// review and hands it straight to a reviewer when a non-draft PR exists.
func (e *Engine) completionDispatch(ctx context.Context, workItemID int) {
	prs, err := e.client.ListOpenPullRequests(ctx)
	if err != nil {
		log.ErrorErr(log.CatEngine, "Completion dispatch skipped, PR lookup failed", err,
			"workItem", workItemID)
		return
	}
	pr := tracker.FindPullRequestForWorkItem(prs, workItemID, false)
	if pr == nil {
		log.Debug(log.CatEngine, "Completion dispatch: no non-draft PR", "workItem", workItemID)
		return
	}

	if err := e.client.SetStatusLabel(ctx, workItemID, tracker.StatusReview); err != nil {
		log.ErrorErr(log.CatEngine, "Completion dispatch skipped, label update failed", err,
			"workItem", workItemID)
		return
	}

	item, ok := e.workPoller.Get(workItemID)
	oldStatus := tracker.StatusInProgress
	if ok {
		oldStatus = item.Status
	}
	// Pre-sync so the next poll does not re-emit this transition.
	e.workPoller.SyncStatus(workItemID, tracker.StatusReview)
	item.Status = tracker.StatusReview
	item.ID = workItemID

	e.queue.Enqueue(events.Event{
		Type:               events.WorkItemChanged,
		Timestamp:          time.Now(),
		WorkItem:           &item,
		WorkItemID:         workItemID,
		OldStatus:          oldStatus,
		NewStatus:          tracker.StatusReview,
		IsEngineTransition: true,
	})

	promptText, err := e.buildReviewerPrompt(ctx, item, pr)
	if err != nil {
		log.ErrorErr(log.CatEngine, "Completion dispatch: reviewer context build failed", err,
			"workItem", workItemID)
		return
	}
	e.agents.DispatchReviewer(agent.ReviewerParams{
		WorkItemID:  workItemID,
		BranchName:  pr.HeadRef,
		FetchRemote: true,
		Prompt:      promptText,
	})
}

// runSpecPoll executes one spec-poll cycle and feeds the batch to dispatch.
func (e *Engine) runSpecPoll(ctx context.Context) {
	batch, err := e.specPoller.Poll(ctx)
	if err != nil {
		return
	}
	if batch.CommitDigest != "" {
		e.mu.Lock()
		e.latestCommitDigest = batch.CommitDigest
		e.mu.Unlock()
	}
	e.dispatch.HandleBatch(batch)
}

// dispatchPlanner captures the snapshot and commit digest that will become
// the cache entry if this run succeeds, then starts the planner.
func (e *Engine) dispatchPlanner(paths []string) {
	promptText, err := prompt.Planner(paths)
	if err != nil {
		log.ErrorErr(log.CatEngine, "Planner dispatch skipped, prompt build failed", err)
		return
	}

	snap := e.specPoller.Snapshot()
	e.mu.Lock()
	e.pendingSnapshot = &snap
	e.pendingCommit = e.latestCommitDigest
	e.mu.Unlock()

	e.agents.DispatchPlanner(agent.PlannerParams{SpecPaths: paths, Prompt: promptText})
}

// persistPlannerCache writes the snapshot captured at dispatch time. Only a
// successful planner run reaches here; a failed run leaves the previous cache
// untouched.
func (e *Engine) persistPlannerCache() {
	e.mu.Lock()
	snap := e.pendingSnapshot
	commit := e.pendingCommit
	e.pendingSnapshot = nil
	e.pendingCommit = ""
	e.mu.Unlock()

	if snap == nil || commit == "" {
		log.Debug(log.CatEngine, "No pending snapshot to persist after planner run")
		return
	}
	if err := e.cache.Write(*snap, commit); err != nil {
		// Next planner run redoes the work.
		log.ErrorErr(log.CatCache, "Planner cache write failed", err)
		return
	}
	e.mu.Lock()
	e.previousPlannerCommitDigest = commit
	e.mu.Unlock()
}

func (e *Engine) clearPendingCache() {
	e.mu.Lock()
	e.pendingSnapshot = nil
	e.pendingCommit = ""
	e.mu.Unlock()
}

// Shutdown runs the shutdown sequence and blocks until the loop has drained:
// stop timers, switch the queue to rejecting (terminal agent events pass),
// give running sessions the grace period, force-cancel stragglers, drain.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		log.Info(log.CatEngine, "Shutdown initiated", "activeSessions", e.agents.ActiveCount())
		e.shuttingDown.Store(true)
		e.stopTimers()
		e.queue.SetRejecting(true, func(t events.Type) bool {
			return t == events.AgentCompleted || t == events.AgentFailed
		})

		if e.agents.ActiveCount() > 0 {
			deadline := time.NewTimer(e.shutdownTimeout)
			ticker := time.NewTicker(time.Second)
		wait:
			for e.agents.ActiveCount() > 0 {
				select {
				case <-ticker.C:
				case <-deadline.C:
					log.Warn(log.CatEngine, "Shutdown grace period elapsed, cancelling sessions",
						"activeSessions", e.agents.ActiveCount())
					e.agents.CancelAll("Shutdown")
					break wait
				}
			}
			ticker.Stop()
			deadline.Stop()
		}

		// Let the loop drain the terminal events before stopping it.
		for !e.queue.IsEmpty() {
			time.Sleep(10 * time.Millisecond)
		}
		close(e.loopStop)
		<-e.loopDone
		e.cancelCtx()
		log.Info(log.CatEngine, "Shutdown complete")
	})
}
