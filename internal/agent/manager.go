// Package agent manages the lifecycle of agent sessions: spawn, monitor,
// deadline timeout, cancellation, output fan-out, and working-copy cleanup.
package agent

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"foreman/internal/agent/client"
	"foreman/internal/events"
	"foreman/internal/log"
	"foreman/internal/worktree"
)

// DefaultMaxAgentDuration bounds a session's wall-clock runtime.
const DefaultMaxAgentDuration = 1800 * time.Second

// Config wires a Manager's collaborators.
type Config struct {
	QueryFactory     client.QueryFactory
	Worktrees        *worktree.Manager
	Queue            *events.Queue
	RepoRoot         string
	MaxAgentDuration time.Duration
	InstallCommand   string
	LogsDir          string
	SessionLogging   bool

	// Agent names passed to the SDK per role. Empty falls back to the
	// role name.
	PlannerAgent     string
	ImplementorAgent string
	ReviewerAgent    string
}

// ImplementorParams configures one implementor run.
type ImplementorParams struct {
	WorkItemID int
	BranchName string
	// BranchBase selects the fresh-branch strategy when set.
	BranchBase string
	// Model optionally overrides the agent's default model.
	Model  string
	Prompt string
}

// ReviewerParams configures one reviewer run.
type ReviewerParams struct {
	WorkItemID  int
	BranchName  string
	FetchRemote bool
	Prompt      string
}

// PlannerParams configures one planner run.
type PlannerParams struct {
	SpecPaths []string
	Prompt    string
}

// session tracks one running agent. All fields after construction are guarded
// by the Manager's mutex except the stream and session log, which have their
// own synchronization.
type session struct {
	role       events.AgentRole
	workItemID int
	specPaths  []string
	branchName string

	sessionID     string
	workDir       string
	removeWorkDir bool
	logFilePath   string
	startedAt     time.Time

	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
	query  client.Query
	stream *Stream
	slog   *sessionLog
	done   bool
}

// Manager owns all agent sessions. At most one session per work item across
// roles, and at most one planner.
type Manager struct {
	factory   client.QueryFactory
	worktrees *worktree.Manager
	queue     *events.Queue
	repoRoot  string

	maxDuration    time.Duration
	installCommand string
	logsDir        string
	sessionLogging bool
	agentNames     map[events.AgentRole]string

	mu          sync.Mutex
	byWorkItem  map[int]*session
	bySessionID map[string]*session
	planner     *session
}

// NewManager creates a Manager from cfg. Zero MaxAgentDuration falls back to
// the default.
func NewManager(cfg Config) *Manager {
	maxDuration := cfg.MaxAgentDuration
	if maxDuration <= 0 {
		maxDuration = DefaultMaxAgentDuration
	}
	return &Manager{
		factory:        cfg.QueryFactory,
		worktrees:      cfg.Worktrees,
		queue:          cfg.Queue,
		repoRoot:       cfg.RepoRoot,
		maxDuration:    maxDuration,
		installCommand: cfg.InstallCommand,
		logsDir:        cfg.LogsDir,
		sessionLogging: cfg.SessionLogging,
		agentNames: map[events.AgentRole]string{
			events.RolePlanner:     cfg.PlannerAgent,
			events.RoleImplementor: cfg.ImplementorAgent,
			events.RoleReviewer:    cfg.ReviewerAgent,
		},
		byWorkItem:  make(map[int]*session),
		bySessionID: make(map[string]*session),
	}
}

// agentName resolves the SDK agent name for a role.
func (m *Manager) agentName(role events.AgentRole) string {
	if name := m.agentNames[role]; name != "" {
		return name
	}
	return string(role)
}

// HasAgentFor reports whether a session is live for the work item.
func (m *Manager) HasAgentFor(workItemID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byWorkItem[workItemID]
	return ok
}

// PlannerRunning reports whether a planner session is live.
func (m *Manager) PlannerRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.planner != nil
}

// ActiveCount returns the number of live sessions including the planner.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := len(m.byWorkItem)
	if m.planner != nil {
		count++
	}
	return count
}

// GetAgentStream returns a new reader over the session's output, or nil when
// the session is unknown or already done.
func (m *Manager) GetAgentStream(sessionID string) *StreamReader {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.bySessionID[sessionID]
	if !ok || s.done {
		return nil
	}
	return s.stream.Reader()
}

// DispatchImplementor starts an implementor session for a work item. If a
// session is already live for that work item, the dispatch is skipped.
// Returns immediately; the session runs in the background.
func (m *Manager) DispatchImplementor(params ImplementorParams) {
	s := m.reserveWorkItem(events.RoleImplementor, params.WorkItemID, params.BranchName)
	if s == nil {
		return
	}
	log.SafeGo("implementor-session", func() {
		create := worktree.CreateParams{BranchName: params.BranchName, BranchBase: params.BranchBase}
		m.runWorkItemSession(s, create, params.Prompt, params.Model)
	})
}

// DispatchReviewer starts a reviewer session for a work item. Same
// at-most-one rule as DispatchImplementor.
func (m *Manager) DispatchReviewer(params ReviewerParams) {
	s := m.reserveWorkItem(events.RoleReviewer, params.WorkItemID, params.BranchName)
	if s == nil {
		return
	}
	log.SafeGo("reviewer-session", func() {
		create := worktree.CreateParams{BranchName: params.BranchName, FetchRemote: params.FetchRemote}
		m.runWorkItemSession(s, create, params.Prompt, "")
	})
}

// DispatchPlanner starts a planner session over the repo root. Skipped
// silently when a planner is already live.
func (m *Manager) DispatchPlanner(params PlannerParams) {
	m.mu.Lock()
	if m.planner != nil {
		m.mu.Unlock()
		log.Info(log.CatAgent, "Planner already running, skipping dispatch",
			"specPaths", strings.Join(params.SpecPaths, ","))
		return
	}
	s := newSession(events.RolePlanner, 0, "")
	s.specPaths = append([]string(nil), params.SpecPaths...)
	s.workDir = m.repoRoot
	m.planner = s
	m.mu.Unlock()

	log.Info(log.CatAgent, "Dispatching planner", "specPaths", strings.Join(params.SpecPaths, ","))
	log.SafeGo("planner-session", func() {
		m.spawnAndMonitor(s, params.Prompt, "")
	})
}

func (m *Manager) reserveWorkItem(role events.AgentRole, workItemID int, branchName string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byWorkItem[workItemID]; exists {
		log.Info(log.CatAgent, "Agent already running for work item, skipping dispatch",
			"workItem", workItemID, "role", string(role))
		return nil
	}
	s := newSession(role, workItemID, branchName)
	m.byWorkItem[workItemID] = s
	log.Info(log.CatAgent, "Dispatching agent", "workItem", workItemID, "role", string(role),
		"branch", branchName)
	return s
}

func newSession(role events.AgentRole, workItemID int, branchName string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		role:       role,
		workItemID: workItemID,
		branchName: branchName,
		startedAt:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
		stream:     NewStream(),
		slog:       &sessionLog{disabled: true},
	}
}

// runWorkItemSession creates the working copy, installs dependencies, and
// hands off to the shared spawn path.
func (m *Manager) runWorkItemSession(s *session, create worktree.CreateParams, prompt, model string) {
	path, err := m.worktrees.Create(s.ctx, create)
	if err != nil {
		m.finishSession(s, false, fmt.Sprintf("Failed to create working copy: %v", err), outcomeFailed)
		return
	}

	m.mu.Lock()
	s.workDir = path
	s.removeWorkDir = true
	m.mu.Unlock()

	if err := m.installDependencies(s.ctx, path); err != nil {
		log.ErrorErr(log.CatAgent, "Dependency install failed", err,
			"workItem", s.workItemID, "path", path)
		// Best-effort teardown before reporting failure.
		m.mu.Lock()
		s.removeWorkDir = false
		m.mu.Unlock()
		if rmErr := m.worktrees.RemoveByPath(path); rmErr != nil {
			log.Warn(log.CatWorktree, "Working copy removal failed", "path", path, "error", rmErr.Error())
		}
		m.finishSession(s, false, fmt.Sprintf("Dependency install failed: %v", err), outcomeFailed)
		return
	}

	m.spawnAndMonitor(s, prompt, model)
}

func (m *Manager) installDependencies(ctx context.Context, dir string) error {
	if m.installCommand == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", m.installCommand)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", m.installCommand, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// spawnAndMonitor starts the agent and consumes its message stream until a
// terminal result or stream end.
func (m *Manager) spawnAndMonitor(s *session, prompt, model string) {
	query, err := m.factory(s.ctx, client.QueryParams{
		Prompt:    prompt,
		AgentName: m.agentName(s.role),
		WorkDir:   s.workDir,
		Model:     model,
	})
	if err != nil {
		m.finishSession(s, false, fmt.Sprintf("Failed to start agent: %v", err), outcomeFailed)
		return
	}

	m.mu.Lock()
	if s.done {
		m.mu.Unlock()
		_ = query.Interrupt()
		return
	}
	s.query = query
	s.timer = time.AfterFunc(m.maxDuration, func() {
		m.cancelSession(s, fmt.Sprintf("Agent exceeded max duration of %ds", int(m.maxDuration.Seconds())))
	})
	m.mu.Unlock()

	m.monitor(s)
}

// monitor consumes the session's message stream. Exactly one goroutine per
// session. A stream that ends without a terminal result counts as success; a
// result arriving after finalization is ignored.
func (m *Manager) monitor(s *session) {
	for msg := range s.query.Messages() {
		switch {
		case msg.IsInit():
			m.handleInit(s, msg.SessionID)

		case msg.IsAssistant():
			if chunk := msg.TextChunk(); chunk != "" {
				s.stream.Publish(chunk)
				s.slog.Text(chunk)
			}
			for _, name := range msg.ToolNames() {
				s.slog.ToolUse(name)
			}

		case msg.IsSuccessResult():
			m.finishSession(s, true, "", outcomeCompleted)
			return

		case msg.IsErrorResult():
			m.finishSession(s, false, "Agent session ended with error", outcomeFailed)
			return

		default:
			log.Debug(log.CatAgent, "Unknown agent message", "type", msg.Type, "subtype", msg.SubType)
			s.slog.Unknown(msg.Type, msg.Raw)
		}
	}
	m.finishSession(s, true, "", outcomeCompleted)
}

func (m *Manager) handleInit(s *session, sessionID string) {
	m.mu.Lock()
	if s.done {
		m.mu.Unlock()
		return
	}
	s.sessionID = sessionID
	m.bySessionID[sessionID] = s

	if m.sessionLogging {
		s.slog = newSessionLog(m.logsDir, s.role, s.contextLabel())
	}
	s.logFilePath = s.slog.Path()
	event := events.Event{
		Type:        events.AgentStarted,
		Timestamp:   time.Now(),
		Role:        s.role,
		SessionID:   sessionID,
		WorkItemID:  s.workItemID,
		SpecPaths:   s.specPaths,
		BranchName:  s.branchName,
		LogFilePath: s.logFilePath,
	}
	// Enqueued under the lock: a concurrent finishSession must not get its
	// terminal event in ahead of the started event.
	m.queue.Enqueue(event)
	m.mu.Unlock()

	s.slog.Header(s.role, sessionID, s.contextLine(), s.startedAt)
	log.Info(log.CatAgent, "Agent session started", "sessionID", sessionID, "role", string(s.role))
}

func (s *session) contextLabel() string {
	if s.workItemID > 0 {
		return fmt.Sprintf("issue-%d", s.workItemID)
	}
	return ""
}

func (s *session) contextLine() string {
	if s.workItemID > 0 {
		return fmt.Sprintf("Work Item: #%d", s.workItemID)
	}
	if len(s.specPaths) > 0 {
		return "Specs: " + strings.Join(s.specPaths, ", ")
	}
	return ""
}

// Session outcomes written to the log footer.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
)

// finishSession finalizes a session exactly once: later calls are no-ops.
// It clears the deadline timer, unregisters the session, closes the output
// stream, writes the log footer, emits the terminal event, and schedules
// working-copy removal for implementor and reviewer sessions.
func (m *Manager) finishSession(s *session, succeeded bool, errMsg, outcome string) {
	m.mu.Lock()
	if s.done {
		m.mu.Unlock()
		return
	}
	s.done = true
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.sessionID != "" {
		delete(m.bySessionID, s.sessionID)
	}
	if s.role == events.RolePlanner {
		if m.planner == s {
			m.planner = nil
		}
	} else if m.byWorkItem[s.workItemID] == s {
		delete(m.byWorkItem, s.workItemID)
	}

	event := events.Event{
		Timestamp:   time.Now(),
		Role:        s.role,
		SessionID:   s.sessionID,
		WorkItemID:  s.workItemID,
		SpecPaths:   s.specPaths,
		BranchName:  s.branchName,
		LogFilePath: s.logFilePath,
	}
	removeDir := ""
	if s.removeWorkDir && s.workDir != "" {
		removeDir = s.workDir
	}
	slog := s.slog
	m.mu.Unlock()

	s.cancel()
	s.stream.Close()
	slog.Footer(outcome)

	if succeeded {
		event.Type = events.AgentCompleted
		log.Info(log.CatAgent, "Agent session completed",
			"sessionID", event.SessionID, "role", string(s.role), "workItem", s.workItemID)
	} else {
		event.Type = events.AgentFailed
		event.Error = errMsg
		log.Warn(log.CatAgent, "Agent session failed",
			"sessionID", event.SessionID, "role", string(s.role), "workItem", s.workItemID,
			"error", errMsg)
	}
	m.queue.Enqueue(event)

	if removeDir != "" {
		log.SafeGo("worktree-cleanup", func() {
			if err := m.worktrees.RemoveByPath(removeDir); err != nil {
				log.Warn(log.CatWorktree, "Working copy removal failed",
					"path", removeDir, "error", err.Error())
			}
		})
	}
}

// CancelAgent cancels the live session for a work item. Unknown or finished
// sessions are a no-op.
func (m *Manager) CancelAgent(workItemID int, reason string) {
	m.mu.Lock()
	s := m.byWorkItem[workItemID]
	m.mu.Unlock()
	if s == nil {
		return
	}
	m.cancelSession(s, reason)
}

// CancelPlanner cancels the live planner session, if any.
func (m *Manager) CancelPlanner(reason string) {
	m.mu.Lock()
	s := m.planner
	m.mu.Unlock()
	if s == nil {
		return
	}
	m.cancelSession(s, reason)
}

// CancelAll cancels every live session.
func (m *Manager) CancelAll(reason string) {
	m.mu.Lock()
	var all []*session
	for _, s := range m.byWorkItem {
		all = append(all, s)
	}
	if m.planner != nil {
		all = append(all, m.planner)
	}
	m.mu.Unlock()

	for _, s := range all {
		m.cancelSession(s, reason)
	}
}

func (m *Manager) cancelSession(s *session, reason string) {
	m.mu.Lock()
	if s.done {
		m.mu.Unlock()
		return
	}
	query := s.query
	m.mu.Unlock()

	s.cancel()
	if query != nil {
		// Best effort; the message stream still terminates through ctx.
		_ = query.Interrupt()
	}
	m.finishSession(s, false, reason, outcomeCancelled)
}
