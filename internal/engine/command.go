package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Command is a user-initiated operation routed through the engine loop so it
// executes serialized with event handling.
type Command interface {
	Name() string
	Execute(ctx context.Context, e *Engine) error
}

// BaseCommand carries the identity every command shares: a unique id, the
// issue time, and an optional trace span context propagated from the caller.
type BaseCommand struct {
	id       string
	issuedAt time.Time
	spanCtx  trace.SpanContext
}

// NewBaseCommand creates a BaseCommand with a fresh id.
func NewBaseCommand() BaseCommand {
	return BaseCommand{id: uuid.NewString(), issuedAt: time.Now()}
}

// NewBaseCommandFromContext creates a BaseCommand carrying the caller's span
// context, when ctx has one, so the command's execution log can be correlated
// with the originating trace.
func NewBaseCommandFromContext(ctx context.Context) BaseCommand {
	cmd := NewBaseCommand()
	cmd.spanCtx = trace.SpanContextFromContext(ctx)
	return cmd
}

// commandTraceID returns the command's correlation trace id, or "" when the
// command carries no valid span context.
func commandTraceID(cmd Command) string {
	tc, ok := cmd.(interface{ SpanContext() trace.SpanContext })
	if !ok {
		return ""
	}
	sc := tc.SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// CommandID returns the command's unique id.
func (c BaseCommand) CommandID() string { return c.id }

// IssuedAt returns when the command was created.
func (c BaseCommand) IssuedAt() time.Time { return c.issuedAt }

// SpanContext returns the propagated trace span context.
func (c BaseCommand) SpanContext() trace.SpanContext { return c.spanCtx }

// WithSpanContext attaches a trace span context for correlation.
func (c *BaseCommand) WithSpanContext(sc trace.SpanContext) { c.spanCtx = sc }

// DispatchImplementorCommand starts an implementor for a work item.
type DispatchImplementorCommand struct {
	BaseCommand
	WorkItemID int
}

func (c DispatchImplementorCommand) Name() string { return "dispatch-implementor" }

func (c DispatchImplementorCommand) Execute(ctx context.Context, e *Engine) error {
	return e.handleDispatchImplementor(ctx, c.WorkItemID)
}

// DispatchReviewerCommand starts a reviewer for a work item.
type DispatchReviewerCommand struct {
	BaseCommand
	WorkItemID int
}

func (c DispatchReviewerCommand) Name() string { return "dispatch-reviewer" }

func (c DispatchReviewerCommand) Execute(ctx context.Context, e *Engine) error {
	return e.handleDispatchReviewer(ctx, c.WorkItemID)
}

// CancelAgentCommand cancels the live session for a work item, if any.
type CancelAgentCommand struct {
	BaseCommand
	WorkItemID int
}

func (c CancelAgentCommand) Name() string { return "cancel-agent" }

func (c CancelAgentCommand) Execute(ctx context.Context, e *Engine) error {
	e.agents.CancelAgent(c.WorkItemID, "Cancelled by user")
	return nil
}

// CancelPlannerCommand cancels the live planner session, if any.
type CancelPlannerCommand struct {
	BaseCommand
}

func (c CancelPlannerCommand) Name() string { return "cancel-planner" }

func (c CancelPlannerCommand) Execute(ctx context.Context, e *Engine) error {
	e.agents.CancelPlanner("Cancelled by user")
	return nil
}

// ShutdownCommand begins the shutdown sequence. The sequence itself runs off
// the loop thread; the command returns immediately.
type ShutdownCommand struct {
	BaseCommand
}

func (c ShutdownCommand) Name() string { return "shutdown" }

func (c ShutdownCommand) Execute(ctx context.Context, e *Engine) error {
	go e.Shutdown()
	return nil
}
