// Package events defines the domain events that flow through the engine's
// single-consumer loop, the synchronous Emitter that fans them out to
// subscribers, and the FIFO Queue that serializes them.
package events

import (
	"time"

	"foreman/internal/tracker"
)

// Type identifies the kind of event.
type Type string

const (
	// WorkItemChanged is emitted when a work item's status, priority, or
	// complexity changed, when it is first observed, or when it disappears.
	WorkItemChanged Type = "work_item_changed"
	// SpecChanged is emitted for every added or modified spec file.
	SpecChanged Type = "spec_changed"
	// AgentStarted is emitted once the agent SDK reports its session id.
	AgentStarted Type = "agent_started"
	// AgentCompleted is the successful terminal event of a session.
	AgentCompleted Type = "agent_completed"
	// AgentFailed is the failing terminal event of a session.
	AgentFailed Type = "agent_failed"
)

// AgentRole identifies which of the three agent classes a session runs.
type AgentRole string

const (
	RolePlanner     AgentRole = "planner"
	RoleImplementor AgentRole = "implementor"
	RoleReviewer    AgentRole = "reviewer"
)

// Event is the envelope for all domain events. Fields are populated per Type;
// unset fields hold zero values.
type Event struct {
	Type      Type
	Timestamp time.Time

	// WorkItemChanged fields. OldStatus "" means first observation,
	// NewStatus "" means the item disappeared from the tracked set.
	WorkItem           *tracker.WorkItem
	WorkItemID         int
	OldStatus          string
	NewStatus          string
	IsRecovery         bool
	IsEngineTransition bool

	// SpecChanged fields.
	SpecPath       string
	SpecStatus     string
	SpecChangeType string // "added" or "modified"

	// Agent session fields.
	Role        AgentRole
	SessionID   string
	SpecPaths   []string
	BranchName  string
	LogFilePath string
	Error       string
}

// IsTerminalAgentEvent reports whether the event finalizes an agent session.
// These are the only events allowed through the queue during shutdown drain.
func (e Event) IsTerminalAgentEvent() bool {
	return e.Type == AgentCompleted || e.Type == AgentFailed
}

// NewWorkItemChanged builds a WorkItemChanged event for a live work item.
func NewWorkItemChanged(item *tracker.WorkItem, oldStatus, newStatus string) Event {
	return Event{
		Type:       WorkItemChanged,
		Timestamp:  time.Now(),
		WorkItem:   item,
		WorkItemID: item.ID,
		OldStatus:  oldStatus,
		NewStatus:  newStatus,
	}
}

// NewWorkItemRemoved builds the removal event for a work item that left the
// tracked set.
func NewWorkItemRemoved(workItemID int, oldStatus string) Event {
	return Event{
		Type:       WorkItemChanged,
		Timestamp:  time.Now(),
		WorkItemID: workItemID,
		OldStatus:  oldStatus,
		NewStatus:  "",
	}
}
