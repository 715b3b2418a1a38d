// Package client defines the surface of the AI agent SDK the core consumes:
// a query factory that spawns an agent and returns an async sequence of typed
// messages plus an interrupt handle. Concrete SDK bindings live outside the
// core; tests use scripted factories.
package client

import "context"

// QueryParams configures one agent run.
type QueryParams struct {
	// Prompt is the full assembled prompt for this run.
	Prompt string
	// AgentName selects the agent definition (planner, implementor, reviewer).
	AgentName string
	// WorkDir is the working directory the agent executes in.
	WorkDir string
	// Model optionally overrides the agent's default model.
	Model string
}

// Query is a running agent session handle.
type Query interface {
	// Messages returns the message stream. The channel is closed when the
	// underlying session ends, with or without a terminal result message.
	Messages() <-chan Message

	// Interrupt asks the agent to stop. Best effort; the message stream
	// still terminates through the usual path.
	Interrupt() error
}

// QueryFactory spawns an agent session. Cancelling ctx is the caller's
// cancellation primitive: implementations must terminate the message stream
// when ctx is done.
type QueryFactory func(ctx context.Context, params QueryParams) (Query, error)
