package node

import (
	"context"

	"github.com/gateflow/gateflow/types"
)

// TokenFunc receives streamed output fragments in generation order.
type TokenFunc func(token string)

// Request carries everything a node invocation may read. The engine owns the
// instance; nodes see copies and must treat every field as read-only.
type Request struct {
	// InstanceID identifies the flow instance being executed.
	InstanceID string
	// NodeID is the definition node being invoked.
	NodeID string
	// Turn is the current turn index, used for error tagging.
	Turn int
	// Config is the effective node configuration (definition config merged
	// with any per-node override).
	Config map[string]any
	// History is the accumulated message history visible to this node.
	History []types.Message
	// State is a copy of this node's agent-local state.
	State map[string]any
	// Invocation is the pending tool invocation, set only for tool nodes.
	Invocation *types.ToolInvocation
}

// Result is the delta a node returns. The engine applies it: messages are
// appended to history, State replaces the node-local state, Route drives
// edge resolution, and a non-nil Confirmation suspends the turn.
type Result struct {
	// Route is the edge-condition label for resolving the next node.
	Route string
	// Decision is set by gating nodes, together with Rationale and an
	// optional Reasoning trace.
	Decision  types.Decision
	Rationale string
	Reasoning string
	// Messages are appended to the instance history.
	Messages []types.Message
	// State replaces the node-local state when non-nil.
	State map[string]any
	// ToolCalls are requested tool invocations (generating nodes).
	ToolCalls []types.ToolCall
	// Confirmation, when non-nil, signals the invocation requires external
	// approval before execution.
	Confirmation *types.ToolInvocation
}

// Node is the polymorphic contract every node kind implements.
//
// Stream must invoke onToken zero or more times, in generation order, before
// returning the terminal result. Run is the synchronous-result variant;
// implementations typically delegate to Stream with a nil token function.
type Node interface {
	Kind() string
	Run(ctx context.Context, req *Request) (*Result, error)
	Stream(ctx context.Context, req *Request, onToken TokenFunc) (*Result, error)
}
