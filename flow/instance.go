package flow

import (
	"time"

	"github.com/gateflow/gateflow/types"
)

// Status is the lifecycle state of a flow instance.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended_confirmation"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// NodeState is the agent-local state map, keyed by node ID.
type NodeState map[string]map[string]any

// Overrides carries per-node parameter overrides, keyed by node ID. Replay
// installs the substituted parameter here on the forked instance.
type Overrides map[string]map[string]any

// NodeExecution is one committed entry of the append-only node-execution
// log. HistoryBefore and StateBefore capture the inputs the node saw, which
// is exactly what a checkpoint at this boundary needs.
type NodeExecution struct {
	Index         int            `json:"index"`
	Turn          int            `json:"turn"`
	NodeID        string         `json:"node_id"`
	Route         string         `json:"route"`
	Decision      types.Decision `json:"decision,omitempty"`
	Rationale     string         `json:"rationale,omitempty"`
	HistoryBefore int            `json:"history_before"`
	HistoryAfter  int            `json:"history_after"`
	StateBefore   NodeState      `json:"state_before,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	DurationMs    int64          `json:"duration_ms"`
	Error         string         `json:"error,omitempty"`
}

// ErrorInfo records the failure that moved an instance to StatusError.
type ErrorInfo struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
	NodeID  string          `json:"node_id,omitempty"`
	Turn    int             `json:"turn"`
}

// FlowInstance is the mutable run-time record of one conversation's progress
// through a flow definition. Exactly one engine worker may mutate an
// instance at a time; readers receive deep copies.
type FlowInstance struct {
	ID           string                 `json:"id"`
	DefinitionID string                 `json:"definition_id"`
	CurrentNode  string                 `json:"current_node,omitempty"`
	Status       Status                 `json:"status"`
	Turn         int                    `json:"turn"`
	Messages     []types.Message        `json:"messages"`
	Executions   []NodeExecution        `json:"executions"`
	State        NodeState              `json:"state,omitempty"`
	ToolLog      []types.ToolInvocation `json:"tool_log,omitempty"`
	Overrides    Overrides              `json:"overrides,omitempty"`
	Pending      *types.ToolInvocation  `json:"pending,omitempty"`
	LastError    *ErrorInfo             `json:"last_error,omitempty"`
	ForkedFrom   string                 `json:"forked_from,omitempty"`
	ForkIndex    int                    `json:"fork_index,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// NewInstance creates a fresh instance bound to a definition.
func NewInstance(id, definitionID string, overrides Overrides) *FlowInstance {
	now := time.Now()
	return &FlowInstance{
		ID:           id,
		DefinitionID: definitionID,
		Status:       StatusCreated,
		State:        make(NodeState),
		Overrides:    overrides.Clone(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// EffectiveConfig merges a node's definition config with the instance's
// per-node override. Override keys win.
func (i *FlowInstance) EffectiveConfig(spec NodeSpec) map[string]any {
	cfg := cloneConfig(spec.Config)
	override := i.Overrides[spec.ID]
	if len(override) == 0 {
		return cfg
	}
	if cfg == nil {
		cfg = make(map[string]any, len(override))
	}
	for k, v := range override {
		cfg[k] = v
	}
	return cfg
}

// NodeStateFor returns a copy of the node-local state for the given node.
func (i *FlowInstance) NodeStateFor(nodeID string) map[string]any {
	return cloneConfig(i.State[nodeID])
}

// Clone returns a deep copy of the instance, safe for concurrent readers
// while the engine mutates the original.
func (i *FlowInstance) Clone() *FlowInstance {
	out := *i
	out.Messages = append([]types.Message(nil), i.Messages...)
	out.Executions = make([]NodeExecution, len(i.Executions))
	for idx, exec := range i.Executions {
		exec.StateBefore = exec.StateBefore.Clone()
		out.Executions[idx] = exec
	}
	out.State = i.State.Clone()
	out.ToolLog = append([]types.ToolInvocation(nil), i.ToolLog...)
	out.Overrides = i.Overrides.Clone()
	if i.Pending != nil {
		pending := *i.Pending
		out.Pending = &pending
	}
	if i.LastError != nil {
		lastErr := *i.LastError
		out.LastError = &lastErr
	}
	return &out
}

// Clone deep-copies the node state map.
func (s NodeState) Clone() NodeState {
	if s == nil {
		return nil
	}
	out := make(NodeState, len(s))
	for nodeID, state := range s {
		out[nodeID] = cloneConfig(state)
	}
	return out
}

// Clone deep-copies the overrides map.
func (o Overrides) Clone() Overrides {
	if o == nil {
		return nil
	}
	out := make(Overrides, len(o))
	for nodeID, cfg := range o {
		out[nodeID] = cloneConfig(cfg)
	}
	return out
}
