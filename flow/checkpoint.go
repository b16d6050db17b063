package flow

import (
	"fmt"
	"time"

	"github.com/gateflow/gateflow/types"
)

// Checkpoint captures enough instance state at a node boundary to resume
// execution deterministically from that node: the message-history prefix the
// node saw, the per-node state snapshot, and the parameter overrides in
// effect. Replaying a checkpoint re-invokes the referenced node, so the
// snapshot is the state before that node ran; upstream nodes are never
// recomputed.
type Checkpoint struct {
	ID             string                 `json:"id"`
	InstanceID     string                 `json:"instance_id"`
	DefinitionID   string                 `json:"definition_id"`
	ExecutionIndex int                    `json:"execution_index"`
	NodeID         string                 `json:"node_id"`
	Turn           int                    `json:"turn"`
	Messages       []types.Message        `json:"messages"`
	State          NodeState              `json:"state,omitempty"`
	Overrides      Overrides              `json:"overrides,omitempty"`
	ToolLog        []types.ToolInvocation `json:"tool_log,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// CheckpointAt builds the checkpoint for the boundary of the referenced
// node-execution-log entry. It never mutates the instance.
func CheckpointAt(inst *FlowInstance, executionIndex int) (*Checkpoint, error) {
	if executionIndex < 0 || executionIndex >= len(inst.Executions) {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("instance %s has no node execution at index %d", inst.ID, executionIndex))
	}
	exec := inst.Executions[executionIndex]
	if exec.HistoryBefore > len(inst.Messages) {
		return nil, types.NewError(types.ErrInvalidState,
			fmt.Sprintf("execution log entry %d references history beyond instance messages", executionIndex))
	}

	// Tool invocations are mutated in place as they resolve, so entries
	// settled at or after this boundary are wound back to pending. Replaying
	// the node re-decides them. Entries requested at or after the boundary
	// did not exist when the node ran and are dropped outright; re-running
	// the flow requests them afresh.
	toolLog := make([]types.ToolInvocation, 0, len(inst.ToolLog))
	for _, inv := range inst.ToolLog {
		if !inv.RequestedAt.Before(exec.StartedAt) {
			continue
		}
		if inv.ResolvedAt != nil && !inv.ResolvedAt.Before(exec.StartedAt) {
			inv.Status = types.InvocationPending
			inv.Result = ""
			inv.Error = ""
			inv.ResolvedAt = nil
			inv.ExpiresAt = nil
		}
		toolLog = append(toolLog, inv)
	}

	return &Checkpoint{
		InstanceID:     inst.ID,
		DefinitionID:   inst.DefinitionID,
		ExecutionIndex: executionIndex,
		NodeID:         exec.NodeID,
		Turn:           exec.Turn,
		Messages:       append([]types.Message(nil), inst.Messages[:exec.HistoryBefore]...),
		State:          exec.StateBefore.Clone(),
		Overrides:      inst.Overrides.Clone(),
		ToolLog:        toolLog,
		CreatedAt:      time.Now(),
	}, nil
}

// Clone returns a deep copy of the checkpoint.
func (c *Checkpoint) Clone() *Checkpoint {
	out := *c
	out.Messages = append([]types.Message(nil), c.Messages...)
	out.State = c.State.Clone()
	out.Overrides = c.Overrides.Clone()
	out.ToolLog = append([]types.ToolInvocation(nil), c.ToolLog...)
	return &out
}
