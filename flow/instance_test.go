package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateflow/gateflow/types"
)

func TestNewInstance_Defaults(t *testing.T) {
	t.Parallel()
	inst := NewInstance("inst-1", "def-1", Overrides{"gate": {"model": "fast"}})
	assert.Equal(t, StatusCreated, inst.Status)
	assert.Equal(t, 0, inst.Turn)
	assert.Empty(t, inst.Messages)
	assert.Equal(t, "fast", inst.Overrides["gate"]["model"])
}

func TestEffectiveConfig_OverrideWins(t *testing.T) {
	t.Parallel()
	inst := NewInstance("inst-1", "def-1", Overrides{
		"gate": {"model": "strict", "threshold": 0.9},
	})
	spec := NodeSpec{ID: "gate", Kind: "gate", Config: map[string]any{
		"model":    "base",
		"policies": []any{"p1"},
	}}

	cfg := inst.EffectiveConfig(spec)
	assert.Equal(t, "strict", cfg["model"])
	assert.Equal(t, 0.9, cfg["threshold"])
	assert.Equal(t, []any{"p1"}, cfg["policies"])

	// The merged view never leaks back into the definition.
	assert.Equal(t, "base", spec.Config["model"])
}

func TestEffectiveConfig_NoOverride(t *testing.T) {
	t.Parallel()
	inst := NewInstance("inst-1", "def-1", nil)
	spec := NodeSpec{ID: "respond", Config: map[string]any{"model": "base"}}
	cfg := inst.EffectiveConfig(spec)
	assert.Equal(t, "base", cfg["model"])
}

func TestInstanceClone_IsDeep(t *testing.T) {
	t.Parallel()
	now := time.Now()
	inst := NewInstance("inst-1", "def-1", Overrides{"gate": {"k": "v"}})
	inst.Messages = []types.Message{types.NewUserMessage("hi")}
	inst.State = NodeState{"gate": {"count": 1}}
	inst.Executions = []NodeExecution{{Index: 0, NodeID: "gate", StateBefore: NodeState{"gate": {"count": 0}}}}
	inst.ToolLog = []types.ToolInvocation{{ID: "inv-1", ToolName: "echo", Status: types.InvocationPending, RequestedAt: now}}
	inst.Pending = &inst.ToolLog[0]

	clone := inst.Clone()
	require.Equal(t, inst.ID, clone.ID)
	require.Len(t, clone.Messages, 1)

	clone.Messages[0].Content = "changed"
	clone.State["gate"]["count"] = 99
	clone.Overrides["gate"]["k"] = "other"
	clone.ToolLog[0].Status = types.InvocationExecuted
	clone.Pending.ID = "inv-2"

	assert.Equal(t, "hi", inst.Messages[0].Content)
	assert.Equal(t, 1, inst.State["gate"]["count"])
	assert.Equal(t, "v", inst.Overrides["gate"]["k"])
	assert.Equal(t, types.InvocationPending, inst.ToolLog[0].Status)
	assert.Equal(t, "inv-1", inst.Pending.ID)
}

func TestCheckpointAt_SnapshotsPreNodeState(t *testing.T) {
	t.Parallel()
	inst := NewInstance("inst-1", "def-1", Overrides{"respond": {"model": "base"}})
	inst.Messages = []types.Message{
		types.NewUserMessage("hi"),
		types.NewAssistantMessage("allowed"),
		types.NewAssistantMessage("hello there"),
	}
	inst.Turn = 1
	inst.Executions = []NodeExecution{
		{Index: 0, Turn: 1, NodeID: "gate", Route: "ALLOW", HistoryBefore: 1, HistoryAfter: 2},
		{Index: 1, Turn: 1, NodeID: "respond", Route: types.RouteDone, HistoryBefore: 2, HistoryAfter: 3,
			StateBefore: NodeState{"gate": {"last_decision": "ALLOW"}}},
	}

	cp, err := CheckpointAt(inst, 1)
	require.NoError(t, err)
	assert.Equal(t, "respond", cp.NodeID)
	assert.Equal(t, 1, cp.ExecutionIndex)
	assert.Equal(t, 1, cp.Turn)
	// Only the history the node saw, not what it appended.
	require.Len(t, cp.Messages, 2)
	assert.Equal(t, "allowed", cp.Messages[1].Content)
	assert.Equal(t, "ALLOW", cp.State["gate"]["last_decision"])
	assert.Equal(t, "base", cp.Overrides["respond"]["model"])
}

func TestCheckpointAt_IndexOutOfRange(t *testing.T) {
	t.Parallel()
	inst := NewInstance("inst-1", "def-1", nil)
	_, err := CheckpointAt(inst, 0)
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))

	inst.Executions = []NodeExecution{{Index: 0}}
	_, err = CheckpointAt(inst, -1)
	require.Error(t, err)
	_, err = CheckpointAt(inst, 1)
	require.Error(t, err)
}

func TestCheckpointAt_RewindsToolLog(t *testing.T) {
	t.Parallel()
	boundary := time.Now()
	before := boundary.Add(-time.Minute)
	after := boundary.Add(time.Minute)

	inst := NewInstance("inst-1", "def-1", nil)
	inst.Messages = []types.Message{types.NewUserMessage("run it")}
	inst.Executions = []NodeExecution{
		{Index: 0, NodeID: "tools", HistoryBefore: 1, StartedAt: boundary},
	}
	inst.ToolLog = []types.ToolInvocation{
		{ID: "old", ToolName: "echo", Status: types.InvocationExecuted, Result: "done", RequestedAt: before, ResolvedAt: &before},
		{ID: "new", ToolName: "echo", Status: types.InvocationExecuted, Result: "done", RequestedAt: before, ResolvedAt: &after},
	}

	cp, err := CheckpointAt(inst, 0)
	require.NoError(t, err)
	require.Len(t, cp.ToolLog, 2)

	// Settled before the boundary stays settled; settled after is wound back.
	assert.Equal(t, types.InvocationExecuted, cp.ToolLog[0].Status)
	assert.Equal(t, types.InvocationPending, cp.ToolLog[1].Status)
	assert.Empty(t, cp.ToolLog[1].Result)
	assert.Nil(t, cp.ToolLog[1].ResolvedAt)

	// The source instance is untouched.
	assert.Equal(t, types.InvocationExecuted, inst.ToolLog[1].Status)
}

func TestCheckpointAt_DropsLaterRequestedInvocations(t *testing.T) {
	t.Parallel()
	boundary := time.Now()
	before := boundary.Add(-time.Minute)
	after := boundary.Add(time.Minute)
	later := boundary.Add(2 * time.Minute)

	inst := NewInstance("inst-1", "def-1", nil)
	inst.Messages = []types.Message{types.NewUserMessage("hi")}
	inst.Executions = []NodeExecution{
		{Index: 0, NodeID: "gate", HistoryBefore: 1, StartedAt: boundary},
	}
	inst.ToolLog = []types.ToolInvocation{
		{ID: "old", ToolName: "echo", Status: types.InvocationExecuted, RequestedAt: before, ResolvedAt: &before},
		{ID: "new", ToolName: "echo", Status: types.InvocationExecuted, RequestedAt: after, ResolvedAt: &later},
	}

	cp, err := CheckpointAt(inst, 0)
	require.NoError(t, err)

	// An invocation requested after this boundary did not exist when the
	// node ran; the snapshot carries only what the node could have seen.
	require.Len(t, cp.ToolLog, 1)
	assert.Equal(t, "old", cp.ToolLog[0].ID)
	assert.Equal(t, types.InvocationExecuted, cp.ToolLog[0].Status)
}
