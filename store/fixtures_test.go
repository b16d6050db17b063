package store

import (
	"time"

	"github.com/gateflow/gateflow/flow"
	"github.com/gateflow/gateflow/types"
)

func testDefinition(id string) *flow.FlowDefinition {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &flow.FlowDefinition{
		ID:   id,
		Name: "def-" + id,
		Nodes: map[string]flow.NodeSpec{
			"gate":    {ID: "gate", Kind: "gate", Config: map[string]any{"policies": []any{"p1"}}},
			"respond": {ID: "respond", Kind: "generate"},
		},
		Edges: []flow.EdgeSpec{
			{From: flow.Start, To: "gate"},
			{From: "gate", To: "respond", Condition: "ALLOW"},
			{From: "gate", To: flow.End},
			{From: "respond", To: flow.End},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testInstance(id, definitionID string) *flow.FlowInstance {
	inst := flow.NewInstance(id, definitionID, flow.Overrides{
		"respond": {"temperature": 0.5},
	})
	inst.Messages = []types.Message{
		types.NewUserMessage("hello"),
		types.NewAssistantMessage("hi").WithNode("respond"),
	}
	inst.State = flow.NodeState{"gate": {"evaluations": 1}}
	inst.Executions = []flow.NodeExecution{
		{Index: 0, Turn: 1, NodeID: "gate", Route: "ALLOW", StartedAt: time.Now().UTC()},
	}
	inst.ToolLog = []types.ToolInvocation{
		{ID: "inv-1", NodeID: "respond", ToolName: "echo", Status: types.InvocationPending, RequestedAt: time.Now().UTC()},
	}
	inst.Turn = 1
	return inst
}

func testCheckpoint(id, instanceID string, index int) *flow.Checkpoint {
	return &flow.Checkpoint{
		ID:             id,
		InstanceID:     instanceID,
		DefinitionID:   "def-1",
		ExecutionIndex: index,
		NodeID:         "respond",
		Turn:           1,
		Messages:       []types.Message{types.NewUserMessage("hello")},
		State:          flow.NodeState{"gate": {"evaluations": 1}},
		Overrides:      flow.Overrides{"respond": {"temperature": 0.5}},
		CreatedAt:      time.Now().UTC(),
	}
}
