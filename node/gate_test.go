package node

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateflow/gateflow/types"
)

func gateRequest(config map[string]any) *Request {
	if config == nil {
		config = map[string]any{"policies": []any{"no secrets", "no self-harm"}}
	}
	return &Request{
		InstanceID: "inst-1",
		NodeID:     "gate",
		Turn:       1,
		Config:     config,
		History:    []types.Message{types.NewUserMessage("hello")},
	}
}

func TestGateNode_AllowVerdict(t *testing.T) {
	t.Parallel()
	completer := NewScriptedCompleter(Completion{
		Content: `{"decision": "allow", "rationale": "benign greeting", "reasoning": "no policy applies"}`,
	})
	gate := NewGateNode(completer, nil)

	result, err := gate.Run(context.Background(), gateRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, types.DecisionAllow, result.Decision)
	assert.Equal(t, "ALLOW", result.Route)
	assert.Equal(t, "benign greeting", result.Rationale)
	assert.Equal(t, "no policy applies", result.Reasoning)

	require.Len(t, result.Messages, 1)
	assert.Equal(t, types.RoleAssistant, result.Messages[0].Role)
	assert.Equal(t, "gate", result.Messages[0].NodeID)

	assert.Equal(t, "ALLOW", result.State["last_decision"])
	assert.Equal(t, 1, result.State["evaluations"])
}

func TestGateNode_VerdictWrappedInProse(t *testing.T) {
	t.Parallel()
	completer := NewScriptedCompleter(Completion{
		Content: "Sure, here is my evaluation:\n{\"decision\": \"BLOCK\", \"rationale\": \"policy 1\"}\nDone.",
	})
	gate := NewGateNode(completer, nil)

	result, err := gate.Run(context.Background(), gateRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, types.DecisionBlock, result.Decision)
	assert.Equal(t, "BLOCK", result.Route)
}

func TestGateNode_AllDecisionsRoute(t *testing.T) {
	t.Parallel()
	for _, d := range types.GateDecisions() {
		d := d
		t.Run(string(d), func(t *testing.T) {
			t.Parallel()
			completer := NewScriptedCompleter(Completion{
				Content: `{"decision": "` + string(d) + `", "rationale": "r"}`,
			})
			gate := NewGateNode(completer, nil)
			result, err := gate.Run(context.Background(), gateRequest(nil))
			require.NoError(t, err)
			assert.Equal(t, d, result.Decision)
			assert.Equal(t, d.Route(), result.Route)
		})
	}
}

func TestGateNode_MalformedVerdictIsRetryable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
	}{
		{"no json object", "I cannot evaluate this."},
		{"broken json", `{"decision": "ALLOW", "rationale":`},
		{"unknown decision", `{"decision": "MAYBE", "rationale": "hedge"}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			completer := NewScriptedCompleter(Completion{Content: tt.content})
			gate := NewGateNode(completer, nil)
			_, err := gate.Run(context.Background(), gateRequest(nil))
			require.Error(t, err)
			assert.Equal(t, types.ErrContentMalformed, types.GetErrorCode(err))
			assert.True(t, types.IsRetryable(err))
		})
	}
}

func TestGateNode_MissingPoliciesIsFatal(t *testing.T) {
	t.Parallel()
	gate := NewGateNode(NewScriptedCompleter(), nil)
	_, err := gate.Run(context.Background(), gateRequest(map[string]any{}))
	require.Error(t, err)
	assert.Equal(t, types.ErrNodeFatal, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))
}

func TestGateNode_IncrementsEvaluations(t *testing.T) {
	t.Parallel()
	completer := NewScriptedCompleter(Completion{
		Content: `{"decision": "CAUTION", "rationale": "r"}`,
	})
	gate := NewGateNode(completer, nil)

	req := gateRequest(nil)
	req.State = map[string]any{"evaluations": 2, "last_decision": "ALLOW"}
	result, err := gate.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, result.State["evaluations"])
	assert.Equal(t, "CAUTION", result.State["last_decision"])
}
