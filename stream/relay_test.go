package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateflow/gateflow/engine"
	"github.com/gateflow/gateflow/flow"
	"github.com/gateflow/gateflow/node"
	"github.com/gateflow/gateflow/store"
	"github.com/gateflow/gateflow/types"
)

const allowVerdict = `{"decision": "ALLOW", "rationale": "benign"}`

// newRelayServer wires a full engine behind a Relay and returns the test
// server plus a ready instance ID.
func newRelayServer(t *testing.T, completer node.Completer, confirmTimeout time.Duration) (*httptest.Server, string) {
	t.Helper()

	tools := node.NewToolSet()
	require.NoError(t, tools.Register(node.Tool{
		Name:                 "transfer_funds",
		Description:          "moves money between accounts",
		RequiresConfirmation: true,
		Execute: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "transferred", nil
		},
	}))

	registry := node.NewRegistry(nil)
	require.NoError(t, registry.RegisterBuiltins(completer, tools))

	mem := store.NewMemoryStore()
	stores := &store.Stores{Definitions: mem, Instances: mem, Checkpoints: mem}
	eng := engine.New(registry, stores, engine.Options{ConfirmationTimeout: confirmTimeout})

	def, err := flow.NewBuilder("relay-chat", registry.Routes()).
		AddNode("gate", node.KindGate, map[string]any{"policies": []any{"no secrets"}}).
		AddNode("respond", node.KindGenerate, map[string]any{}).
		AddNode("tools", node.KindTool, nil).
		SetEntry("gate").
		AddConditionalEdge("gate", "respond", types.DecisionAllow.Route()).
		AddConditionalEdge("gate", flow.End, types.DecisionBlock.Route()).
		AddEdge("gate", "respond").
		AddConditionalEdge("respond", "tools", types.RouteToolRequest).
		AddEdge("respond", flow.End).
		AddEdge("tools", flow.End).
		Build()
	require.NoError(t, err)
	require.NoError(t, eng.SaveDefinition(context.Background(), def))

	inst, err := eng.CreateInstance(context.Background(), def.ID, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(NewRelay(eng, nil))
	t.Cleanup(srv.Close)
	return srv, inst.ID
}

func dialRelay(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	return ws
}

// readFrames reads turn events until the terminal frame, feeding each to
// onFrame.
func readFrames(t *testing.T, ws *websocket.Conn, onFrame func(engine.TurnEvent)) []engine.TurnEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var frames []engine.TurnEvent
	for {
		var ev engine.TurnEvent
		require.NoError(t, wsjson.Read(ctx, ws, &ev))
		frames = append(frames, ev)
		if onFrame != nil {
			onFrame(ev)
		}
		if ev.Type == engine.EventTerminal {
			return frames
		}
	}
}

func TestRelay_StreamsTurn(t *testing.T) {
	t.Parallel()
	completer := node.NewScriptedCompleter(
		node.Completion{Content: allowVerdict},
		node.Completion{Content: "hello from the relay"},
	)
	srv, instanceID := newRelayServer(t, completer, 0)

	ws := dialRelay(t, srv)
	defer ws.Close(websocket.StatusNormalClosure, "done")

	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, ws, TurnRequest{InstanceID: instanceID, Input: "hi"}))

	frames := readFrames(t, ws, nil)
	terminal := frames[len(frames)-1]
	assert.Equal(t, flow.StatusCompleted, terminal.Status)

	var tokens []string
	sawRespond := false
	for _, ev := range frames {
		switch ev.Type {
		case engine.EventToken:
			if ev.NodeID == "respond" {
				tokens = append(tokens, ev.Token)
			}
		case engine.EventNodeComplete:
			if ev.NodeID == "respond" {
				sawRespond = true
			}
		}
	}
	assert.True(t, sawRespond)
	assert.Equal(t, "hello from the relay", strings.Join(tokens, ""))
}

func TestRelay_UnknownInstanceSendsErrorFrame(t *testing.T) {
	t.Parallel()
	srv, _ := newRelayServer(t, node.NewScriptedCompleter(), 0)

	ws := dialRelay(t, srv)
	defer ws.Close(websocket.StatusNormalClosure, "done")

	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, ws, TurnRequest{InstanceID: "missing", Input: "hi"}))

	var frame struct {
		Type  string          `json:"type"`
		Code  types.ErrorCode `json:"code"`
		Error string          `json:"error"`
	}
	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Read(readCtx, ws, &frame))
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, types.ErrNotFound, frame.Code)
}

func TestRelay_ConfirmationRoundTrip(t *testing.T) {
	t.Parallel()
	completer := node.NewScriptedCompleter(
		node.Completion{Content: allowVerdict},
		node.Completion{
			Content: "One transfer coming up.",
			ToolCalls: []types.ToolCall{
				{ID: "call-1", Name: "transfer_funds", Arguments: json.RawMessage(`{"amount": 5}`)},
			},
		},
	)
	srv, instanceID := newRelayServer(t, completer, 30*time.Second)

	ws := dialRelay(t, srv)
	defer ws.Close(websocket.StatusNormalClosure, "done")

	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, ws, TurnRequest{InstanceID: instanceID, Input: "move 5"}))

	confirmed := false
	frames := readFrames(t, ws, func(ev engine.TurnEvent) {
		if ev.Type == engine.EventConfirmationRequired {
			confirmed = true
			require.NotNil(t, ev.Invocation)
			writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			require.NoError(t, wsjson.Write(writeCtx, ws, Verdict{
				InvocationID: ev.Invocation.ID,
				Approve:      true,
			}))
		}
	})

	require.True(t, confirmed, "confirmation frame never arrived")
	terminal := frames[len(frames)-1]
	assert.Equal(t, flow.StatusCompleted, terminal.Status)

	executed := false
	for _, ev := range frames {
		if ev.Type == engine.EventNodeComplete && ev.NodeID == "tools" {
			assert.Equal(t, types.RouteExecuted, ev.Route)
			executed = true
		}
	}
	assert.True(t, executed)
}
