package stream

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/gateflow/gateflow/engine"
	"github.com/gateflow/gateflow/types"
)

// TurnRequest is the first frame a client sends after connecting.
type TurnRequest struct {
	InstanceID string `json:"instance_id"`
	Input      string `json:"input"`
}

// Verdict is a confirmation response frame sent by the client while the
// turn is suspended.
type Verdict struct {
	InvocationID string `json:"invocation_id"`
	Approve      bool   `json:"approve"`
}

// errorFrame is sent when the turn cannot be started or relayed.
type errorFrame struct {
	Type  string          `json:"type"`
	Code  types.ErrorCode `json:"code,omitempty"`
	Error string          `json:"error"`
}

// Relay serves one turn per WebSocket connection: it reads a TurnRequest,
// starts the turn, forwards every turn event as a JSON frame, and feeds
// Verdict frames back into the engine.
type Relay struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewRelay creates a relay over the given engine.
func NewRelay(eng *engine.Engine, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		engine: eng,
		logger: logger.With(zap.String("component", "stream_relay")),
	}
}

// ServeHTTP implements http.Handler.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := websocket.Accept(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	conn := NewConn(ws, r.logger)
	defer conn.Close()

	ctx := req.Context()

	var turnReq TurnRequest
	if err := conn.ReadJSON(ctx, &turnReq); err != nil {
		r.logger.Warn("invalid turn request", zap.Error(err))
		return
	}

	turn, err := r.engine.StartTurn(ctx, turnReq.InstanceID, turnReq.Input)
	if err != nil {
		_ = conn.WriteJSON(ctx, errorFrame{
			Type:  "error",
			Code:  types.GetErrorCode(err),
			Error: err.Error(),
		})
		return
	}

	// Verdict frames arrive asynchronously while events flow outward, so
	// reads get their own goroutine for the lifetime of the turn.
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go r.readVerdicts(readCtx, conn, turnReq.InstanceID)

	for ev := range turn.Events() {
		if err := conn.WriteJSON(ctx, ev); err != nil {
			r.logger.Warn("event relay write failed",
				zap.String("instance_id", turnReq.InstanceID),
				zap.Error(err),
			)
			return
		}
	}
}

// readVerdicts forwards confirmation verdicts until the connection or turn
// ends. Read errors terminate the loop; the turn itself is unaffected and
// times out on its own if nobody confirms.
func (r *Relay) readVerdicts(ctx context.Context, conn *Conn, instanceID string) {
	for {
		var v Verdict
		if err := conn.ReadJSON(ctx, &v); err != nil {
			return
		}
		if v.InvocationID == "" {
			continue
		}
		if err := r.engine.ConfirmTool(ctx, instanceID, v.InvocationID, v.Approve); err != nil {
			r.logger.Warn("confirmation verdict rejected",
				zap.String("instance_id", instanceID),
				zap.String("invocation_id", v.InvocationID),
				zap.Error(err),
			)
			_ = conn.WriteJSON(ctx, errorFrame{
				Type:  "error",
				Code:  types.GetErrorCode(err),
				Error: err.Error(),
			})
		}
	}
}
