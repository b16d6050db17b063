package node

import (
	"context"

	"go.uber.org/zap"

	"github.com/gateflow/gateflow/types"
)

// GenerateNode produces assistant content for the turn and may emit tool
// invocation requests. Config keys:
//
//	model          string   model identifier passed to the completer
//	system         string   system prompt
//	temperature    float64  sampling temperature
//	max_tokens     int      completion token cap
//	history_tokens int      token budget for the visible history (0 = all)
//	encoding       string   tokenizer encoding for the budget window
type GenerateNode struct {
	completer Completer
	logger    *zap.Logger
}

// NewGenerateNode creates a generating node backed by the given completer.
func NewGenerateNode(completer Completer, logger *zap.Logger) *GenerateNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerateNode{
		completer: completer,
		logger:    logger.With(zap.String("component", "generate_node")),
	}
}

// Kind implements Node.
func (g *GenerateNode) Kind() string { return KindGenerate }

// Run implements Node.
func (g *GenerateNode) Run(ctx context.Context, req *Request) (*Result, error) {
	return g.Stream(ctx, req, nil)
}

// Stream implements Node.
func (g *GenerateNode) Stream(ctx context.Context, req *Request, onToken TokenFunc) (*Result, error) {
	history := req.History
	if budget := configInt(req.Config, "history_tokens", 0); budget > 0 {
		window, err := NewHistoryWindow(configString(req.Config, "encoding", DefaultEncoding), budget)
		if err != nil {
			return nil, types.NewError(types.ErrNodeFatal, err.Error()).WithCause(err)
		}
		history = window.Apply(history)
	}

	completion, err := g.completer.StreamComplete(ctx, CompletionRequest{
		Model:       configString(req.Config, "model", ""),
		System:      configString(req.Config, "system", ""),
		Messages:    history,
		Temperature: configFloat(req.Config, "temperature", 0),
		MaxTokens:   configInt(req.Config, "max_tokens", 0),
	}, onToken)
	if err != nil {
		return nil, err
	}

	msg := types.NewAssistantMessage(completion.Content).WithNode(req.NodeID)
	route := types.RouteDone
	if len(completion.ToolCalls) > 0 {
		msg = msg.WithToolCalls(completion.ToolCalls)
		route = types.RouteToolRequest
		g.logger.Debug("generation requested tools",
			zap.String("node_id", req.NodeID),
			zap.Int("tool_calls", len(completion.ToolCalls)),
		)
	}

	return &Result{
		Route:     route,
		Messages:  []types.Message{msg},
		ToolCalls: completion.ToolCalls,
		State:     req.State,
	}, nil
}
