package node

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gateflow/gateflow/types"
)

// Tool is one executable tool. Tools flagged RequiresConfirmation are never
// executed until the pending invocation is approved externally.
type Tool struct {
	Name                 string
	Description          string
	RequiresConfirmation bool
	Execute              func(ctx context.Context, args json.RawMessage) (string, error)
}

// ToolSet is the registry of tools available to tool nodes. Registration
// happens at wiring time; lookups are concurrent-safe.
type ToolSet struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolSet creates an empty tool set.
func NewToolSet() *ToolSet {
	return &ToolSet{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool of the same name.
func (s *ToolSet) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if t.Execute == nil {
		return fmt.Errorf("tool %q has no execute function", t.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[t.Name] = t
	return nil
}

// Get returns the named tool.
func (s *ToolSet) Get(name string) (Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[name]
	return t, ok
}

// Names returns the registered tool names.
func (s *ToolSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	return names
}

// ToolNode executes the pending tool invocation carried by the request. The
// engine drives the invocation lifecycle: a pending invocation for a
// confirmation-required tool yields Result.Confirmation (the engine
// suspends); once the invocation arrives approved it executes; a rejected
// invocation routes to REJECTED without ever executing the tool.
type ToolNode struct {
	tools  *ToolSet
	logger *zap.Logger
}

// NewToolNode creates a tool node over the given tool set.
func NewToolNode(tools *ToolSet, logger *zap.Logger) *ToolNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolNode{
		tools:  tools,
		logger: logger.With(zap.String("component", "tool_node")),
	}
}

// Kind implements Node.
func (n *ToolNode) Kind() string { return KindTool }

// Run implements Node.
func (n *ToolNode) Run(ctx context.Context, req *Request) (*Result, error) {
	return n.Stream(ctx, req, nil)
}

// Stream implements Node. Tool nodes produce no token stream; the terminal
// result carries the tool output message.
func (n *ToolNode) Stream(ctx context.Context, req *Request, onToken TokenFunc) (*Result, error) {
	inv := req.Invocation
	if inv == nil {
		return nil, types.NewError(types.ErrNodeFatal,
			fmt.Sprintf("tool node %s invoked without a pending invocation", req.NodeID))
	}

	switch inv.Status {
	case types.InvocationRejected, types.InvocationExpired:
		n.logger.Info("tool invocation rejected",
			zap.String("invocation_id", inv.ID),
			zap.String("tool", inv.ToolName),
		)
		msg := types.NewToolMessage(inv.ID, inv.ToolName,
			fmt.Sprintf("tool %s was not executed: invocation %s", inv.ToolName, inv.Status)).
			WithNode(req.NodeID)
		return &Result{Route: types.RouteRejected, Messages: []types.Message{msg}, State: req.State}, nil

	case types.InvocationPending, types.InvocationApproved:
		// fall through to lookup below

	default:
		return nil, types.NewError(types.ErrInvalidState,
			fmt.Sprintf("invocation %s has unexpected status %s", inv.ID, inv.Status))
	}

	tool, ok := n.tools.Get(inv.ToolName)
	if !ok {
		return nil, types.NewError(types.ErrNodeFatal,
			fmt.Sprintf("unknown tool %q requested by node %s", inv.ToolName, req.NodeID))
	}

	if tool.RequiresConfirmation && inv.Status == types.InvocationPending {
		confirm := *inv
		confirm.Title = fmt.Sprintf("Confirm %s", tool.Name)
		confirm.Description = tool.Description
		return &Result{Confirmation: &confirm, State: req.State}, nil
	}

	output, err := tool.Execute(ctx, inv.Arguments)
	if err != nil {
		if types.IsRetryable(err) {
			return nil, err
		}
		return nil, types.NewError(types.ErrNodeFatal,
			fmt.Sprintf("tool %s failed", inv.ToolName)).WithCause(err)
	}

	n.logger.Debug("tool executed",
		zap.String("invocation_id", inv.ID),
		zap.String("tool", inv.ToolName),
	)

	msg := types.NewToolMessage(inv.ID, inv.ToolName, output).WithNode(req.NodeID)
	return &Result{Route: types.RouteExecuted, Messages: []types.Message{msg}, State: req.State}, nil
}
