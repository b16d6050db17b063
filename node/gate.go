package node

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/gateflow/gateflow/types"
)

// gateSystemPrompt frames the evaluation request. The policy set comes from
// node config and is appended verbatim.
const gateSystemPrompt = `You are a safety gate for a conversational system.
Evaluate the latest user input against the policies below and answer with a
single JSON object: {"decision": "ALLOW"|"CAUTION"|"BLOCK"|"NEEDS_CLARIFICATION",
"rationale": "<one sentence>", "reasoning": "<optional trace>"}.

Policies:
`

// GateNode evaluates a turn's input against a configured policy set and
// produces a Decision with a natural-language rationale. Config keys:
//
//	policies []string  policy statements (required)
//	model    string    model identifier passed to the completer
//	system   string    replaces the default evaluation prompt preamble
type GateNode struct {
	completer Completer
	logger    *zap.Logger
}

// NewGateNode creates a gating node backed by the given completer.
func NewGateNode(completer Completer, logger *zap.Logger) *GateNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GateNode{
		completer: completer,
		logger:    logger.With(zap.String("component", "gate_node")),
	}
}

// Kind implements Node.
func (g *GateNode) Kind() string { return KindGate }

// Run implements Node.
func (g *GateNode) Run(ctx context.Context, req *Request) (*Result, error) {
	return g.Stream(ctx, req, nil)
}

// Stream implements Node. Tokens of the verdict are forwarded as they are
// generated; the decision is parsed from the terminal content.
func (g *GateNode) Stream(ctx context.Context, req *Request, onToken TokenFunc) (*Result, error) {
	policies := configStrings(req.Config, "policies")
	if len(policies) == 0 {
		// Policy-content load failure is fatal to the turn, never retried.
		return nil, types.NewError(types.ErrNodeFatal,
			fmt.Sprintf("gate node %s has no policies configured", req.NodeID))
	}

	system := configString(req.Config, "system", gateSystemPrompt)
	var sb strings.Builder
	sb.WriteString(system)
	for i, p := range policies {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, p)
	}

	completion, err := g.completer.StreamComplete(ctx, CompletionRequest{
		Model:    configString(req.Config, "model", ""),
		System:   sb.String(),
		Messages: req.History,
	}, onToken)
	if err != nil {
		return nil, err
	}

	verdict, err := parseVerdict(completion.Content)
	if err != nil {
		// A malformed verdict is an upstream formatting hiccup; retrying the
		// invocation usually clears it.
		return nil, types.NewError(types.ErrContentMalformed, err.Error()).WithRetryable(true)
	}

	g.logger.Debug("gate verdict",
		zap.String("node_id", req.NodeID),
		zap.String("decision", string(verdict.Decision)),
	)

	state := req.State
	if state == nil {
		state = make(map[string]any)
	}
	state["last_decision"] = string(verdict.Decision)
	state["evaluations"] = configInt(state, "evaluations", 0) + 1

	msg := types.NewAssistantMessage(verdict.Rationale).
		WithNode(req.NodeID).
		WithMetadata(map[string]any{
			"decision":  string(verdict.Decision),
			"reasoning": verdict.Reasoning,
		})

	return &Result{
		Route:     verdict.Decision.Route(),
		Decision:  verdict.Decision,
		Rationale: verdict.Rationale,
		Reasoning: verdict.Reasoning,
		Messages:  []types.Message{msg},
		State:     state,
	}, nil
}

// verdict is the structured gate output parsed from completion content.
type verdict struct {
	Decision  types.Decision `json:"decision"`
	Rationale string         `json:"rationale"`
	Reasoning string         `json:"reasoning,omitempty"`
}

// parseVerdict extracts the verdict JSON object from the completion content.
// Models occasionally wrap the object in prose, so parsing starts at the
// first brace and ends at its matching close.
func parseVerdict(content string) (*verdict, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no verdict object in gate output")
	}

	var v verdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("decode gate verdict: %w", err)
	}
	v.Decision = types.Decision(strings.ToUpper(string(v.Decision)))
	if !v.Decision.Valid() {
		return nil, fmt.Errorf("unknown gate decision %q", v.Decision)
	}
	return &v, nil
}
