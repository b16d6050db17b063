package types

// Decision is the structured outcome a gating node returns. Edge resolution
// keys on the decision's route label.
type Decision string

const (
	DecisionAllow              Decision = "ALLOW"
	DecisionCaution            Decision = "CAUTION"
	DecisionBlock              Decision = "BLOCK"
	DecisionNeedsClarification Decision = "NEEDS_CLARIFICATION"
)

// Route labels produced by non-gating node kinds.
const (
	RouteDone        = "DONE"
	RouteToolRequest = "TOOL_REQUEST"
	RouteExecuted    = "EXECUTED"
	RouteRejected    = "REJECTED"
)

// GateDecisions lists every decision value a gating node may legally produce.
// Edge-coverage validation uses this set.
func GateDecisions() []Decision {
	return []Decision{
		DecisionAllow,
		DecisionCaution,
		DecisionBlock,
		DecisionNeedsClarification,
	}
}

// Valid reports whether d is a known decision value.
func (d Decision) Valid() bool {
	switch d {
	case DecisionAllow, DecisionCaution, DecisionBlock, DecisionNeedsClarification:
		return true
	}
	return false
}

// Route returns the edge-condition label for the decision.
func (d Decision) Route() string {
	return string(d)
}
