package flow

import (
	"fmt"

	"github.com/gateflow/gateflow/types"
)

// ResolveNext selects the successor of currentNodeID for the given route
// label: first a conditional edge matching the label, then the node's
// unconditional fallback edge. The returned ID may be End.
//
// A missing edge is a definition error that Validate is required to catch;
// when it surfaces here the engine treats it as fatal rather than silently
// ending the turn.
func ResolveNext(def *FlowDefinition, currentNodeID, label string) (string, error) {
	edges := def.OutgoingEdges(currentNodeID)
	if len(edges) == 0 {
		return "", types.NewError(types.ErrDefinitionInvalid,
			fmt.Sprintf("node %q has no outgoing edges", currentNodeID))
	}

	fallback := ""
	hasFallback := false
	for _, e := range edges {
		if e.Condition == label && label != "" {
			return e.To, nil
		}
		if e.Condition == "" && !hasFallback {
			fallback = e.To
			hasFallback = true
		}
	}
	if hasFallback {
		return fallback, nil
	}
	return "", types.NewError(types.ErrDefinitionInvalid,
		fmt.Sprintf("node %q has no edge for label %q and no fallback", currentNodeID, label))
}
