package flow

import (
	"fmt"

	"github.com/gateflow/gateflow/types"
)

// RouteSet declares, per node kind, every route label that kind may legally
// produce. The node registry builds this set; validation uses it for
// edge-coverage checks so definition bugs never reach runtime.
type RouteSet map[string][]string

// Validate checks the structural invariants of a definition:
//
//   - exactly one entry edge from Start, and it must be unconditional
//   - every edge endpoint references an existing node (or Start/End)
//   - every node's kind is known to the route set
//   - every node covers all route labels its kind can produce, either with
//     conditional edges or with one unconditional fallback edge
//   - edge conditions name labels the source kind can actually produce
//   - the edge graph is acyclic, so any single turn terminates
//   - every node is reachable from the entry, and End is reachable
//
// A definition that passes Validate cannot produce a missing-edge routing
// error at runtime.
func Validate(def *FlowDefinition, routes RouteSet) error {
	if def == nil {
		return types.NewError(types.ErrDefinitionInvalid, "definition is nil")
	}
	if def.Name == "" {
		return invalid("definition has no name")
	}
	if len(def.Nodes) == 0 {
		return invalid("definition has no nodes")
	}

	for id, spec := range def.Nodes {
		if id == Start || id == End {
			return invalid(fmt.Sprintf("node id %q is reserved", id))
		}
		if spec.ID != "" && spec.ID != id {
			return invalid(fmt.Sprintf("node %q declares mismatched id %q", id, spec.ID))
		}
		if _, ok := routes[spec.Kind]; !ok {
			return invalid(fmt.Sprintf("node %q has unknown kind %q", id, spec.Kind))
		}
	}

	if err := validateEdges(def, routes); err != nil {
		return err
	}
	if err := detectCycles(def); err != nil {
		return err
	}
	return validateReachability(def)
}

func invalid(msg string) error {
	return types.NewError(types.ErrDefinitionInvalid, msg)
}

func validateEdges(def *FlowDefinition, routes RouteSet) error {
	entryCount := 0
	for _, e := range def.Edges {
		if e.From == Start {
			entryCount++
			if e.Condition != "" {
				return invalid("entry edge must be unconditional")
			}
		} else if _, ok := def.Nodes[e.From]; !ok {
			return invalid(fmt.Sprintf("edge source %q does not exist", e.From))
		}
		if e.To != End {
			if _, ok := def.Nodes[e.To]; !ok {
				return invalid(fmt.Sprintf("edge destination %q does not exist", e.To))
			}
		}
		if e.From == Start && e.To == End {
			return invalid("entry edge cannot target End directly")
		}
	}
	if entryCount == 0 {
		return invalid("definition has no entry edge from Start")
	}
	if entryCount > 1 {
		return invalid("definition has more than one entry edge from Start")
	}

	// Per-node coverage: every label the kind can produce routes somewhere,
	// or the node carries an unconditional fallback.
	for id, spec := range def.Nodes {
		labels := routes[spec.Kind]
		edges := def.OutgoingEdges(id)
		if len(edges) == 0 {
			return invalid(fmt.Sprintf("node %q has no outgoing edge", id))
		}

		seen := make(map[string]bool)
		fallback := false
		for _, e := range edges {
			if e.Condition == "" {
				if fallback {
					return invalid(fmt.Sprintf("node %q has multiple unconditional edges", id))
				}
				fallback = true
				continue
			}
			if !contains(labels, e.Condition) {
				return invalid(fmt.Sprintf("node %q has edge condition %q its kind %q cannot produce", id, e.Condition, spec.Kind))
			}
			if seen[e.Condition] {
				return invalid(fmt.Sprintf("node %q has duplicate edges for condition %q", id, e.Condition))
			}
			seen[e.Condition] = true
		}
		if fallback {
			continue
		}
		for _, label := range labels {
			if !seen[label] {
				return invalid(fmt.Sprintf("node %q does not cover label %q and has no fallback edge", id, label))
			}
		}
	}
	return nil
}

// detectCycles runs DFS over the node edges, treating End as a sink. A cycle
// would let a single turn run forever.
func detectCycles(def *FlowDefinition) error {
	visited := make(map[string]bool)
	inStack := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		if id == End {
			return nil
		}
		if inStack[id] {
			return invalid(fmt.Sprintf("cycle detected involving node %q", id))
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		inStack[id] = true
		for _, e := range def.OutgoingEdges(id) {
			if err := visit(e.To); err != nil {
				return err
			}
		}
		inStack[id] = false
		return nil
	}

	for id := range def.Nodes {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

func validateReachability(def *FlowDefinition) error {
	entry, err := def.Entry()
	if err != nil {
		return invalid(err.Error())
	}

	reachable := make(map[string]bool)
	endReachable := false
	var mark func(id string)
	mark = func(id string) {
		if id == End {
			endReachable = true
			return
		}
		if reachable[id] {
			return
		}
		reachable[id] = true
		for _, e := range def.OutgoingEdges(id) {
			mark(e.To)
		}
	}
	mark(entry)

	for id := range def.Nodes {
		if !reachable[id] {
			return invalid(fmt.Sprintf("node %q is not reachable from Start", id))
		}
	}
	if !endReachable {
		return invalid("End is not reachable from Start")
	}
	return nil
}

func contains(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
