package flow

import (
	"time"

	"github.com/google/uuid"
)

// Builder assembles a FlowDefinition with a fluent API and validates it on
// Build, so invalid graphs never escape construction.
type Builder struct {
	def    *FlowDefinition
	routes RouteSet
}

// NewBuilder creates a definition builder. The route set is the same one
// Validate uses; pass the node registry's declared routes.
func NewBuilder(name string, routes RouteSet) *Builder {
	return &Builder{
		def: &FlowDefinition{
			ID:    uuid.New().String(),
			Name:  name,
			Nodes: make(map[string]NodeSpec),
		},
		routes: routes,
	}
}

// WithID overrides the generated definition ID.
func (b *Builder) WithID(id string) *Builder {
	b.def.ID = id
	return b
}

// AddNode adds a node of the given kind.
func (b *Builder) AddNode(id, kind string, config map[string]any) *Builder {
	b.def.Nodes[id] = NodeSpec{ID: id, Kind: kind, Config: config}
	return b
}

// AddEdge adds an unconditional edge.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.def.Edges = append(b.def.Edges, EdgeSpec{From: from, To: to})
	return b
}

// AddConditionalEdge adds an edge taken when the source node produces the
// given route label.
func (b *Builder) AddConditionalEdge(from, to, condition string) *Builder {
	b.def.Edges = append(b.def.Edges, EdgeSpec{From: from, To: to, Condition: condition})
	return b
}

// SetEntry adds the single Start edge targeting the given node.
func (b *Builder) SetEntry(nodeID string) *Builder {
	b.def.Edges = append([]EdgeSpec{{From: Start, To: nodeID}}, b.def.Edges...)
	return b
}

// Build validates and returns the definition.
func (b *Builder) Build() (*FlowDefinition, error) {
	now := time.Now()
	b.def.CreatedAt = now
	b.def.UpdatedAt = now
	if err := Validate(b.def, b.routes); err != nil {
		return nil, err
	}
	return b.def, nil
}
