package flow

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Reserved node markers. Start is the virtual source of the single entry
// edge; End is the terminal sink of a turn.
const (
	Start = "__start__"
	End   = "__end__"
)

// NodeSpec describes one node of a flow definition. Config is an opaque
// key/value map interpreted by the node kind.
type NodeSpec struct {
	ID     string         `json:"id" yaml:"id"`
	Kind   string         `json:"kind" yaml:"kind"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// EdgeSpec describes a directed edge. An empty Condition marks the edge as
// the unconditional fallback for its source node.
type EdgeSpec struct {
	From      string `json:"from" yaml:"from"`
	To        string `json:"to" yaml:"to"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// FlowDefinition is the immutable graph template a conversation runs
// against. Once validated it must not be mutated.
type FlowDefinition struct {
	ID        string              `json:"id" yaml:"id"`
	Name      string              `json:"name" yaml:"name"`
	Nodes     map[string]NodeSpec `json:"nodes" yaml:"nodes"`
	Edges     []EdgeSpec          `json:"edges" yaml:"edges"`
	CreatedAt time.Time           `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt time.Time           `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Entry returns the destination of the single Start edge.
func (d *FlowDefinition) Entry() (string, error) {
	for _, e := range d.Edges {
		if e.From == Start {
			return e.To, nil
		}
	}
	return "", fmt.Errorf("definition %s has no entry edge", d.ID)
}

// Node returns the node spec for the given ID. Specs authored as YAML map
// entries may omit the redundant id field; the map key fills it in.
func (d *FlowDefinition) Node(id string) (NodeSpec, bool) {
	spec, ok := d.Nodes[id]
	if ok && spec.ID == "" {
		spec.ID = id
	}
	return spec, ok
}

// OutgoingEdges returns the edges whose source is the given node, in
// definition order.
func (d *FlowDefinition) OutgoingEdges(nodeID string) []EdgeSpec {
	var out []EdgeSpec
	for _, e := range d.Edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// MarshalYAML-friendly round trips are part of the definition contract: flow
// files are authored in YAML and stored as JSON.

// ParseDefinition decodes a YAML flow definition document.
func ParseDefinition(data []byte) (*FlowDefinition, error) {
	var def FlowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse flow definition: %w", err)
	}
	if def.Nodes == nil {
		def.Nodes = make(map[string]NodeSpec)
	}
	return &def, nil
}

// EncodeDefinition encodes a flow definition as YAML.
func EncodeDefinition(def *FlowDefinition) ([]byte, error) {
	data, err := yaml.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("encode flow definition: %w", err)
	}
	return data, nil
}

// cloneConfig deep-copies an opaque config map through JSON. Configs are
// plain data by contract (they cross store boundaries), so JSON round trips
// are lossless enough for snapshot purposes.
func cloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		out := make(map[string]any, len(cfg))
		for k, v := range cfg {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		out = make(map[string]any, len(cfg))
		for k, v := range cfg {
			out[k] = v
		}
	}
	return out
}

// Clone returns a deep copy of the definition. Validated definitions are
// shared read-only; Clone exists for stores that hand copies to callers.
func (d *FlowDefinition) Clone() *FlowDefinition {
	out := &FlowDefinition{
		ID:        d.ID,
		Name:      d.Name,
		Nodes:     make(map[string]NodeSpec, len(d.Nodes)),
		Edges:     make([]EdgeSpec, len(d.Edges)),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for id, spec := range d.Nodes {
		spec.Config = cloneConfig(spec.Config)
		out.Nodes[id] = spec
	}
	copy(out.Edges, d.Edges)
	return out
}
