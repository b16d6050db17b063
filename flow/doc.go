// Package flow defines the graph model for conversational flows: immutable
// flow definitions (nodes, conditional edges), run-time instance state, and
// checkpoint snapshots taken at node boundaries.
//
// A FlowDefinition is validated once and is then read-only; it may be shared
// freely across instances and workers. A FlowInstance is mutated only by the
// execution engine under a single-writer discipline.
package flow
