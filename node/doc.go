// Package node defines the contract every flow node implements and the
// built-in node kinds: the gating node (safety decision), the generating
// node (content plus optional tool requests), and the tool node (generic
// tool invocation with optional confirmation).
//
// Nodes never mutate instance state. They receive the visible history and a
// copy of their node-local state, and return a delta the engine applies
// after the invocation commits. The underlying language model is a black box
// behind the Completer interface.
package node
