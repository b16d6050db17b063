// Package engine drives flow instances through their definitions one turn
// at a time: it invokes nodes via the node contract, streams tokens to
// observers, resolves conditional edges on each node's terminal result,
// suspends for tool confirmation, records checkpoints at node boundaries,
// and replays completed runs from a checkpoint under substituted parameters.
//
// One engine is constructed per process with injected stores and a node
// registry; there is no ambient global state. Many instances execute
// concurrently, but node execution within a single instance is strictly
// sequential and each instance has exactly one writer at a time.
package engine
