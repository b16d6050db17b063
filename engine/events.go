package engine

import (
	"time"

	"github.com/gateflow/gateflow/flow"
	"github.com/gateflow/gateflow/types"
)

// EventType discriminates the events carried on a turn stream.
type EventType string

const (
	// EventToken is an incremental output fragment from a generating node.
	EventToken EventType = "token"
	// EventNodeComplete marks one node's terminal result within the turn.
	EventNodeComplete EventType = "node_complete"
	// EventConfirmationRequired announces a suspended tool invocation.
	EventConfirmationRequired EventType = "confirmation_required"
	// EventTerminal is the final event of every stream.
	EventTerminal EventType = "terminal"
)

// TurnEvent is a single entry on a turn's ordered event stream. Tokens
// produced by a node are always delivered before that node's
// EventNodeComplete, and EventTerminal is always last.
type TurnEvent struct {
	Type       EventType `json:"type"`
	InstanceID string    `json:"instance_id"`
	Turn       int       `json:"turn"`

	// NodeID identifies the emitting node for token and node_complete
	// events, and the suspended node for confirmation_required.
	NodeID string `json:"node_id,omitempty"`

	// Token carries the fragment for EventToken.
	Token string `json:"token,omitempty"`

	// Message, Route, Decision and Rationale describe a completed node.
	Message   *types.Message `json:"message,omitempty"`
	Route     string         `json:"route,omitempty"`
	Decision  types.Decision `json:"decision,omitempty"`
	Rationale string         `json:"rationale,omitempty"`

	// Invocation is the tool call awaiting confirmation for
	// EventConfirmationRequired.
	Invocation *types.ToolInvocation `json:"invocation,omitempty"`

	// Status and the error fields are set on EventTerminal.
	Status    flow.Status     `json:"status,omitempty"`
	ErrorCode types.ErrorCode `json:"error_code,omitempty"`
	Error     string          `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// TurnStream delivers the events of one turn in order. The channel is
// closed after EventTerminal has been delivered.
type TurnStream struct {
	events chan TurnEvent
}

func newTurnStream(buffer int) *TurnStream {
	if buffer <= 0 {
		buffer = 64
	}
	return &TurnStream{events: make(chan TurnEvent, buffer)}
}

// Events returns the ordered event channel for the turn.
func (s *TurnStream) Events() <-chan TurnEvent {
	return s.events
}

// emit blocks until the event is accepted. The stream is private to one
// turn goroutine, so ordering is the send order.
func (s *TurnStream) emit(ev TurnEvent) {
	if s == nil {
		return
	}
	ev.Timestamp = time.Now().UTC()
	s.events <- ev
}

func (s *TurnStream) close() {
	if s != nil {
		close(s.events)
	}
}
