package types

import (
	"encoding/json"
	"time"
)

// InvocationStatus represents the lifecycle state of a tool invocation.
type InvocationStatus string

const (
	InvocationPending  InvocationStatus = "pending"
	InvocationApproved InvocationStatus = "approved"
	InvocationRejected InvocationStatus = "rejected"
	InvocationExecuted InvocationStatus = "executed"
	InvocationFailed   InvocationStatus = "failed"
	InvocationExpired  InvocationStatus = "expired"
)

// ToolInvocation is one requested tool execution, tracked from request
// through confirmation to completion.
type ToolInvocation struct {
	ID          string           `json:"id"`
	NodeID      string           `json:"node_id"`
	ToolName    string           `json:"tool_name"`
	Arguments   json.RawMessage  `json:"arguments,omitempty"`
	Status      InvocationStatus `json:"status"`
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	Result      string           `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	RequestedAt time.Time        `json:"requested_at"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
}

// Resolved reports whether the invocation reached a terminal status.
func (inv *ToolInvocation) Resolved() bool {
	switch inv.Status {
	case InvocationExecuted, InvocationRejected, InvocationFailed, InvocationExpired:
		return true
	}
	return false
}
