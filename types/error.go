package types

import "fmt"

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Engine error codes
const (
	ErrDefinitionInvalid    ErrorCode = "DEFINITION_INVALID"
	ErrNodeTransient        ErrorCode = "NODE_TRANSIENT"
	ErrNodeFatal            ErrorCode = "NODE_FATAL"
	ErrConfirmationTimeout  ErrorCode = "CONFIRMATION_TIMEOUT"
	ErrConcurrencyViolation ErrorCode = "CONCURRENCY_VIOLATION"
	ErrNotFound             ErrorCode = "NOT_FOUND"
	ErrInvalidState         ErrorCode = "INVALID_STATE"
	ErrTurnCanceled         ErrorCode = "TURN_CANCELED"
)

// Upstream error codes
const (
	ErrUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError       ErrorCode = "UPSTREAM_ERROR"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrModelOverloaded     ErrorCode = "MODEL_OVERLOADED"
	ErrContentMalformed    ErrorCode = "CONTENT_MALFORMED"
	ErrServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
// NodeID and TurnIndex identify the originating node invocation when the
// error surfaced during a turn.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	NodeID    string    `json:"node_id,omitempty"`
	TurnIndex int       `json:"turn_index,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithNode tags the error with the originating node and turn index.
func (e *Error) WithNode(nodeID string, turnIndex int) *Error {
	e.NodeID = nodeID
	e.TurnIndex = turnIndex
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
