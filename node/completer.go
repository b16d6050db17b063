package node

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/gateflow/gateflow/types"
)

// CompletionRequest is the prompt/context handed to the underlying
// generation or evaluation service.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []types.Message
	Temperature float64
	MaxTokens   int
}

// Completion is the terminal result of one model invocation.
type Completion struct {
	Content   string
	ToolCalls []types.ToolCall
}

// Completer is the black-box language-model contract. Implementations map
// provider failures onto types.Error so the engine can distinguish transient
// errors (retried with backoff) from fatal ones.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	StreamComplete(ctx context.Context, req CompletionRequest, onToken TokenFunc) (*Completion, error)
}

// RateLimitedCompleter wraps a Completer with a token-bucket limiter so a
// burst of concurrent turns cannot exhaust the upstream service quota.
type RateLimitedCompleter struct {
	inner   Completer
	limiter *rate.Limiter
}

// NewRateLimitedCompleter wraps inner with the given requests-per-second
// limit and burst size.
func NewRateLimitedCompleter(inner Completer, rps float64, burst int) *RateLimitedCompleter {
	return &RateLimitedCompleter{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Complete waits for limiter capacity, then delegates.
func (c *RateLimitedCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return c.inner.Complete(ctx, req)
}

// StreamComplete waits for limiter capacity, then delegates.
func (c *RateLimitedCompleter) StreamComplete(ctx context.Context, req CompletionRequest, onToken TokenFunc) (*Completion, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return c.inner.StreamComplete(ctx, req, onToken)
}
