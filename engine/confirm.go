package engine

import (
	"sync"

	"github.com/gateflow/gateflow/types"
)

// confirmationResponse is the external verdict on a suspended invocation.
type confirmationResponse struct {
	Approve bool
}

// confirmations tracks tool invocations that are suspended awaiting an
// external confirm or reject signal. Entries live only as long as the
// owning turn goroutine is blocked on them.
type confirmations struct {
	mu      sync.Mutex
	pending map[string]chan confirmationResponse
}

func newConfirmations() *confirmations {
	return &confirmations{pending: make(map[string]chan confirmationResponse)}
}

// register creates the wait channel for an invocation. The channel has
// capacity one so resolve never blocks on a racing timeout.
func (c *confirmations) register(invocationID string) <-chan confirmationResponse {
	ch := make(chan confirmationResponse, 1)
	c.mu.Lock()
	c.pending[invocationID] = ch
	c.mu.Unlock()
	return ch
}

// resolve delivers the verdict to the waiting turn. It fails with
// NOT_FOUND when no turn is suspended on the invocation. The send happens
// under the lock so that once drop returns, any verdict resolve accepted is
// already buffered on the wait channel.
func (c *confirmations) resolve(invocationID string, approve bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[invocationID]
	if !ok {
		return types.NewError(types.ErrNotFound, "no pending confirmation for invocation "+invocationID)
	}
	delete(c.pending, invocationID)
	ch <- confirmationResponse{Approve: approve}
	return nil
}

// drop removes the entry without delivering a verdict. Used after a
// timeout or cancellation has already settled the invocation.
func (c *confirmations) drop(invocationID string) {
	c.mu.Lock()
	delete(c.pending, invocationID)
	c.mu.Unlock()
}
