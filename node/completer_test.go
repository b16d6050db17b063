package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitedCompleter_Delegates(t *testing.T) {
	t.Parallel()
	inner := NewScriptedCompleter(Completion{Content: "ok"})
	limited := NewRateLimitedCompleter(inner, 100, 10)

	got, err := limited.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Content)
	assert.Equal(t, 1, inner.Calls())
}

func TestRateLimitedCompleter_ThrottlesBurst(t *testing.T) {
	t.Parallel()
	inner := NewScriptedCompleter(Completion{Content: "ok"})
	// 20 rps, burst 1: the second call has to wait roughly 50ms.
	limited := NewRateLimitedCompleter(inner, 20, 1)

	ctx := context.Background()
	start := time.Now()
	_, err := limited.Complete(ctx, CompletionRequest{})
	require.NoError(t, err)
	_, err = limited.Complete(ctx, CompletionRequest{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestRateLimitedCompleter_CanceledWhileWaiting(t *testing.T) {
	t.Parallel()
	inner := NewScriptedCompleter(Completion{Content: "ok"})
	limited := NewRateLimitedCompleter(inner, 0.001, 1)

	ctx := context.Background()
	_, err := limited.Complete(ctx, CompletionRequest{})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = limited.StreamComplete(waitCtx, CompletionRequest{}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, inner.Calls())
}
