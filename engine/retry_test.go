package engine

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRetryConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 10*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.Multiplier)
}

func TestRetryConfig_BackoffSequence(t *testing.T) {
	t.Parallel()
	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2,
	}
	assert.Equal(t, 100*time.Millisecond, cfg.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, cfg.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, cfg.Backoff(3))
	assert.Equal(t, 800*time.Millisecond, cfg.Backoff(4))
	assert.Equal(t, time.Second, cfg.Backoff(5))
	assert.Equal(t, time.Second, cfg.Backoff(20))
}

func TestRetryConfig_BackoffProperties(t *testing.T) {
	t.Parallel()
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	genConfig := gopter.CombineGens(
		gen.Int64Range(int64(time.Millisecond), int64(time.Second)),
		gen.Int64Range(int64(time.Second), int64(time.Minute)),
		gen.Float64Range(1.0, 5.0),
	).Map(func(vals []interface{}) RetryConfig {
		return RetryConfig{
			InitialBackoff: time.Duration(vals[0].(int64)),
			MaxBackoff:     time.Duration(vals[1].(int64)),
			Multiplier:     vals[2].(float64),
		}
	})

	properties.Property("backoff never exceeds the cap", prop.ForAll(
		func(cfg RetryConfig, attempt int) bool {
			return cfg.Backoff(attempt) <= cfg.MaxBackoff
		},
		genConfig,
		gen.IntRange(1, 64),
	))

	properties.Property("backoff is monotonically non-decreasing", prop.ForAll(
		func(cfg RetryConfig, attempt int) bool {
			return cfg.Backoff(attempt+1) >= cfg.Backoff(attempt)
		},
		genConfig,
		gen.IntRange(1, 63),
	))

	properties.Property("first backoff is the configured initial delay", prop.ForAll(
		func(cfg RetryConfig) bool {
			want := cfg.InitialBackoff
			if want > cfg.MaxBackoff {
				want = cfg.MaxBackoff
			}
			return cfg.Backoff(1) == want
		},
		genConfig,
	))

	properties.TestingRun(t)
}

func TestSleep_ReturnsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleep(ctx, time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleep_ReturnsAfterDelay(t *testing.T) {
	t.Parallel()
	start := time.Now()
	require.NoError(t, sleep(context.Background(), 10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}
