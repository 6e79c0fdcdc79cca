package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairLimiter_FirstWaitImmediate(t *testing.T) {
	pl := NewPairLimiter(time.Hour)

	start := time.Now()
	require.NoError(t, pl.Wait(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, time.Hour, pl.Delay())
}

func TestPairLimiter_Spacing(t *testing.T) {
	pl := NewPairLimiter(30 * time.Millisecond)

	start := time.Now()
	for range 3 {
		require.NoError(t, pl.Wait(context.Background()))
	}
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPairLimiter_Disabled(t *testing.T) {
	pl := NewPairLimiter(0)

	start := time.Now()
	for range 100 {
		require.NoError(t, pl.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestPairLimiter_CancelledContext(t *testing.T) {
	// Very restrictive limiter.
	pl := NewPairLimiter(time.Hour)

	// Consume the burst.
	_ = pl.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pl.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
