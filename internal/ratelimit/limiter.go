// Package ratelimit spaces out requests sent to the service under test.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// PairLimiter lets one pair through per delay. The first Wait never blocks.
type PairLimiter struct {
	limiter *rate.Limiter
	delay   time.Duration
}

// NewPairLimiter creates a limiter spacing pairs by delay. A delay <= 0
// disables spacing.
func NewPairLimiter(delay time.Duration) *PairLimiter {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &PairLimiter{limiter: rate.NewLimiter(limit, 1), delay: delay}
}

// Delay returns the configured spacing.
func (p *PairLimiter) Delay() time.Duration { return p.delay }

// Wait blocks until the next pair may run, or ctx is cancelled.
func (p *PairLimiter) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: pair delay: %w", err)
	}
	return nil
}
