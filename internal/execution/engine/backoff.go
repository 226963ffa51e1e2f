package engine

import (
	"context"
	"math"
	"time"

	"github.com/forgeline-labs/forgeline-go/internal/execution/graph"
)

// BackoffStrategy computes the delay taken after a failed attempt, before
// attempt+1 runs. The value is recorded with the attempt either way, so the
// accounting stays observable even when nothing actually sleeps.
type BackoffStrategy interface {
	DelayFor(policy graph.RetryPolicy, attempt int) time.Duration
}

// ExponentialBackoff yields BaseDelay * Multiplier^(attempt-1), capped at
// Max when Max is positive. With the default policy that is 1x, 2x, 4x of
// the base delay.
type ExponentialBackoff struct {
	Max time.Duration
}

func (b ExponentialBackoff) DelayFor(policy graph.RetryPolicy, attempt int) time.Duration {
	if attempt < 1 || policy.BaseDelay <= 0 {
		return 0
	}
	multiplier := policy.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := time.Duration(float64(policy.BaseDelay) * math.Pow(multiplier, float64(attempt-1)))
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}

// InstantBackoff disables delays entirely.
type InstantBackoff struct{}

func (InstantBackoff) DelayFor(graph.RetryPolicy, int) time.Duration { return 0 }

// Waiter performs a computed delay. Production uses TimerWaiter; tests
// substitute a recording no-op.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
}

type TimerWaiter struct{}

func (TimerWaiter) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NopWaiter returns immediately; backoff stays purely logical.
type NopWaiter struct{}

func (NopWaiter) Wait(context.Context, time.Duration) error { return nil }
