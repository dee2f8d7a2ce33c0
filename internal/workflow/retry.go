package workflow

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cirruswatch/stormsentry/internal/domain"
)

// RetryPolicy bounds repeated attempts against a flaky external capability.
// A call is attempted at most MaxRetries+1 times; only failures classified
// as transient are retried, with exponential backoff between attempts.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2
	}
	return p
}

// callWithRetry invokes fn until it succeeds, fails terminally, exhausts the
// attempt budget, or ctx is cancelled. It returns the result, the number of
// attempts actually made, and the last error.
func callWithRetry[T any](ctx context.Context, clock clockwork.Clock, policy RetryPolicy, fn func(context.Context) (T, error)) (T, int, error) {
	policy = policy.withDefaults()
	maxAttempts := policy.MaxRetries + 1

	var (
		zero    T
		lastErr error
	)
	backoff := policy.InitialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, attempt, nil
		}
		lastErr = err

		if !domain.IsRetryable(err) || attempt == maxAttempts {
			return zero, attempt, lastErr
		}
		if !sleepWithClock(ctx, clock, backoff) {
			return zero, attempt, lastErr
		}
		backoff = nextBackoff(backoff, policy)
	}
	return zero, maxAttempts, lastErr
}

// sleepWithClock waits for d, returning false if ctx is cancelled first.
func sleepWithClock(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-clock.After(d):
		return true
	}
}

func nextBackoff(current time.Duration, policy RetryPolicy) time.Duration {
	next := time.Duration(float64(current) * policy.Multiplier)
	if policy.MaxBackoff > 0 && next > policy.MaxBackoff {
		return policy.MaxBackoff
	}
	return next
}
