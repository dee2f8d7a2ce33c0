package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirruswatch/stormsentry/internal/domain"
)

var errFlaky = domain.Transient("test", errors.New("boom"))

func TestCallWithRetrySucceedsFirstAttempt(t *testing.T) {
	got, attempts, err := callWithRetry(context.Background(), clockwork.NewFakeClock(), RetryPolicy{MaxRetries: 3},
		func(context.Context) (int, error) { return 42, nil })

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, attempts)
}

func TestCallWithRetryRetriesTransientFailures(t *testing.T) {
	var calls int32
	got, attempts, err := callWithRetry(context.Background(), clockwork.NewFakeClock(), RetryPolicy{MaxRetries: 3},
		func(context.Context) (string, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return "", errFlaky
			}
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, attempts)
}

func TestCallWithRetryStopsOnTerminalError(t *testing.T) {
	terminal := domain.Terminal("test", domain.ErrAuthRejected)

	_, attempts, err := callWithRetry(context.Background(), clockwork.NewFakeClock(), RetryPolicy{MaxRetries: 3},
		func(context.Context) (int, error) { return 0, terminal })

	require.ErrorIs(t, err, domain.ErrAuthRejected)
	assert.Equal(t, 1, attempts)
}

func TestCallWithRetryExhaustsBudget(t *testing.T) {
	var calls int32
	_, attempts, err := callWithRetry(context.Background(), clockwork.NewFakeClock(), RetryPolicy{MaxRetries: 2},
		func(context.Context) (int, error) {
			atomic.AddInt32(&calls, 1)
			return 0, errFlaky
		})

	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, attempts)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestCallWithRetryBacksOffExponentially(t *testing.T) {
	clock := clockwork.NewFakeClock()
	policy := RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     250 * time.Millisecond,
		Multiplier:     2,
	}

	var calls int32
	done := make(chan int, 1)
	go func() {
		_, attempts, _ := callWithRetry(context.Background(), clock, policy,
			func(context.Context) (int, error) {
				if atomic.AddInt32(&calls, 1) < 4 {
					return 0, errFlaky
				}
				return 1, nil
			})
		done <- attempts
	}()

	// 100ms, 200ms, then capped at 250ms.
	for _, d := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond} {
		clock.BlockUntil(1)
		clock.Advance(d)
	}

	assert.Equal(t, 4, <-done)
}

func TestCallWithRetryStopsOnContextCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	type result struct {
		attempts int
		err      error
	}
	done := make(chan result, 1)
	go func() {
		_, attempts, err := callWithRetry(ctx, clock, RetryPolicy{MaxRetries: 5, InitialBackoff: time.Second},
			func(context.Context) (int, error) { return 0, errFlaky })
		done <- result{attempts, err}
	}()

	clock.BlockUntil(1)
	cancel()

	got := <-done
	require.ErrorIs(t, got.err, errFlaky)
	assert.Equal(t, 1, got.attempts)
}
