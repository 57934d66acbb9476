package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	r := New(WithMaxAttempts(4), WithInitialDelay(time.Millisecond), WithRetryIf(isTransient))

	calls := 0
	var retried []int
	r.config.OnRetry = func(attempt int, err error, _ time.Duration) {
		retried = append(retried, attempt)
		assert.ErrorIs(t, err, errTransient)
	}

	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	r := New(WithMaxAttempts(5), WithInitialDelay(time.Millisecond), WithRetryIf(isTransient))

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_NilPredicateNeverRetries(t *testing.T) {
	r := New(WithMaxAttempts(5))

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestDo_ReturnsLastErrorWhenAttemptsExhausted(t *testing.T) {
	r := StoreRetrier(3, time.Millisecond, isTransient)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(WithRetryIf(isTransient))
	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDo_CancelDuringBackoffReturnsLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(WithMaxAttempts(3), WithInitialDelay(time.Hour), WithRetryIf(isTransient))

	err := r.Do(ctx, func(context.Context) error {
		cancel()
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
}

func TestBackoff(t *testing.T) {
	r := New(
		WithInitialDelay(10*time.Millisecond),
		WithMaxDelay(50*time.Millisecond),
		WithMultiplier(2),
		WithJitter(0),
	)

	assert.Equal(t, 10*time.Millisecond, r.Backoff(1))
	assert.Equal(t, 20*time.Millisecond, r.Backoff(2))
	assert.Equal(t, 40*time.Millisecond, r.Backoff(3))
	assert.Equal(t, 50*time.Millisecond, r.Backoff(4))
}

func TestBackoff_JitterStaysInRange(t *testing.T) {
	r := ConflictRetrier(3, isTransient)

	for i := 0; i < 100; i++ {
		d := r.Backoff(1)
		assert.GreaterOrEqual(t, d, 5*time.Millisecond)
		assert.LessOrEqual(t, d, 15*time.Millisecond)
	}
}

func TestStoreRetrier_AppliesExtraOptions(t *testing.T) {
	var retried []int
	r := StoreRetrier(3, time.Millisecond, isTransient,
		WithOnRetry(func(attempt int, _ error, _ time.Duration) {
			retried = append(retried, attempt)
		}),
	)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, retried, 2)
}
