package valuation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/erp/stockvaluation/internal/domain/shared"
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryPolicy_RetriesDeadlocks(t *testing.T) {
	attempts := 0
	var waits []time.Duration

	err := fastPolicy(3).Do(context.Background(), func(attempt int) error {
		attempts = attempt
		if attempt < 3 {
			return fmt.Errorf("consume: %w", valuation.ErrDeadlockDetected)
		}
		return nil
	}, func(_ error, wait time.Duration) {
		waits = append(waits, wait)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Len(t, waits, 2)
}

func TestRetryPolicy_DoesNotRetryOtherErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"serialization failure", valuation.ErrSerializationFailure},
		{"stale layer", valuation.NewStaleLayerError(testProduct, d("1"), d("2"))},
		{"plain error", errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := fastPolicy(3).Do(context.Background(), func(int) error {
				attempts++
				return tt.err
			}, nil)

			assert.Equal(t, 1, attempts)
			assert.ErrorIs(t, err, tt.err)
			assert.False(t, errors.Is(err, shared.ErrSystemBusy))
		})
	}
}

func TestRetryPolicy_ExhaustionIsSystemBusy(t *testing.T) {
	attempts := 0

	err := fastPolicy(2).Do(context.Background(), func(int) error {
		attempts++
		return valuation.ErrLockNotAvailable
	}, nil)

	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, shared.ErrSystemBusy)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRetryPolicy_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour}.Do(ctx, func(int) error {
		attempts++
		cancel()
		return valuation.ErrLockNotAvailable
	}, nil)

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", valuation.ErrLockNotAvailable)))
	assert.True(t, IsRetryable(valuation.ErrDeadlockDetected))
	assert.False(t, IsRetryable(valuation.ErrSerializationFailure))
	assert.False(t, IsRetryable(nil))
}

func TestParseShortagePolicy(t *testing.T) {
	p, err := ParseShortagePolicy("fallback")
	require.NoError(t, err)
	assert.Equal(t, ShortageFallback, p)

	_, err = ParseShortagePolicy("ignore")
	assert.Error(t, err)
}

func TestLocalJobLocker(t *testing.T) {
	locker := NewLocalJobLocker()

	release, err := locker.Obtain(context.Background(), "job", time.Minute)
	require.NoError(t, err)
	_, err = locker.Obtain(context.Background(), "job", time.Minute)
	assert.ErrorIs(t, err, ErrJobLocked)

	require.NoError(t, release(context.Background()))
	_, err = locker.Obtain(context.Background(), "job", time.Minute)
	assert.NoError(t, err)
}

func TestLocalJobLocker_KeysAreIndependent(t *testing.T) {
	locker := NewLocalJobLocker()
	ctx := context.Background()

	releaseA, err := locker.Obtain(ctx, "valuation:recalculate:company-a", time.Minute)
	require.NoError(t, err)
	releaseB, err := locker.Obtain(ctx, "valuation:repair:company-b", time.Minute)
	require.NoError(t, err, "an unrelated job must not be blocked")

	_, err = locker.Obtain(ctx, "valuation:repair:company-b", time.Minute)
	assert.ErrorIs(t, err, ErrJobLocked)

	require.NoError(t, releaseA(ctx))
	require.NoError(t, releaseA(ctx), "releasing twice is harmless")
	require.NoError(t, releaseB(ctx))
	_, err = locker.Obtain(ctx, "valuation:repair:company-b", time.Minute)
	assert.NoError(t, err)
}
