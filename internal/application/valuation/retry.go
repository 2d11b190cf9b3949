package valuation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/erp/stockvaluation/internal/domain/shared"
	"github.com/erp/stockvaluation/internal/domain/valuation"
)

// RetryPolicy bounds the automatic retry of lock conflicts and deadlocks
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy retries three times starting at 100ms
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   2 * time.Second,
	}
}

// IsRetryable reports whether err is a transient lock conflict or deadlock.
// Staleness and serialization failures are deliberately excluded.
func IsRetryable(err error) bool {
	return errors.Is(err, valuation.ErrLockNotAvailable) || errors.Is(err, valuation.ErrDeadlockDetected)
}

// Do runs op, retrying retryable failures with exponential backoff. Each
// attempt must be a whole transaction so a failed one is fully rolled back.
// When the attempts run out the last error is reported as ErrSystemBusy.
func (p RetryPolicy) Do(ctx context.Context, op func(attempt int) error, onRetry func(err error, wait time.Duration)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.MaxElapsedTime = 0
	b.Reset()

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op(attempt)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		if onRetry != nil {
			onRetry(err, wait)
		}
	})
	if err == nil {
		return nil
	}
	if IsRetryable(err) {
		return fmt.Errorf("%w (after %d attempts: %v)", shared.ErrSystemBusy, attempt, err)
	}
	return err
}
