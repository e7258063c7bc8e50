package fetch

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryPolicy decides whether a failed fetch attempt is retried.
// attempt is the number of attempts made so far (1 after the first failure).
type RetryPolicy interface {
	Backoff(attempt int, err error) (delay time.Duration, retry bool)
}

// NoRetry makes exactly one attempt per block
type NoRetry struct{}

// Backoff never retries
func (NoRetry) Backoff(int, error) (time.Duration, bool) {
	return 0, false
}

// ExponentialBackoff retries up to MaxRetries times, waiting
// BaseDelay * Multiplier^(attempt-1) between attempts, capped at MaxDelay.
type ExponentialBackoff struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// Backoff implements RetryPolicy
func (b ExponentialBackoff) Backoff(attempt int, err error) (time.Duration, bool) {
	if attempt > b.MaxRetries || !retryable(err) {
		return 0, false
	}

	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}

	delay := time.Duration(float64(b.BaseDelay) * math.Pow(multiplier, float64(attempt-1)))
	if b.MaxDelay > 0 && (delay > b.MaxDelay || delay < 0) {
		delay = b.MaxDelay
	}
	return delay, true
}

// retryable rejects cancellation: a cancelled scan must not keep retrying
func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
