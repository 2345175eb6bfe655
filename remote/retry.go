package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// retryPolicy bounds retries of idempotent requests.
type retryPolicy struct {
	attempts int
	backoff  time.Duration
	clock    clockwork.Clock
	onRetry  func(attempt int, err error, wait time.Duration)
}

// retryable reports whether err is transient. Status errors are transient
// only for 5xx and 429; context errors never are; anything else is treated
// as a network failure.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var ae *AlreadySetError
	return !errors.As(err, &ae)
}

// do runs op until it succeeds, fails permanently or attempts run out.
// The wait doubles after every retry.
func do[T any](ctx context.Context, p retryPolicy, op func() (T, error)) (T, error) {
	var zero T
	wait := p.backoff
	attempts := max(p.attempts, 1)

	for attempt := 1; ; attempt++ {
		val, err := op()
		if err == nil {
			return val, nil
		}
		if !retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			if attempts == 1 {
				return zero, err
			}
			return zero, fmt.Errorf("failed after %d attempts: %w", attempts, err)
		}
		if p.onRetry != nil {
			p.onRetry(attempt, err, wait)
		}

		select {
		case <-p.clock.After(wait):
			wait *= 2
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}
}
