package db

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 100 * time.Millisecond
)

// RetryPolicy bounds a retried operation. MaxAttempts counts the first try.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether an error earns another attempt. Defaults to IsRetryable.
	Retryable func(error) bool
	// OnRetry is invoked before each re-attempt with the attempt number that failed.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy is three attempts with exponential backoff starting at 100ms.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: defaultMaxAttempts, BaseDelay: defaultBaseDelay}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.Retryable == nil {
		p.Retryable = IsRetryable
	}
	return p
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.BaseDelay)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

// Retry runs op until it succeeds, returns a non-retryable error, the policy's
// attempts are used up, or ctx is done. The final error is returned unwrapped.
func Retry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	policy = policy.normalized()
	attempt := 0
	return retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !policy.Retryable(err) || attempt >= policy.MaxAttempts {
			return err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}
		return retry.RetryableError(err)
	})
}
