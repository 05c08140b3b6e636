package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     64,
		InitialInterval: 2 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	defaults := DefaultRetryPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = defaults.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = defaults.MaxInterval
		if p.MaxInterval < p.InitialInterval {
			p.MaxInterval = p.InitialInterval
		}
	}
	return p
}

// RetryOnConflict runs op until it succeeds, fails with anything other than
// ErrConflict, or the policy runs out of attempts. Exhaustion is reported as
// ErrContention.
func RetryOnConflict[T any](ctx context.Context, policy RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	policy = policy.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval

	attempts := 0
	result, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		value, err := op(ctx)
		if err != nil && !errors.Is(err, ErrConflict) {
			return value, backoff.Permanent(err)
		}
		return value, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(policy.MaxAttempts))
	if errors.Is(err, ErrConflict) {
		var zero T
		return zero, fmt.Errorf("%w: gave up after %d attempts", ErrContention, attempts)
	}
	return result, err
}
