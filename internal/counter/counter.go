// Package counter allocates per-target proposal version numbers.
package counter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"framedata/api/internal/store"
)

const keyPrefix = "pcnt::"

func Key(target string) string {
	return keyPrefix + target
}

// Counter hands out strictly increasing versions per target using only the
// store's compare-and-swap. A lost race is retried under the policy.
type Counter struct {
	kv     store.KV
	policy store.RetryPolicy
}

func New(kv store.KV, policy store.RetryPolicy) *Counter {
	return &Counter{kv: kv, policy: policy}
}

// Increment returns the next version for target. The first call for a
// target returns 1.
func (c *Counter) Increment(ctx context.Context, target string) (uint64, error) {
	key := Key(target)
	return store.RetryOnConflict(ctx, c.policy, func(ctx context.Context) (uint64, error) {
		return c.tryIncrement(ctx, key)
	})
}

func (c *Counter) tryIncrement(ctx context.Context, key string) (uint64, error) {
	entry, err := c.kv.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		if err := c.kv.Insert(ctx, key, uint64(1)); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return 0, store.ErrConflict
			}
			return 0, fmt.Errorf("create counter %s: %w", key, err)
		}
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", key, err)
	}

	var current uint64
	if err := json.Unmarshal(entry.Value, &current); err != nil {
		return 0, fmt.Errorf("decode counter %s: %w", key, err)
	}
	next := current + 1
	if err := c.kv.Replace(ctx, key, next, entry.Stamp); err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			return 0, store.ErrConflict
		}
		return 0, fmt.Errorf("advance counter %s: %w", key, err)
	}
	return next, nil
}
