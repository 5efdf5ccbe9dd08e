// Package retry applies the configured retry policy to calls against external
// services. The default policy makes exactly one attempt.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/driftfm/drift-core/internal/config"
)

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Permanent reports errors that must not be retried.
	Permanent func(error) bool
}

func FromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: time.Duration(cfg.InitialIntervalMS) * time.Millisecond,
		MaxInterval:     time.Duration(cfg.MaxIntervalMS) * time.Millisecond,
	}
}

// Once is the policy of a single attempt.
func Once() Policy { return Policy{MaxAttempts: 1} }

// Do runs op under p. Context cancellation is never retried.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts <= 1 {
		return op(ctx)
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return v, backoff.Permanent(err)
		}
		if p.Permanent != nil && p.Permanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
	)
}
