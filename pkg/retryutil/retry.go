// Package retryutil implements the exponential-backoff-with-jitter retry
// policy §5/§9 describe, generalized from the teacher's HTTP client
// RetryConfig (cenkalti/backoff/v4, initial interval, multiplier, max
// interval) into a policy usable for any operation, not just HTTP calls.
package retryutil

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/logging"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"go.uber.org/zap"
)

// Policy configures a retry loop. Retryable, when set, decides whether a
// given error should be retried; critical errors (validation/logic errors)
// should always return false from it. A nil Retryable retries everything.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	Retryable       func(error) bool
	OnRetry         func(attempt int, err error)
}

// DefaultPolicy matches §5: initial 0.5s, factor 2.0, cap 60s, ±25% jitter
// (Do sets the backoff's randomization factor to 0.25 for every policy).
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		Multiplier:      2.0,
		MaxInterval:     60 * time.Second,
	}
}

// Do runs op, retrying per the policy. Non-retryable errors (identified via
// Policy.Retryable) are returned immediately without consuming an attempt
// budget beyond the one that produced them.
func Do(ctx context.Context, policy Policy, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialInterval
	eb.Multiplier = policy.Multiplier
	eb.MaxInterval = policy.MaxInterval
	eb.RandomizationFactor = 0.25 // ±25% jitter
	eb.MaxElapsedTime = 0 // bounded by MaxAttempts, not wall-clock

	withCtx := backoff.WithContext(eb, ctx)

	attempt := 0
	var lastErr error
	operation := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if policy.Retryable != nil && !policy.Retryable(err) {
			return backoff.Permanent(err)
		}
		if attempt >= policy.MaxAttempts {
			return backoff.Permanent(err)
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}
		logging.Log.Warn("retrying operation after failure",
			zap.Int("attempt", attempt),
			logging.Redacted("error", err.Error()),
		)
		return err
	}

	if err := backoff.Retry(operation, withCtx); err != nil {
		return lastErr
	}
	return nil
}

// NonRetryable wraps an error class list into a Retryable predicate that
// excludes the given sentinel/validation errors, matching §5's "retries
// only on a narrow, configured exception set (excluding logic/system
// errors)".
func NonRetryable(excluded ...error) func(error) bool {
	return func(err error) bool {
		var perr *payerrors.Error
		if errors.As(err, &perr) {
			switch perr.Code {
			case payerrors.CodeValidation, payerrors.CodeConfiguration:
				return false
			}
		}
		for _, e := range excluded {
			if errors.Is(err, e) {
				return false
			}
		}
		return true
	}
}
