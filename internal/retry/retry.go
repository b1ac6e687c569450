// Package retry runs an operation under a bounded exponential backoff policy.
// Both blob fetches and vector batch upserts go through Do.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	ErrInvalidAttempts = errors.New("max attempts must be at least 1")
	// ErrExhausted marks an error returned because the attempt ceiling was hit.
	ErrExhausted = errors.New("retry attempts exhausted")
)

// Policy bounds a retry loop. MaxAttempts counts the first call, so 3 means
// one call plus two retries.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64

	// OnRetry, when set, is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Exponential returns a policy doubling from initial with no jitter, capped at 30s.
func Exponential(maxAttempts int, initial time.Duration) Policy {
	return Policy{
		MaxAttempts:  maxAttempts,
		InitialDelay: initial,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// IsRetryable reports whether a failed attempt may be tried again.
type IsRetryable func(error) bool

// Always treats every error as transient.
func Always(error) bool { return true }

func (p Policy) backoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do calls op until it succeeds, returns an error rejected by retryable,
// reaches p.MaxAttempts, or ctx is done. An exhausted loop returns an error
// matching both ErrExhausted and the last error from op.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, retryable IsRetryable) error {
	if p.MaxAttempts < 1 {
		return ErrInvalidAttempts
	}
	if retryable == nil {
		retryable = Always
	}

	b := p.backoff()
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %w)", err, lastErr)
			}
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 1 {
				slog.DebugContext(ctx, "operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}

		if !retryable(lastErr) {
			return lastErr
		}

		if attempt == p.MaxAttempts {
			break
		}

		delay := b.NextBackOff()
		slog.DebugContext(ctx, "operation failed, will retry",
			"attempt", attempt, "max_attempts", p.MaxAttempts, "delay", delay, "error", lastErr)
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %w)", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxAttempts, lastErr)
}
