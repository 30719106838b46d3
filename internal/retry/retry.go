// Package retry executes remote operations with bounded attempts, a
// wall-clock deadline, and fixed-interval pacing between attempts.
// Transient errors are retried; anything else propagates immediately.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// Policy bounds one resilient call.
type Policy struct {
	// MaxAttempts caps the number of attempts. Zero means unbounded.
	// Order submissions use MaxAttempts=1: retrying a submit is unsafe
	// because the first attempt may have gone through.
	MaxAttempts int

	// Deadline is the wall-clock cutoff. Once passed, no further attempt
	// fires and Do returns domain.ErrTimeout. Zero means unbounded.
	Deadline time.Time

	// MinInterval is the fixed spacing between consecutive attempts.
	// There is deliberately no backoff growth.
	MinInterval time.Duration

	// Retryable classifies errors. Nil defaults to domain.Retryable.
	Retryable func(error) bool

	// Pacer, when set, additionally spaces attempts across callers (and
	// processes) sharing PacerKey.
	Pacer    domain.Pacer
	PacerKey string

	// Logger receives a warning per retried error. Nil disables logging.
	Logger *slog.Logger
}

// Do runs op under the policy. It returns domain.ErrTimeout once the
// deadline has passed or the attempt budget is spent, and propagates
// non-retryable errors immediately. Callers must ensure op is idempotent or
// safe to repeat.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T

	retryable := p.Retryable
	if retryable == nil {
		retryable = domain.Retryable
	}

	attempts := 0
	var lastAttempt time.Time

	for {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry: %w", domain.ErrContextDone)
		}
		if !p.Deadline.IsZero() && time.Now().After(p.Deadline) {
			return zero, domain.ErrTimeout
		}
		if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
			return zero, domain.ErrTimeout
		}

		if !lastAttempt.IsZero() {
			if err := sleep(ctx, p.MinInterval-time.Since(lastAttempt)); err != nil {
				return zero, err
			}
		}
		if p.Pacer != nil {
			if err := p.Pacer.Wait(ctx, p.PacerKey); err != nil {
				return zero, fmt.Errorf("retry: pace: %w", err)
			}
		}

		attempts++
		lastAttempt = time.Now()
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if !retryable(err) {
			return zero, fmt.Errorf("retry: terminal after %d attempt(s): %w", attempts, err)
		}
		if p.Logger != nil {
			p.Logger.Warn("remote call failed, retrying",
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()),
			)
		}
	}
}

// sleep blocks for d, honouring context cancellation. Non-positive d
// returns immediately.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry: %w", domain.ErrContextDone)
	case <-timer.C:
		return nil
	}
}
