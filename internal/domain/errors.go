package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrVenueUnavailable = errors.New("venue unavailable")
	ErrTimeout          = errors.New("operation timed out")
	ErrInvalidOrder     = errors.New("invalid order parameters")
	ErrContextDone      = errors.New("context cancelled")

	// ErrFatal marks conditions after which the process must stop and a
	// human must reconcile state by hand: a committed leg with no
	// offsetting leg, a cancelled or expired order, a balance mismatch,
	// or a breached cumulative-loss floor.
	ErrFatal = errors.New("fatal condition")
)

// Retryable reports whether err is a transient remote failure that the
// resilient call wrapper may retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrVenueUnavailable)
}
