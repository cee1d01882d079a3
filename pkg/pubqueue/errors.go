package pubqueue

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoPlatforms     = errors.New("pubqueue: at least one target platform is required")
	ErrEmptyContent    = errors.New("pubqueue: content body is empty")
	ErrUnknownPriority = errors.New("pubqueue: unknown priority")
)

// NoRetry marks an adapter error as permanent.
//
// The retry controller fails the item immediately instead of consuming the
// remaining retry budget.
//
// Example:
//
//	return pubqueue.NoRetry(fmt.Errorf("content rejected: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter attaches an explicit delay hint to an adapter error.
//
// When a platform returns a Retry-After value (e.g. HTTP 429), the retry
// controller uses the hint instead of the computed exponential delay.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }
