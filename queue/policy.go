package queue

import (
	"math"
	"time"

	"github.com/curioshelf/curio/errors"
)

// Backoff computes the delay before a retry attempt.
// Attempt 1 is the first retry after the initial failure.
// Strategies are stateless and safe for concurrent use.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff always returns the same delay regardless of attempt number.
type FixedBackoff struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (b FixedBackoff) Delay(_ int) time.Duration {
	return b.Interval
}

// ExponentialBackoff doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(b.Initial) * math.Pow(2, float64(attempt-1)))
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// NewBackoff builds a Backoff from a config name ("fixed" or "exponential").
// Exponential caps at 32x the base delay.
func NewBackoff(name string, baseDelay time.Duration) Backoff {
	if name == "exponential" {
		return ExponentialBackoff{Initial: baseDelay, Max: 32 * baseDelay}
	}
	return FixedBackoff{Interval: baseDelay}
}

// Decision is the outcome of the retry policy for one failed attempt.
type Decision struct {
	Retry bool
	// Delay is how long the job must wait before its next attempt is
	// eligible. Only meaningful when Retry is true.
	Delay time.Duration
}

// RetryPolicy decides, for a failed attempt, whether the job retries after a
// delay or fails permanently. It is a pure function of the attempt state and
// the failure: timeouts flow through the same decision as any other error.
type RetryPolicy struct {
	Backoff Backoff
}

// Decide returns the outcome for a job that has failed with jobErr after
// retryCount previous retries out of a budget of maxRetries.
//
// retryCount never exceeds maxRetries: once they are equal the job fails
// permanently. Errors marked Permanent fail immediately regardless of the
// remaining budget.
func (p RetryPolicy) Decide(retryCount, maxRetries int, jobErr error) Decision {
	if IsPermanent(jobErr) {
		return Decision{Retry: false}
	}
	if retryCount < maxRetries {
		return Decision{Retry: true, Delay: p.Backoff.Delay(retryCount + 1)}
	}
	return Decision{Retry: false}
}

// permanentError marks a handler failure as non-retryable.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so the retry policy fails the job immediately
// instead of consuming retry budget. Handlers use this for failures that
// cannot succeed on a second attempt (bad payloads, 4xx responses).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or any error it wraps) was marked
// Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
