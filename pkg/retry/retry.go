// Package retry runs an operation a bounded number of times with a fixed pause between
// attempts. Each attempt may carry its own deadline; the loop itself has none beyond ctx.
package retry

import (
	"context"
	"errors"
	"time"
)

var (
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrContextCanceled    = errors.New("context canceled during retry")
)

// Config is a fixed-delay retry policy
type Config struct {
	// MaxRetries is the number of attempts after the first one (0 = single attempt)
	MaxRetries int
	// Interval is the pause between attempts
	Interval time.Duration
	// AttemptTimeout bounds each attempt individually; zero means no per-attempt deadline.
	// Expiry cancels only that attempt, the loop goes on.
	AttemptTimeout time.Duration
}

// Fixed builds a Config
func Fixed(maxRetries int, interval, attemptTimeout time.Duration) *Config {
	return &Config{
		MaxRetries:     maxRetries,
		Interval:       interval,
		AttemptTimeout: attemptTimeout,
	}
}

// Operation is the function to be retried
type Operation func(ctx context.Context) error

// PermanentError stops the loop immediately
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks an error as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Result describes a finished run
type Result struct {
	// Err is nil on success, the unwrapped permanent error, ErrMaxRetriesExceeded or ErrContextCanceled
	Err error
	// Attempts counts every call of the operation
	Attempts int
	// TotalDuration includes the pauses
	TotalDuration time.Duration
	// LastError is what the final attempt returned
	LastError error
}

// RetryCallback is called before each pause with the attempt that just failed
type RetryCallback func(attempt int, err error, delay time.Duration)

// Do runs op under config
func Do(ctx context.Context, config *Config, op Operation) *Result {
	return DoWithCallback(ctx, config, op, nil)
}

// DoWithCallback runs op under config, reporting each failed attempt to callback.
// A nil config means a single attempt.
func DoWithCallback(ctx context.Context, config *Config, op Operation, callback RetryCallback) *Result {
	policy := Config{}
	if config != nil {
		policy = *config
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.Interval < 0 {
		policy.Interval = 0
	}

	start := time.Now()
	result := &Result{}
	finish := func(err error) *Result {
		result.Err = err
		result.TotalDuration = time.Since(start)
		return result
	}

	for attempt := 1; attempt <= policy.MaxRetries+1; attempt++ {
		if ctx.Err() != nil {
			return finish(ErrContextCanceled)
		}

		result.Attempts = attempt
		err := runAttempt(ctx, policy.AttemptTimeout, op)
		if err == nil {
			result.LastError = nil
			return finish(nil)
		}
		result.LastError = err

		var permErr *PermanentError
		if errors.As(err, &permErr) {
			result.LastError = permErr.Err
			return finish(permErr.Err)
		}

		if attempt > policy.MaxRetries {
			break
		}
		if callback != nil {
			callback(attempt, err, policy.Interval)
		}

		timer := time.NewTimer(policy.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return finish(ErrContextCanceled)
		case <-timer.C:
		}
	}

	return finish(ErrMaxRetriesExceeded)
}

func runAttempt(ctx context.Context, timeout time.Duration, op Operation) error {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}
