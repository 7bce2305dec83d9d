package reliability

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy decides whether a failed attempt is retried and how long to wait first
type RetryPolicy interface {
	// ShouldRetry is called after attempt (1-based) failed with err
	ShouldRetry(attempt int, err error) (bool, time.Duration)
	// MaxAttempts returns the upper bound on attempts, including the first one
	MaxAttempts() int
}

// FixedDelay retries with the same delay between every attempt
type FixedDelay struct {
	Delay    time.Duration
	Attempts int
}

// NewFixedDelay creates a fixed delay policy allowing at most attempts calls
func NewFixedDelay(delay time.Duration, attempts int) *FixedDelay {
	if attempts < 1 {
		attempts = 1
	}
	if delay < 0 {
		delay = 0
	}
	return &FixedDelay{
		Delay:    delay,
		Attempts: attempts,
	}
}

// ShouldRetry implements RetryPolicy
func (f *FixedDelay) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= f.Attempts {
		return false, 0
	}

	if !isRetryableError(err) {
		return false, 0
	}

	return true, f.Delay
}

// MaxAttempts implements RetryPolicy
func (f *FixedDelay) MaxAttempts() int {
	return f.Attempts
}

// Sleeper waits between attempts. Implementations must return early with the
// context error when ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc is a function adapter for Sleeper
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep implements Sleeper
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// TimerSleeper sleeps on a real timer
type TimerSleeper struct{}

// Sleep implements Sleeper
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryOption configures a Retry call
type RetryOption func(*retryConfig)

type retryConfig struct {
	op      string
	sleeper Sleeper
	now     func() time.Time
}

// WithSleeper replaces the timer based sleeper
func WithSleeper(s Sleeper) RetryOption {
	return func(c *retryConfig) {
		if s != nil {
			c.sleeper = s
		}
	}
}

// WithOperation names the operation in the returned RetryError
func WithOperation(op string) RetryOption {
	return func(c *retryConfig) {
		c.op = op
	}
}

// WithClock sets the time source used to measure the retry duration
func WithClock(now func() time.Time) RetryOption {
	return func(c *retryConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// Retry calls fn until it succeeds, the policy gives up or ctx is done.
// fn receives the 1-based attempt number. The context is checked before every
// attempt; once cancelled no further attempt is started.
//
// When the policy gives up, the returned error is a *RetryError wrapping the
// last failure. When ctx ends the sequence, the error wraps ctx.Err() as well.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) error, options ...RetryOption) error {
	cfg := &retryConfig{
		op:      "operation",
		sleeper: TimerSleeper{},
		now:     time.Now,
	}
	for _, opt := range options {
		opt(cfg)
	}

	start := cfg.now()
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return cfg.failure(attempt-1, policy, lastErr, err, start)
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		retry, delay := policy.ShouldRetry(attempt, err)
		if !retry {
			return cfg.failure(attempt, policy, lastErr, nil, start)
		}

		if err := cfg.sleeper.Sleep(ctx, delay); err != nil {
			return cfg.failure(attempt, policy, lastErr, err, start)
		}
	}
}

func (c *retryConfig) failure(attempts int, policy RetryPolicy, lastErr, ctxErr error, start time.Time) error {
	if lastErr == nil {
		return ctxErr
	}
	return &RetryError{
		Op:          c.op,
		Attempts:    attempts,
		MaxAttempts: policy.MaxAttempts(),
		LastError:   lastErr,
		Cancelled:   ctxErr,
		Duration:    c.now().Sub(start),
	}
}

// isRetryableError determines if an error is retryable
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	type retryable interface {
		IsRetryable() bool
	}

	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	// Default to retryable for unknown errors
	return true
}

// RetryableError wraps an error to mark whether it is retryable
type RetryableError struct {
	Err       error
	Retryable bool
}

// Permanent marks err as not retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err, Retryable: false}
}

// Error implements error interface
func (r RetryableError) Error() string {
	return r.Err.Error()
}

// IsRetryable indicates if the error is retryable
func (r RetryableError) IsRetryable() bool {
	return r.Retryable
}

// Unwrap returns the wrapped error
func (r RetryableError) Unwrap() error {
	return r.Err
}
