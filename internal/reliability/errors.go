package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrFailureNotFound is returned when a recorded failure does not exist
	ErrFailureNotFound = errors.New("failure log: failure not found")
)

// RetryError reports a retry sequence that ended without success
type RetryError struct {
	Op          string
	Attempts    int
	MaxAttempts int
	LastError   error
	Cancelled   error // set when the context ended the sequence
	Duration    time.Duration
}

func (e *RetryError) Error() string {
	if e.Cancelled != nil {
		return fmt.Sprintf("retry cancelled: %s after %d/%d attempts over %v: %v (last error: %v)",
			e.Op, e.Attempts, e.MaxAttempts, e.Duration.Round(time.Millisecond), e.Cancelled, e.LastError)
	}
	return fmt.Sprintf("retry failed: %s after %d/%d attempts over %v: %v",
		e.Op, e.Attempts, e.MaxAttempts, e.Duration.Round(time.Millisecond), e.LastError)
}

// Unwrap exposes both the last attempt error and the context error
func (e *RetryError) Unwrap() []error {
	if e.Cancelled != nil {
		return []error{e.LastError, e.Cancelled}
	}
	return []error{e.LastError}
}
