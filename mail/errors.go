package mail

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyRecipient is returned when an Email has no recipient
	ErrEmptyRecipient = errors.New("mail: recipient address is empty")
)

// ConfigurationError reports a mail setting that is missing. Retrying cannot fix
// it, so it is never retried.
type ConfigurationError struct {
	Setting string // human readable name of the setting
	Key     string // configuration key to check
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("mail: %s is not configured, check %s in configuration", e.Setting, e.Key)
}

// IsRetryable reports false: configuration errors fail fast
func (e *ConfigurationError) IsRetryable() bool {
	return false
}

// SendError wraps a failure reported by the SMTP server or the network
type SendError struct {
	Host string
	Port int
	To   string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("mail: sending to %s via %s:%d failed: %v", e.To, e.Host, e.Port, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
