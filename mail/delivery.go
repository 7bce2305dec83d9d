package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mailrelay/internal/reliability"
	"github.com/glimte/mailrelay/metrics"
)

// Delivery defaults
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 2 * time.Second
)

// Outcome describes how a Deliver call ended. It is informational only:
// Deliver never reports a failure to its caller.
type Outcome int

const (
	// Delivered means one attempt succeeded
	Delivered Outcome = iota
	// Dropped means every allowed attempt failed and the mail was given up
	Dropped
	// Interrupted means the context ended the sequence before a final outcome
	Interrupted
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Dropped:
		return "dropped"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Deliverer sends mail with a bounded number of attempts and a fixed delay
// between them
type Deliverer struct {
	sender   Sender
	policy   *reliability.FixedDelay
	sleeper  reliability.Sleeper
	failures *reliability.FailureLog
	logger   *slog.Logger
}

// DelivererOption configures the Deliverer
type DelivererOption func(*Deliverer)

// WithMaxAttempts sets the maximum number of send attempts, first one included
func WithMaxAttempts(n int) DelivererOption {
	return func(d *Deliverer) {
		d.policy = reliability.NewFixedDelay(d.policy.Delay, n)
	}
}

// WithRetryDelay sets the delay between attempts
func WithRetryDelay(delay time.Duration) DelivererOption {
	return func(d *Deliverer) {
		d.policy = reliability.NewFixedDelay(delay, d.policy.Attempts)
	}
}

// WithSleeper replaces the timer used between attempts
func WithSleeper(s reliability.Sleeper) DelivererOption {
	return func(d *Deliverer) {
		d.sleeper = s
	}
}

// WithFailureLog records dropped mails in log
func WithFailureLog(log *reliability.FailureLog) DelivererOption {
	return func(d *Deliverer) {
		d.failures = log
	}
}

// WithDelivererLogger sets the logger
func WithDelivererLogger(logger *slog.Logger) DelivererOption {
	return func(d *Deliverer) {
		d.logger = logger
	}
}

// NewDeliverer creates a Deliverer around sender
func NewDeliverer(sender Sender, options ...DelivererOption) *Deliverer {
	d := &Deliverer{
		sender:  sender,
		policy:  reliability.NewFixedDelay(DefaultRetryDelay, DefaultMaxAttempts),
		sleeper: reliability.TimerSleeper{},
		logger:  slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

// MaxAttempts returns the configured attempt bound
func (d *Deliverer) MaxAttempts() int {
	return d.policy.MaxAttempts()
}

// Deliver sends email, retrying failed attempts. It always returns: failures
// are logged and counted, never returned or panicked.
func (d *Deliverer) Deliver(ctx context.Context, email Email) Outcome {
	host := d.sender.Host()

	err := reliability.Retry(ctx, d.policy, func(ctx context.Context, attempt int) error {
		metrics.MailSendAttempts.WithLabelValues(host).Inc()

		err := d.send(ctx, email)
		if err == nil {
			metrics.MailSendSuccess.WithLabelValues(host).Inc()
			if attempt > 1 {
				d.logger.Info("mail delivered after retry", "to", email.To, "attempt", attempt)
			}
			return nil
		}

		metrics.MailSendFailure.WithLabelValues(host).Inc()
		d.logger.Warn("mail send attempt failed",
			"to", email.To,
			"subject", email.Subject,
			"attempt", attempt,
			"maxAttempts", d.policy.MaxAttempts(),
			"error", err,
		)
		return err
	}, reliability.WithSleeper(d.sleeper), reliability.WithOperation("deliver mail"))

	if err == nil {
		return Delivered
	}

	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		d.logger.Warn("mail delivery interrupted", "to", email.To, "error", err)
		return Interrupted
	}

	attempts := d.policy.MaxAttempts()
	var retryErr *reliability.RetryError
	if errors.As(err, &retryErr) {
		attempts = retryErr.Attempts
	}

	metrics.MailDeliveryExhausted.WithLabelValues(host).Inc()
	d.logger.Error("mail delivery failed, dropping",
		"to", email.To,
		"subject", email.Subject,
		"attempts", attempts,
		"configurationError", IsConfigurationError(err),
		"error", err,
	)

	if d.failures != nil {
		d.failures.Record(reliability.Failure{
			Op:       "deliver",
			Target:   email.To,
			Subject:  email.Subject,
			Attempts: attempts,
			Error:    err.Error(),
		})
	}

	return Dropped
}

// send runs one attempt, turning a sender panic into an error
func (d *Deliverer) send(ctx context.Context, email Email) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in mail sender: %v", r)
		}
	}()
	return d.sender.Send(ctx, email)
}
