package mail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glimte/mailrelay/internal/reliability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSender fails the first failures calls with err, then succeeds
type stubSender struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
	panicMsg string
	onSend   func(call int)
}

func (s *stubSender) Send(ctx context.Context, email Email) error {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	if s.onSend != nil {
		s.onSend(call)
	}
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if call <= s.failures {
		return s.err
	}
	return nil
}

func (s *stubSender) Host() string { return "smtp.test" }

func (s *stubSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type delaySleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *delaySleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *delaySleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

var testEmail = Email{To: "jane@example.com", Subject: "Welcome", HTMLBody: "<p>hi</p>"}

func TestDelivererDefaults(t *testing.T) {
	d := NewDeliverer(&stubSender{})
	assert.Equal(t, DefaultMaxAttempts, d.MaxAttempts())
	assert.Equal(t, DefaultRetryDelay, d.policy.Delay)
}

func TestDeliverer(t *testing.T) {
	t.Run("first attempt succeeds", func(t *testing.T) {
		sender := &stubSender{}
		sleeper := &delaySleeper{}
		d := NewDeliverer(sender, WithSleeper(sleeper))

		assert.Equal(t, Delivered, d.Deliver(context.Background(), testEmail))
		assert.Equal(t, 1, sender.callCount())
		assert.Empty(t, sleeper.recorded())
	})

	t.Run("succeeds on third attempt", func(t *testing.T) {
		sender := &stubSender{failures: 2, err: errors.New("temporary")}
		sleeper := &delaySleeper{}
		d := NewDeliverer(sender, WithSleeper(sleeper))

		assert.Equal(t, Delivered, d.Deliver(context.Background(), testEmail))
		assert.Equal(t, 3, sender.callCount())
		assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sleeper.recorded())
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		sender := &stubSender{failures: 10, err: errors.New("smtp down")}
		sleeper := &delaySleeper{}
		failures := reliability.NewFailureLog(10)
		d := NewDeliverer(sender, WithSleeper(sleeper), WithFailureLog(failures))

		assert.Equal(t, Dropped, d.Deliver(context.Background(), testEmail))
		assert.Equal(t, 3, sender.callCount())
		assert.Len(t, sleeper.recorded(), 2)

		recent := failures.Recent(1)
		require.Len(t, recent, 1)
		assert.Equal(t, "jane@example.com", recent[0].Target)
		assert.Equal(t, "Welcome", recent[0].Subject)
		assert.Equal(t, 3, recent[0].Attempts)
		assert.Contains(t, recent[0].Error, "smtp down")
	})

	t.Run("configuration error fails fast", func(t *testing.T) {
		sender := &stubSender{failures: 10, err: &ConfigurationError{Setting: "SMTP host", Key: "mail.host"}}
		sleeper := &delaySleeper{}
		failures := reliability.NewFailureLog(10)
		d := NewDeliverer(sender, WithSleeper(sleeper), WithFailureLog(failures))

		assert.Equal(t, Dropped, d.Deliver(context.Background(), testEmail))
		assert.Equal(t, 1, sender.callCount())
		assert.Empty(t, sleeper.recorded())
		assert.Equal(t, 1, failures.Recent(1)[0].Attempts)
	})

	t.Run("sender panic is contained and retried", func(t *testing.T) {
		sender := &stubSender{panicMsg: "nil dialer"}
		d := NewDeliverer(sender, WithSleeper(&delaySleeper{}))

		var outcome Outcome
		require.NotPanics(t, func() {
			outcome = d.Deliver(context.Background(), testEmail)
		})
		assert.Equal(t, Dropped, outcome)
		assert.Equal(t, 3, sender.callCount())
	})

	t.Run("custom attempts and delay", func(t *testing.T) {
		sender := &stubSender{failures: 10, err: errors.New("nope")}
		sleeper := &delaySleeper{}
		d := NewDeliverer(sender,
			WithSleeper(sleeper),
			WithMaxAttempts(5),
			WithRetryDelay(100*time.Millisecond),
		)

		assert.Equal(t, Dropped, d.Deliver(context.Background(), testEmail))
		assert.Equal(t, 5, sender.callCount())
		assert.Equal(t, []time.Duration{
			100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond,
		}, sleeper.recorded())
	})

	t.Run("cancellation during wait interrupts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sender := &stubSender{failures: 10, err: errors.New("temporary"), onSend: func(call int) {
			if call == 1 {
				cancel()
			}
		}}
		failures := reliability.NewFailureLog(10)
		d := NewDeliverer(sender, WithSleeper(&delaySleeper{}), WithFailureLog(failures))

		assert.Equal(t, Interrupted, d.Deliver(ctx, testEmail))
		assert.Equal(t, 1, sender.callCount())
		assert.Empty(t, failures.Recent(10))
	})

	t.Run("cancelled before first attempt", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		sender := &stubSender{}
		d := NewDeliverer(sender, WithSleeper(&delaySleeper{}))

		assert.Equal(t, Interrupted, d.Deliver(ctx, testEmail))
		assert.Equal(t, 0, sender.callCount())
	})

	t.Run("real timer sleeper waits", func(t *testing.T) {
		sender := &stubSender{failures: 1, err: errors.New("temporary")}
		d := NewDeliverer(sender, WithRetryDelay(20*time.Millisecond))

		start := time.Now()
		assert.Equal(t, Delivered, d.Deliver(context.Background(), testEmail))
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "delivered", Delivered.String())
	assert.Equal(t, "dropped", Dropped.String())
	assert.Equal(t, "interrupted", Interrupted.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
