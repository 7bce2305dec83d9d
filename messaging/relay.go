package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glimte/mailrelay/contracts"
	"github.com/glimte/mailrelay/mail"
	"github.com/glimte/mailrelay/metrics"
)

// ErrDeliveryInterrupted is returned when shutdown interrupts a delivery, so
// the message goes back to the queue
var ErrDeliveryInterrupted = errors.New("mail delivery interrupted")

// EventNormalizer decodes inbound messages
type EventNormalizer interface {
	NormalizeMessage(msg contracts.InboundMessage) (contracts.Event, error)
}

// EventRouter maps events to emails
type EventRouter interface {
	Route(event contracts.Event) (mail.Email, bool)
}

// MailDeliverer sends emails
type MailDeliverer interface {
	Deliver(ctx context.Context, email mail.Email) mail.Outcome
}

// Relay is the per-message handler. A nil result means the message is done and
// must be acknowledged; an error means it must be requeued.
type Relay struct {
	normalizer EventNormalizer
	router     EventRouter
	deliverer  MailDeliverer
	logger     *slog.Logger
}

// RelayOption configures the Relay
type RelayOption func(*Relay)

// WithRelayLogger sets the logger
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

// NewRelay creates a new relay
func NewRelay(normalizer EventNormalizer, router EventRouter, deliverer MailDeliverer, options ...RelayOption) *Relay {
	r := &Relay{
		normalizer: normalizer,
		router:     router,
		deliverer:  deliverer,
		logger:     slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Handle decodes, routes and delivers msg
func (r *Relay) Handle(ctx context.Context, msg contracts.InboundMessage) error {
	event, err := r.normalizer.NormalizeMessage(msg)
	switch {
	case err == nil:
	case errors.Is(err, contracts.ErrUnknownRoutingKey):
		r.logger.Warn("no event family for message, dropping",
			"queue", msg.Queue, "routingKey", msg.RoutingKey, "messageId", msg.MessageID)
		r.count(msg, metrics.OutcomeNoOp)
		return nil
	case contracts.IsDecodeError(err):
		r.logger.Error("failed to decode message, dropping",
			"queue", msg.Queue, "routingKey", msg.RoutingKey, "messageId", msg.MessageID, "error", err)
		r.count(msg, metrics.OutcomeDecode)
		return nil
	default:
		return fmt.Errorf("normalize message %s: %w", msg.MessageID, err)
	}

	r.logger.Info("processing event", "event", event.Kind().String(), "to", event.Recipient(), "queue", msg.Queue)

	email, ok := r.router.Route(event)
	if !ok {
		r.count(msg, metrics.OutcomeNoOp)
		return nil
	}

	switch outcome := r.deliverer.Deliver(ctx, email); outcome {
	case mail.Delivered:
		r.count(msg, metrics.OutcomeDelivered)
	case mail.Dropped:
		r.count(msg, metrics.OutcomeDropped)
	default:
		return fmt.Errorf("%w: message %s: %v", ErrDeliveryInterrupted, msg.MessageID, context.Cause(ctx))
	}

	return nil
}

func (r *Relay) count(msg contracts.InboundMessage, outcome string) {
	metrics.MessagesHandled.WithLabelValues(msg.Queue, outcome).Inc()
}
