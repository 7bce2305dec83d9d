package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values for MessagesHandled
const (
	OutcomeDelivered = "delivered"
	OutcomeDropped   = "dropped"
	OutcomeNoOp      = "noop"
	OutcomeDecode    = "decode_error"
	OutcomeRequeued  = "requeued"
)

var (
	// Consumption metrics
	MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailrelay_messages_received_total",
		Help: "Total number of messages received from the broker",
	}, []string{"queue"})
	MessagesHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailrelay_messages_handled_total",
		Help: "Total number of messages handled, by outcome",
	}, []string{"queue", "outcome"})
	MessageAckFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailrelay_message_ack_failures_total",
		Help: "Total number of failed ack or nack calls",
	}, []string{"queue"})
	HandlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mailrelay_handler_duration_seconds",
		Help:    "Time spent handling a single message",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	}, []string{"queue"})
	HandlerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailrelay_handler_errors_total",
		Help: "Total number of handler errors, by type",
	}, []string{"queue", "type"})
	ActiveConsumers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mailrelay_active_consumers",
		Help: "Number of queues currently being consumed",
	})

	// Mail metrics
	MailSendAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailrelay_mail_send_attempts_total",
		Help: "Total number of mail send attempts",
	}, []string{"host"})
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailrelay_mail_send_success_total",
		Help: "Total number of successful mail sends",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailrelay_mail_send_failure_total",
		Help: "Total number of failed mail send attempts",
	}, []string{"host"})
	MailDeliveryExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailrelay_mail_delivery_exhausted_total",
		Help: "Total number of mails dropped after all delivery attempts failed",
	}, []string{"host"})
)

func init() {
	prometheus.MustRegister(MessagesReceived)
	prometheus.MustRegister(MessagesHandled)
	prometheus.MustRegister(MessageAckFailures)
	prometheus.MustRegister(HandlerDuration)
	prometheus.MustRegister(HandlerErrors)
	prometheus.MustRegister(ActiveConsumers)
	prometheus.MustRegister(MailSendAttempts)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(MailDeliveryExhausted)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RelayCollector records handler pipeline metrics in the package collectors
type RelayCollector struct{}

// NewRelayCollector creates a RelayCollector
func NewRelayCollector() *RelayCollector {
	return &RelayCollector{}
}

func (RelayCollector) IncrementMessageCount(queue string) {
	MessagesReceived.WithLabelValues(queue).Inc()
}

func (RelayCollector) RecordProcessingTime(queue string, duration time.Duration) {
	HandlerDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

func (RelayCollector) IncrementErrorCount(queue string, errorType string) {
	HandlerErrors.WithLabelValues(queue, errorType).Inc()
}
