package mailrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/glimte/mailrelay/config"
	"github.com/glimte/mailrelay/health"
	"github.com/glimte/mailrelay/interceptors"
	"github.com/glimte/mailrelay/internal/rabbitmq"
	"github.com/glimte/mailrelay/internal/reliability"
	"github.com/glimte/mailrelay/mail"
	"github.com/glimte/mailrelay/messaging"
	"github.com/glimte/mailrelay/metrics"
	"github.com/glimte/mailrelay/serialization"
	"golang.org/x/sync/errgroup"
)

// ErrConsumerStopped is returned by Run when the broker ends the delivery
// stream of a queue. The process is expected to exit and be restarted.
var ErrConsumerStopped = errors.New("mailrelay: consumer stopped")

// Service runs the relay: it declares the topology, consumes every relay
// queue and serves the health and metrics endpoints
type Service struct {
	cfg      config.Config
	logger   *slog.Logger
	broker   Broker
	failures *reliability.FailureLog
	topology rabbitmq.Topology
	handler  interceptors.MessageHandler
	health   *health.Registry
	mux      *http.ServeMux

	addrMu sync.Mutex
	addr   net.Addr

	closeOnce sync.Once
	closeErr  error
}

// Option configures the service
type Option func(*serviceConfig)

type serviceConfig struct {
	logger  *slog.Logger
	broker  Broker
	sender  mail.Sender
	sleeper reliability.Sleeper
}

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *serviceConfig) {
		cfg.logger = logger
	}
}

// WithBroker replaces the RabbitMQ broker
func WithBroker(broker Broker) Option {
	return func(cfg *serviceConfig) {
		cfg.broker = broker
	}
}

// WithSender replaces the SMTP sender
func WithSender(sender mail.Sender) Option {
	return func(cfg *serviceConfig) {
		cfg.sender = sender
	}
}

// WithSleeper replaces the timer used between delivery attempts
func WithSleeper(sleeper reliability.Sleeper) Option {
	return func(cfg *serviceConfig) {
		cfg.sleeper = sleeper
	}
}

// NewService wires the relay from cfg. Nothing is connected until Run.
func NewService(cfg config.Config, options ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sc := &serviceConfig{
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(sc)
	}
	logger := sc.logger

	for _, warning := range cfg.MailWarnings() {
		logger.Warn("incomplete mail configuration, sends will fail", "problem", warning)
	}

	if sc.broker == nil {
		broker, err := NewAMQPBroker(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create broker: %w", err)
		}
		sc.broker = broker
	}

	if sc.sender == nil {
		sc.sender = mail.NewSMTPSender(cfg.SMTPConfig(), mail.WithSenderLogger(logger))
	}

	failures := reliability.NewFailureLog(cfg.Delivery.FailureLogSize)

	delivererOpts := []mail.DelivererOption{
		mail.WithMaxAttempts(cfg.Delivery.MaxAttempts),
		mail.WithRetryDelay(cfg.Delivery.RetryDelay),
		mail.WithFailureLog(failures),
		mail.WithDelivererLogger(logger),
	}
	if sc.sleeper != nil {
		delivererOpts = append(delivererOpts, mail.WithSleeper(sc.sleeper))
	}

	relay := messaging.NewRelay(
		serialization.NewNormalizer(
			serialization.WithSagaRoutingKey(cfg.Saga.RoutingKey),
			serialization.WithSagaQueue(cfg.Saga.Queue),
			serialization.WithLogger(logger),
		),
		messaging.NewRouter(messaging.WithRouterLogger(logger)),
		mail.NewDeliverer(sc.sender, delivererOpts...),
		messaging.WithRelayLogger(logger),
	)

	chain := interceptors.NewDefaultInterceptorChainBuilder(logger).
		WithLogging().
		WithMetrics(metrics.NewRelayCollector()).
		WithRecovery().
		Build()

	topology := rabbitmq.MailRelayTopology(cfg.SagaNames())

	registry := health.NewRegistry()
	registry.Register(health.NewConnectionChecker(sc.broker))
	registry.Register(health.NewConsumerChecker(sc.broker, topology.QueueNames()...))
	registry.Register(health.NewDeliveryChecker(failures))
	registry.Register(health.NewRuntimeChecker(500, 1000))
	if inspector, ok := sc.broker.(health.QueueInspector); ok {
		for _, queue := range topology.QueueNames() {
			registry.Register(health.NewQueueChecker(queue, inspector, cfg.Server.QueueDepthWarning))
		}
	}
	registry.SetMetadata("service", "mailrelay")
	registry.SetMetadata("queues", topology.QueueNames())

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.MetricsHandler())
	health.Mount(mux, registry, cfg.Server.HealthTimeout)

	return &Service{
		cfg:      cfg,
		logger:   logger,
		broker:   sc.broker,
		failures: failures,
		topology: topology,
		handler:  chain.Then(relay),
		health:   registry,
		mux:      mux,
	}, nil
}

// Handler returns the per-message handler including its interceptors
func (s *Service) Handler() interceptors.MessageHandler {
	return s.handler
}

// Health returns the health registry
func (s *Service) Health() *health.Registry {
	return s.health
}

// OpsHandler serves /metrics, /healthz, /readyz and /livez
func (s *Service) OpsHandler() http.Handler {
	return s.mux
}

// Failures returns the log of dropped deliveries
func (s *Service) Failures() *reliability.FailureLog {
	return s.failures
}

// Addr returns the address of the ops server once it is listening
func (s *Service) Addr() net.Addr {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addr
}

// Run connects, declares the topology and consumes every relay queue until
// ctx is done. A topology failure is returned before any queue is consumed.
// Run returns ErrConsumerStopped when the broker stops a consumer.
func (s *Service) Run(ctx context.Context) error {
	if err := s.broker.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	if err := s.broker.DeclareTopology(ctx, s.topology); err != nil {
		return err
	}
	s.logger.Info("topology declared",
		"exchanges", len(s.topology.Exchanges),
		"queues", len(s.topology.Queues),
		"bindings", len(s.topology.Bindings),
	)

	listener, err := net.Listen("tcp", s.cfg.Server.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.ListenAddress, err)
	}
	s.addrMu.Lock()
	s.addr = listener.Addr()
	s.addrMu.Unlock()

	server := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: s.cfg.Server.HealthTimeout,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		s.logger.Info("ops server listening", "address", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	for _, queue := range s.topology.QueueNames() {
		stopped, err := s.broker.Subscribe(ctx, queue, s.handler.Handle)
		if err != nil {
			cancel()
			g.Wait()
			return fmt.Errorf("failed to consume %s: %w", queue, err)
		}

		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-stopped:
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: %s", ErrConsumerStopped, queue)
			}
		})
	}

	s.logger.Info("relay running", "queues", s.topology.QueueNames())

	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Info("relay stopping")
	return nil
}

// Close stops the consumers, settling in-flight messages, and closes the
// broker connection
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.broker.Close()
	})
	return s.closeErr
}
