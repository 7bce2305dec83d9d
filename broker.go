package mailrelay

import (
	"context"
	"errors"
	"log/slog"

	"github.com/glimte/mailrelay/config"
	"github.com/glimte/mailrelay/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the message broker as seen by the service
type Broker interface {
	Connect(ctx context.Context) error
	DeclareTopology(ctx context.Context, topology rabbitmq.Topology) error
	// Subscribe starts consuming queue. The returned channel is closed when
	// the consumer stops.
	Subscribe(ctx context.Context, queue string, handler rabbitmq.MessageHandler) (<-chan struct{}, error)
	GetActiveConsumers() []string
	IsConnected() bool
	Close() error
}

// AMQPBroker is the RabbitMQ Broker
type AMQPBroker struct {
	conn     *rabbitmq.ConnectionManager
	pool     *rabbitmq.ChannelPool
	topology *rabbitmq.TopologyManager
	consumer *rabbitmq.Consumer
}

// NewAMQPBroker creates a broker from the rabbitmq and consumer settings
func NewAMQPBroker(cfg config.Config, logger *slog.Logger) (*AMQPBroker, error) {
	conn := rabbitmq.NewConnectionManager(cfg.BrokerURL(),
		rabbitmq.WithLogger(logger),
		rabbitmq.WithConnectionName(cfg.RabbitMQ.ConnectionName),
		rabbitmq.WithHeartbeat(cfg.RabbitMQ.Heartbeat),
		rabbitmq.WithDialTimeout(cfg.RabbitMQ.DialTimeout),
		rabbitmq.WithReconnectDelay(cfg.RabbitMQ.ReconnectDelay),
		rabbitmq.WithMaxRetries(cfg.RabbitMQ.MaxReconnects),
	)

	pool, err := rabbitmq.NewChannelPool(conn,
		rabbitmq.WithMaxSize(cfg.RabbitMQ.ChannelPoolSize),
		rabbitmq.WithChannelLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	return &AMQPBroker{
		conn:     conn,
		pool:     pool,
		topology: rabbitmq.NewTopologyManager(pool),
		consumer: rabbitmq.NewConsumer(pool,
			rabbitmq.WithPrefetchCount(cfg.Consumer.Prefetch),
			rabbitmq.WithConsumerTag(cfg.Consumer.TagPrefix),
			rabbitmq.WithConsumerLogger(logger),
		),
	}, nil
}

// Pool returns the channel pool, shared with publishers
func (b *AMQPBroker) Pool() *rabbitmq.ChannelPool {
	return b.pool
}

func (b *AMQPBroker) Connect(ctx context.Context) error {
	return b.conn.Connect(ctx)
}

func (b *AMQPBroker) DeclareTopology(ctx context.Context, topology rabbitmq.Topology) error {
	return b.topology.DeclareTopology(ctx, topology)
}

func (b *AMQPBroker) Subscribe(ctx context.Context, queue string, handler rabbitmq.MessageHandler) (<-chan struct{}, error) {
	if err := b.consumer.Subscribe(ctx, queue, handler); err != nil {
		return nil, err
	}

	info, ok := b.consumer.Consumer(queue)
	if !ok {
		// the worker stopped before it could be looked up
		stopped := make(chan struct{})
		close(stopped)
		return stopped, nil
	}
	return info.Done(), nil
}

func (b *AMQPBroker) GetActiveConsumers() []string {
	return b.consumer.GetActiveConsumers()
}

func (b *AMQPBroker) IsConnected() bool {
	return b.conn.IsConnected()
}

// Close stops the consumer before the pool and the connection
func (b *AMQPBroker) Close() error {
	return errors.Join(
		b.consumer.Close(),
		b.pool.Close(),
		b.conn.Close(),
	)
}

// InspectQueue returns the ready message and consumer counts of queue
func (b *AMQPBroker) InspectQueue(ctx context.Context, name string) (messages, consumers int, err error) {
	err = b.pool.Execute(ctx, func(ch *amqp.Channel) error {
		q, err := ch.QueueDeclarePassive(name, true, false, false, false, nil)
		if err != nil {
			return err
		}
		messages, consumers = q.Messages, q.Consumers
		return nil
	})
	return messages, consumers, err
}
