package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/glimte/mailrelay/contracts"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// Topology represents the complete messaging topology
type Topology struct {
	Exchanges []ExchangeDeclaration
	Queues    []QueueDeclaration
	Bindings  []Binding
}

// Validate checks that every binding refers to a declared exchange and queue
func (t Topology) Validate() error {
	exchanges := make(map[string]bool, len(t.Exchanges))
	for _, e := range t.Exchanges {
		if e.Name == "" || e.Type == "" {
			return fmt.Errorf("%w: exchange needs a name and a type", ErrInvalidTopology)
		}
		exchanges[e.Name] = true
	}

	queues := make(map[string]bool, len(t.Queues))
	for _, q := range t.Queues {
		if q.Name == "" {
			return fmt.Errorf("%w: queue needs a name", ErrInvalidTopology)
		}
		queues[q.Name] = true
	}

	for _, b := range t.Bindings {
		if !exchanges[b.Exchange] {
			return fmt.Errorf("%w: binding of %s refers to undeclared exchange %q", ErrInvalidTopology, b.Queue, b.Exchange)
		}
		if !queues[b.Queue] {
			return fmt.Errorf("%w: binding refers to undeclared queue %q", ErrInvalidTopology, b.Queue)
		}
	}

	return nil
}

// QueueNames returns the declared queue names in order
func (t Topology) QueueNames() []string {
	names := make([]string, len(t.Queues))
	for i, q := range t.Queues {
		names[i] = q.Name
	}
	return names
}

// SagaNames are the externally configured names of the saga command route
type SagaNames struct {
	Exchange   string
	Queue      string
	RoutingKey string
}

// MailRelayTopology returns the exchanges, queues and bindings consumed by the
// relay. All exchanges are durable topic exchanges and all queues are durable.
func MailRelayTopology(saga SagaNames) Topology {
	t := Topology{
		Exchanges: []ExchangeDeclaration{
			{Name: contracts.DomainEventsExchange, Type: amqp.ExchangeTopic, Durable: true},
			{Name: contracts.InvestmentExchange, Type: amqp.ExchangeTopic, Durable: true},
			{Name: saga.Exchange, Type: amqp.ExchangeTopic, Durable: true},
		},
		Queues: []QueueDeclaration{
			{Name: contracts.UserRegisteredQueue, Durable: true},
			{Name: contracts.UserCreatedQueue, Durable: true},
			{Name: saga.Queue, Durable: true},
		},
		Bindings: []Binding{
			{Queue: contracts.UserRegisteredQueue, Exchange: contracts.DomainEventsExchange, RoutingKey: contracts.UserRegisteredKey},
		},
	}

	for _, key := range contracts.UserCreatedKeys {
		t.Bindings = append(t.Bindings, Binding{
			Queue:      contracts.UserCreatedQueue,
			Exchange:   contracts.InvestmentExchange,
			RoutingKey: key,
		})
	}

	t.Bindings = append(t.Bindings, Binding{
		Queue:      saga.Queue,
		Exchange:   saga.Exchange,
		RoutingKey: saga.RoutingKey,
	})

	return t
}

// TopologyChannel is the subset of *amqp.Channel used to declare topology
type TopologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// TopologyManager declares exchanges, queues and bindings
type TopologyManager struct {
	pool *ChannelPool
}

// NewTopologyManager creates a new topology manager
func NewTopologyManager(pool *ChannelPool) *TopologyManager {
	return &TopologyManager{
		pool: pool,
	}
}

// DeclareTopology declares every exchange, then every queue, then every
// binding. The first failure stops the declaration and is returned as a
// *TopologyError. Declaring an existing entity with the same parameters is a
// no-op on the broker.
func (tm *TopologyManager) DeclareTopology(ctx context.Context, topology Topology) error {
	if err := topology.Validate(); err != nil {
		return &TopologyError{Component: "topology", Name: "mailrelay", Op: "validate", Err: err, Timestamp: time.Now()}
	}

	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		return DeclareOn(ch, topology)
	})
	if err != nil && !IsTopologyError(err) {
		return &TopologyError{Component: "channel", Name: "topology", Op: "open", Err: err, Timestamp: time.Now()}
	}
	return err
}

// DeclareOn declares topology on ch
func DeclareOn(ch TopologyChannel, topology Topology) error {
	for _, exchange := range topology.Exchanges {
		if err := ch.ExchangeDeclare(
			exchange.Name,
			exchange.Type,
			exchange.Durable,
			exchange.AutoDelete,
			false, // internal
			false, // no-wait
			exchange.Arguments,
		); err != nil {
			return &TopologyError{Component: "exchange", Name: exchange.Name, Op: "declare", Err: err, Timestamp: time.Now()}
		}
	}

	for _, queue := range topology.Queues {
		if _, err := ch.QueueDeclare(
			queue.Name,
			queue.Durable,
			queue.AutoDelete,
			queue.Exclusive,
			false, // no-wait
			queue.Arguments,
		); err != nil {
			return &TopologyError{Component: "queue", Name: queue.Name, Op: "declare", Err: err, Timestamp: time.Now()}
		}
	}

	for _, binding := range topology.Bindings {
		if err := ch.QueueBind(
			binding.Queue,
			binding.RoutingKey,
			binding.Exchange,
			false, // no-wait
			binding.Arguments,
		); err != nil {
			return &TopologyError{
				Component: "binding",
				Name:      fmt.Sprintf("%s -> %s (%s)", binding.Exchange, binding.Queue, binding.RoutingKey),
				Op:        "declare",
				Err:       err,
				Timestamp: time.Now(),
			}
		}
	}

	return nil
}
