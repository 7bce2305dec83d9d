package serialization

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/mailrelay/contracts"
	"github.com/tailscale/hujson"
)

// Normalizer maps a consumed queue, or failing that a routing key, to its event
// family and decodes payloads with the family's schemas in order
type Normalizer struct {
	mu        sync.RWMutex
	queues    map[string]contracts.EventKind
	routes    map[string]contracts.EventKind
	schemas   map[contracts.EventKind][]Schema
	sagaKey   string
	sagaQueue string
	logger    *slog.Logger
}

// NormalizerOption configures the Normalizer
type NormalizerOption func(*Normalizer)

// WithSagaRoutingKey sets the routing key of saga email commands
func WithSagaRoutingKey(key string) NormalizerOption {
	return func(n *Normalizer) {
		n.sagaKey = key
	}
}

// WithSagaQueue sets the queue saga email commands are consumed from
func WithSagaQueue(queue string) NormalizerOption {
	return func(n *Normalizer) {
		n.sagaQueue = queue
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) NormalizerOption {
	return func(n *Normalizer) {
		n.logger = logger
	}
}

// NewNormalizer creates a normalizer with the built in families and schemas
func NewNormalizer(options ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		queues:    make(map[string]contracts.EventKind),
		routes:    make(map[string]contracts.EventKind),
		schemas:   make(map[contracts.EventKind][]Schema),
		sagaKey:   contracts.DefaultSagaRoutingKey,
		sagaQueue: contracts.DefaultSagaQueue,
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(n)
	}

	n.routes[contracts.UserRegisteredKey] = contracts.KindUserRegistered
	for _, key := range contracts.UserCreatedKeys {
		n.routes[key] = contracts.KindUserCreated
	}
	// a saga key never replaces a fixed key
	if _, taken := n.routes[n.sagaKey]; !taken {
		n.routes[n.sagaKey] = contracts.KindEmailCommand
	}

	n.queues[contracts.UserRegisteredQueue] = contracts.KindUserRegistered
	n.queues[contracts.UserCreatedQueue] = contracts.KindUserCreated
	if _, taken := n.queues[n.sagaQueue]; !taken {
		n.queues[n.sagaQueue] = contracts.KindEmailCommand
	}

	n.schemas[contracts.KindUserRegistered] = UserRegisteredSchemas()
	n.schemas[contracts.KindUserCreated] = UserCreatedSchemas()
	n.schemas[contracts.KindEmailCommand] = EmailCommandSchemas()

	return n
}

// Route binds an extra routing key to an existing family
func (n *Normalizer) Route(routingKey string, kind contracts.EventKind) error {
	if routingKey == "" {
		return fmt.Errorf("routing key cannot be empty")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if existing, exists := n.routes[routingKey]; exists {
		if existing == kind {
			return nil
		}
		return fmt.Errorf("routing key %s already bound to %s", routingKey, existing)
	}
	if _, known := n.schemas[kind]; !known {
		return fmt.Errorf("no schemas registered for %s", kind)
	}

	n.routes[routingKey] = kind
	return nil
}

// Family returns the event family bound to routingKey
func (n *Normalizer) Family(routingKey string) (contracts.EventKind, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	kind, ok := n.routes[routingKey]
	return kind, ok
}

// RoutingKeys returns every routing key with a family
func (n *Normalizer) RoutingKeys() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	keys := make([]string, 0, len(n.routes))
	for key := range n.routes {
		keys = append(keys, key)
	}
	return keys
}

// QueueFamily returns the event family consumed from queue
func (n *Normalizer) QueueFamily(queue string) (contracts.EventKind, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	kind, ok := n.queues[queue]
	return kind, ok
}

// NormalizeMessage decodes msg into the event of the family bound to its
// queue. Messages from unknown queues fall back to the routing key.
func (n *Normalizer) NormalizeMessage(msg contracts.InboundMessage) (contracts.Event, error) {
	n.mu.RLock()
	kind, ok := n.queues[msg.Queue]
	if !ok {
		kind, ok = n.routes[msg.RoutingKey]
	}
	schemas := n.schemas[kind]
	n.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s (queue %s)", contracts.ErrUnknownRoutingKey, msg.RoutingKey, msg.Queue)
	}
	return n.decode(msg.RoutingKey, schemas, msg.Body)
}

// Normalize decodes payload into the event of the family bound to routingKey.
// It returns contracts.ErrUnknownRoutingKey for unbound keys and a
// *contracts.DecodeError when no schema accepts the payload.
func (n *Normalizer) Normalize(routingKey string, payload []byte) (contracts.Event, error) {
	n.mu.RLock()
	kind, ok := n.routes[routingKey]
	schemas := n.schemas[kind]
	n.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", contracts.ErrUnknownRoutingKey, routingKey)
	}
	return n.decode(routingKey, schemas, payload)
}

func (n *Normalizer) decode(routingKey string, schemas []Schema, payload []byte) (contracts.Event, error) {
	names := make([]string, len(schemas))
	for i, s := range schemas {
		names[i] = s.Name
	}

	// Standardize rewrites in place
	data, err := hujson.Standardize(append([]byte(nil), payload...))
	if err != nil {
		return nil, &contracts.DecodeError{RoutingKey: routingKey, Attempts: names, Err: err}
	}

	var lastErr error
	for _, s := range schemas {
		event, err := s.Decode(data)
		if err == nil && event != nil {
			return event, nil
		}
		if err == nil {
			err = errors.New(s.Name + ": no result")
		}
		n.logger.Debug("schema did not match", "routingKey", routingKey, "schema", s.Name, "error", err)
		lastErr = err
	}

	return nil, &contracts.DecodeError{RoutingKey: routingKey, Attempts: names, Err: lastErr}
}
