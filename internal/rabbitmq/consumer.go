package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/mailrelay/contracts"
	"github.com/glimte/mailrelay/metrics"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler processes one message. A nil result acknowledges the
// message, an error rejects it with requeue.
type MessageHandler func(ctx context.Context, msg contracts.InboundMessage) error

// ConsumerChannel is the subset of *amqp.Channel used by the consumer
type ConsumerChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
}

// channelSource opens the consumer channel and returns a function releasing it
type channelSource func(ctx context.Context) (ConsumerChannel, func(), error)

// channelOp is run by the channel owner goroutine
type channelOp struct {
	fn    func(ch ConsumerChannel) error
	reply chan error
}

// Consumer consumes several queues over one shared channel. Each queue has its
// own worker goroutine processing deliveries one at a time. Every operation on
// the channel, acks and nacks included, runs on a single owner goroutine; a
// worker waits for the ack of a delivery before it takes the next one.
type Consumer struct {
	source        channelSource
	prefetchCount int
	tagPrefix     string
	drainTimeout  time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	ch      ConsumerChannel
	release func()
	ops     chan channelOp
	ownerWG sync.WaitGroup
	started bool
	closed  bool

	activeConsumers sync.Map // queue -> *ConsumerInfo
	workers         sync.WaitGroup
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the prefetch count of the shared channel
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithConsumerTag sets the prefix of the generated consumer tags
func WithConsumerTag(prefix string) ConsumerOption {
	return func(c *Consumer) {
		c.tagPrefix = prefix
	}
}

// WithDrainTimeout bounds how long a stopped worker waits for the cancelled
// delivery stream to close while requeueing what is left in it
func WithDrainTimeout(timeout time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.drainTimeout = timeout
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a consumer taking its channel from pool
func NewConsumer(pool *ChannelPool, options ...ConsumerOption) *Consumer {
	source := func(ctx context.Context) (ConsumerChannel, func(), error) {
		pc, err := pool.Get(ctx)
		if err != nil {
			return nil, nil, err
		}
		return pc, func() { pool.Put(pc) }, nil
	}
	return newConsumer(source, options...)
}

// NewChannelConsumer creates a consumer on a channel owned by the caller
func NewChannelConsumer(ch ConsumerChannel, options ...ConsumerOption) *Consumer {
	source := func(context.Context) (ConsumerChannel, func(), error) {
		return ch, func() {}, nil
	}
	return newConsumer(source, options...)
}

func newConsumer(source channelSource, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		source:        source,
		prefetchCount: 10,
		tagPrefix:     "mailrelay",
		drainTimeout:  2 * time.Second,
		logger:        slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// ConsumerInfo tracks an active queue consumer
type ConsumerInfo struct {
	Queue       string
	ConsumerTag string
	Since       time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}

// Done is closed when the worker of the queue has stopped
func (i *ConsumerInfo) Done() <-chan struct{} {
	return i.done
}

// start opens the shared channel and starts its owner goroutine
func (c *Consumer) start(ctx context.Context) error {
	if c.closed {
		return ErrConsumerClosed
	}
	if c.started {
		return nil
	}

	ch, release, err := c.source(ctx)
	if err != nil {
		return err
	}

	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		release()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	c.ch = ch
	c.release = release
	c.ops = make(chan channelOp)
	c.started = true

	c.ownerWG.Add(1)
	go c.ownChannel(ch, c.ops)

	return nil
}

// ownChannel runs channel operations in submission order until ops is closed
func (c *Consumer) ownChannel(ch ConsumerChannel, ops <-chan channelOp) {
	defer c.ownerWG.Done()

	for op := range ops {
		op.reply <- c.runOp(ch, op)
	}
}

func (c *Consumer) runOp(ch ConsumerChannel, op channelOp) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in channel operation: %v", r)
		}
	}()
	return op.fn(ch)
}

// do submits fn to the owner goroutine and waits for its result. It must only
// be called while the owner is running.
func (c *Consumer) do(fn func(ch ConsumerChannel) error) error {
	reply := make(chan error, 1)
	c.ops <- channelOp{fn: fn, reply: reply}
	return <-reply
}

// Subscribe starts consuming queue. Deliveries are handled one at a time by a
// dedicated worker until Unsubscribe or Close is called, or the broker stops
// the delivery stream.
func (c *Consumer) Subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.activeConsumers.Load(queue); exists {
		return &ConsumerError{Queue: queue, Op: "subscribe", Err: ErrAlreadySubscribed, Timestamp: time.Now()}
	}

	if err := c.start(ctx); err != nil {
		return &ConsumerError{Queue: queue, Op: "subscribe", Err: err, Timestamp: time.Now()}
	}

	tag := fmt.Sprintf("%s-%s-%s", c.tagPrefix, queue, uuid.New().String()[:8])

	var deliveries <-chan amqp.Delivery
	err := c.do(func(ch ConsumerChannel) error {
		var err error
		deliveries, err = ch.Consume(
			queue,
			tag,
			false, // manual ack
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,
		)
		return err
	})
	if err != nil {
		return &ConsumerError{
			Queue:       queue,
			ConsumerTag: tag,
			Op:          "consume",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	info := &ConsumerInfo{
		Queue:       queue,
		ConsumerTag: tag,
		Since:       time.Now(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	c.activeConsumers.Store(queue, info)
	metrics.ActiveConsumers.Inc()

	c.workers.Add(1)
	go c.processMessages(workerCtx, info, deliveries, handler)

	c.logger.Info("subscribed to queue",
		"queue", queue,
		"consumerTag", tag,
		"prefetchCount", c.prefetchCount,
	)

	return nil
}

// processMessages is the receive loop of one queue
func (c *Consumer) processMessages(ctx context.Context, info *ConsumerInfo, deliveries <-chan amqp.Delivery, handler MessageHandler) {
	defer func() {
		c.activeConsumers.Delete(info.Queue)
		metrics.ActiveConsumers.Dec()
		close(info.done)
		c.workers.Done()
		c.logger.Info("consumer stopped", "queue", info.Queue)
	}()

	for {
		select {
		case <-ctx.Done():
			c.drain(info.Queue, deliveries)
			return
		default:
		}

		select {
		case <-ctx.Done():
			c.drain(info.Queue, deliveries)
			return

		case delivery, ok := <-deliveries:
			if !ok {
				if ctx.Err() == nil {
					c.logger.Warn("delivery channel closed", "queue", info.Queue, "error", ErrDeliveriesStopped)
				}
				return
			}
			c.handleDelivery(ctx, info.Queue, delivery, handler)
		}
	}
}

// handleDelivery runs the handler and settles the delivery exactly once
func (c *Consumer) handleDelivery(ctx context.Context, queue string, delivery amqp.Delivery, handler MessageHandler) {
	msg := contracts.InboundMessage{
		Queue:       queue,
		RoutingKey:  delivery.RoutingKey,
		Body:        delivery.Body,
		MessageID:   delivery.MessageId,
		Redelivered: delivery.Redelivered,
	}

	err := c.runHandler(ctx, msg, handler)

	if err != nil {
		metrics.MessagesHandled.WithLabelValues(queue, metrics.OutcomeRequeued).Inc()
		c.logger.Warn("requeueing message",
			"queue", queue,
			"routingKey", msg.RoutingKey,
			"messageId", msg.MessageID,
			"deliveryTag", delivery.DeliveryTag,
			"error", err,
		)
	}

	c.settle(queue, delivery, err != nil)
}

// settle acks the delivery, or nacks it with requeue, on the owner goroutine
func (c *Consumer) settle(queue string, delivery amqp.Delivery, requeue bool) {
	ackErr := c.do(func(ConsumerChannel) error {
		if requeue {
			return delivery.Nack(false, true)
		}
		return delivery.Ack(false)
	})
	if ackErr != nil {
		metrics.MessageAckFailures.WithLabelValues(queue).Inc()
		c.logger.Error("failed to settle message",
			"queue", queue,
			"deliveryTag", delivery.DeliveryTag,
			"requeue", requeue,
			"error", ackErr,
		)
	}
}

// drain requeues the deliveries prefetched before the consumer was cancelled.
// It returns when the stream closes or the drain timeout passes.
func (c *Consumer) drain(queue string, deliveries <-chan amqp.Delivery) {
	timer := time.NewTimer(c.drainTimeout)
	defer timer.Stop()

	requeued := 0
	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				if requeued > 0 {
					c.logger.Info("requeued prefetched messages", "queue", queue, "count", requeued)
				}
				return
			}
			metrics.MessagesHandled.WithLabelValues(queue, metrics.OutcomeRequeued).Inc()
			c.settle(queue, delivery, true)
			requeued++
		case <-timer.C:
			c.logger.Warn("delivery stream still open after cancel",
				"queue", queue, "requeued", requeued, "timeout", c.drainTimeout)
			return
		}
	}
}

func (c *Consumer) runHandler(ctx context.Context, msg contracts.InboundMessage, handler MessageHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in message handler: %v", r)
		}
	}()
	return handler(ctx, msg)
}

// Unsubscribe cancels the broker consumer of queue, waits for its worker to
// finish the message in flight and requeues the prefetched rest
func (c *Consumer) Unsubscribe(queue string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConsumerClosed
	}

	value, ok := c.activeConsumers.Load(queue)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoActiveConsumer, queue)
	}
	info := value.(*ConsumerInfo)

	c.stopWorker(info)
	return nil
}

func (c *Consumer) stopWorker(info *ConsumerInfo) {
	err := c.do(func(ch ConsumerChannel) error {
		return ch.Cancel(info.ConsumerTag, false)
	})
	if err != nil {
		c.logger.Warn("failed to cancel consumer", "queue", info.Queue, "consumerTag", info.ConsumerTag, "error", err)
	}

	info.cancel()
	<-info.done
}

// Close stops every worker, waits for in-flight messages to be settled, stops
// the channel owner and releases the channel
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if !c.started {
		return nil
	}

	var wg sync.WaitGroup
	c.activeConsumers.Range(func(_, value any) bool {
		wg.Add(1)
		go func(info *ConsumerInfo) {
			defer wg.Done()
			c.stopWorker(info)
		}(value.(*ConsumerInfo))
		return true
	})
	wg.Wait()
	c.workers.Wait()

	close(c.ops)
	c.ownerWG.Wait()
	c.release()

	c.logger.Info("consumer closed")
	return nil
}

// Consumer returns the info of the active consumer of queue
func (c *Consumer) Consumer(queue string) (*ConsumerInfo, bool) {
	value, ok := c.activeConsumers.Load(queue)
	if !ok {
		return nil, false
	}
	return value.(*ConsumerInfo), true
}

// GetActiveConsumers returns the queues currently consumed
func (c *Consumer) GetActiveConsumers() []string {
	var queues []string
	c.activeConsumers.Range(func(key, _ any) bool {
		queues = append(queues, key.(string))
		return true
	})
	return queues
}
