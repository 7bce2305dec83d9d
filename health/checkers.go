package health

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"time"

	"github.com/glimte/mailrelay/internal/reliability"
)

// ConnectionState reports whether the broker connection is up
type ConnectionState interface {
	IsConnected() bool
}

// ConnectionChecker checks the broker connection
type ConnectionChecker struct {
	conn ConnectionState
}

// NewConnectionChecker creates a connection checker
func NewConnectionChecker(conn ConnectionState) *ConnectionChecker {
	return &ConnectionChecker{conn: conn}
}

func (c *ConnectionChecker) Name() string {
	return "rabbitmq"
}

func (c *ConnectionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	connected := c.conn.IsConnected()
	result.Details["connected"] = connected
	if connected {
		result.Status = StatusHealthy
		result.Message = "connection is open"
	} else {
		result.Status = StatusUnhealthy
		result.Message = "connection is not ready"
	}

	result.Duration = time.Since(start)
	return result
}

// ConsumerSet reports which queues have a running consumer
type ConsumerSet interface {
	GetActiveConsumers() []string
}

// ConsumerChecker checks that every expected queue is being consumed
type ConsumerChecker struct {
	consumers ConsumerSet
	queues    []string
}

// NewConsumerChecker creates a checker expecting a consumer on each queue
func NewConsumerChecker(consumers ConsumerSet, queues ...string) *ConsumerChecker {
	return &ConsumerChecker{
		consumers: consumers,
		queues:    queues,
	}
}

func (c *ConsumerChecker) Name() string {
	return "consumers"
}

func (c *ConsumerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	active := c.consumers.GetActiveConsumers()
	var missing []string
	for _, queue := range c.queues {
		if !slices.Contains(active, queue) {
			missing = append(missing, queue)
		}
	}

	slices.Sort(active)
	result.Details["active"] = active
	if len(missing) > 0 {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("%d of %d queues have no consumer", len(missing), len(c.queues))
		result.Details["missing"] = missing
	} else {
		result.Status = StatusHealthy
		result.Message = "all queues consumed"
	}

	result.Duration = time.Since(start)
	return result
}

// DeliveryChecker reports exhausted deliveries. Any failure within the window
// degrades the report; the relay itself keeps running.
type DeliveryChecker struct {
	failures *reliability.FailureLog
	window   time.Duration
	recent   int
	now      func() time.Time
}

// DeliveryCheckerOption configures the DeliveryChecker
type DeliveryCheckerOption func(*DeliveryChecker)

// WithWindow sets how long a failure keeps the check degraded
func WithWindow(window time.Duration) DeliveryCheckerOption {
	return func(c *DeliveryChecker) {
		c.window = window
	}
}

// WithRecentFailures sets how many failures are listed in the details
func WithRecentFailures(n int) DeliveryCheckerOption {
	return func(c *DeliveryChecker) {
		c.recent = n
	}
}

// WithCheckerClock sets the time source
func WithCheckerClock(now func() time.Time) DeliveryCheckerOption {
	return func(c *DeliveryChecker) {
		c.now = now
	}
}

// NewDeliveryChecker creates a checker over the failure log
func NewDeliveryChecker(failures *reliability.FailureLog, options ...DeliveryCheckerOption) *DeliveryChecker {
	c := &DeliveryChecker{
		failures: failures,
		window:   15 * time.Minute,
		recent:   5,
		now:      time.Now,
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

func (c *DeliveryChecker) Name() string {
	return "delivery"
}

func (c *DeliveryChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	stats := c.failures.Stats()
	result.Details["exhausted_total"] = stats.Total

	if stats.Last != nil && c.now().Sub(*stats.Last) <= c.window {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("deliveries dropped within the last %v", c.window)
		result.Details["recent"] = c.failures.Recent(c.recent)
	} else {
		result.Status = StatusHealthy
		result.Message = "no recent delivery failures"
	}

	result.Duration = time.Since(start)
	return result
}

// RuntimeChecker checks the goroutine count of the process
type RuntimeChecker struct {
	warnGoroutines     int
	criticalGoroutines int
}

// NewRuntimeChecker creates a runtime checker with goroutine thresholds
func NewRuntimeChecker(warnGoroutines, criticalGoroutines int) *RuntimeChecker {
	return &RuntimeChecker{
		warnGoroutines:     warnGoroutines,
		criticalGoroutines: criticalGoroutines,
	}
}

func (c *RuntimeChecker) Name() string {
	return "runtime"
}

func (c *RuntimeChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()

	result.Details["memory_used_mb"] = float64(m.Sys) / 1024 / 1024
	result.Details["gc_runs"] = m.NumGC
	result.Details["goroutines"] = goroutines

	switch {
	case goroutines > c.criticalGoroutines:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("too many goroutines: %d", goroutines)
	case goroutines > c.warnGoroutines:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("high goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "runtime is normal"
	}

	result.Duration = time.Since(start)
	return result
}

// QueueInspector reports the depth of a queue
type QueueInspector interface {
	InspectQueue(ctx context.Context, name string) (messages, consumers int, err error)
}

// QueueChecker checks that a queue is accessible and not backing up
type QueueChecker struct {
	queue       string
	inspector   QueueInspector
	maxMessages int
}

// NewQueueChecker creates a checker degrading above maxMessages ready messages
func NewQueueChecker(queue string, inspector QueueInspector, maxMessages int) *QueueChecker {
	return &QueueChecker{
		queue:       queue,
		inspector:   inspector,
		maxMessages: maxMessages,
	}
}

func (c *QueueChecker) Name() string {
	return fmt.Sprintf("queue_%s", c.queue)
}

func (c *QueueChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	messages, consumers, err := c.inspector.InspectQueue(ctx, c.queue)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("queue %s not accessible", c.queue)
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	result.Details["message_count"] = messages
	result.Details["consumer_count"] = consumers

	if messages > c.maxMessages {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("queue %s has high message count", c.queue)
	} else {
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("queue %s is accessible", c.queue)
	}

	result.Duration = time.Since(start)
	return result
}
