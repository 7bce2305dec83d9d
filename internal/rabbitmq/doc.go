// Package rabbitmq provides the RabbitMQ plumbing of the relay.
//
// This package includes:
//   - ConnectionManager: owns the connection and reconnects when the broker drops it
//   - ChannelPool: hands out and reuses channels of the managed connection
//   - TopologyManager: declares exchanges, queues and bindings before consumption
//   - Consumer: consumes several queues over one channel with one worker per queue
//   - Publisher: publishes with publisher confirms
//
// The consumer never acknowledges from a worker goroutine directly. Acks and
// nacks are sent to the goroutine that owns the channel and the worker waits
// for the result, so messages of a queue are settled in processing order.
package rabbitmq
