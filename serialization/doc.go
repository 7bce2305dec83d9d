// Package serialization turns raw broker payloads into typed events.
//
// Every consumed queue maps to an event family, with the routing key as a
// fallback for queues the relay does not own. Every family has an ordered list
// of schemas. A payload is decoded with the first schema that accepts it:
//
//	n := serialization.NewNormalizer(serialization.WithSagaQueue("email.command.queue"))
//	event, err := n.NormalizeMessage(msg)
//
// Decoding tolerates comments and trailing commas, and matches field names
// case-insensitively.
package serialization
