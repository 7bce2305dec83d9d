// Package messaging decides what to do with a consumed message.
//
// Router maps a decoded event to the email that should be sent, or to no email
// at all. Relay is the per-message handler run by the consumer: it decodes,
// routes and delivers, and its return value tells the consumer whether to
// acknowledge (nil) or requeue (non-nil) the message.
//
//	relay := messaging.NewRelay(normalizer, router, deliverer)
//	err := relay.Handle(ctx, msg)
package messaging
