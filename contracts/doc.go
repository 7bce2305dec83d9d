// Package contracts defines the message shapes the mail relay accepts from the broker.
//
// Inbound payloads arrive in several historical and current schemas:
//   - UserRegisteredEvent: the original domain_events format
//   - InvestmentServiceUserEvent: the richer format published by the investment service
//   - UserCreatedEvent: the canonical user created format
//   - EmailCommand: commands sent by the account creation saga
//
// Every decoded payload is represented by the sealed Event interface so that the
// router can switch over a closed set of variants.
package contracts
