// Package mail sends rendered notifications over SMTP.
//
// SMTPSender is the transport: one Send call dials the configured server,
// authenticates and sends a single HTML message with an optional attachment.
// Deliverer wraps any Sender with a bounded fixed-delay retry and never returns
// an error to its caller; a mail that cannot be sent after the last attempt is
// logged, counted and dropped.
package mail
