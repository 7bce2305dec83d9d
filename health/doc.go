// Package health reports the state of the relay over HTTP.
//
// A Registry runs its checkers concurrently and combines their results: one
// unhealthy check makes the report unhealthy, one degraded check makes it
// degraded. Exhausted deliveries only degrade the report, so a struggling
// SMTP server does not take the relay out of service.
package health
