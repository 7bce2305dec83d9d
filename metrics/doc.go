// Package metrics defines Prometheus metrics for the mail relay, covering
// message consumption, acknowledgment decisions and mail delivery.
package metrics
