// Package interceptors wraps the per-message handler with cross-cutting concerns.
//
// Built-in interceptors:
//   - LoggingInterceptor: logs every message with its outcome and duration
//   - MetricsInterceptor: counts messages, errors and handler duration per queue
//   - RecoveryInterceptor: converts a handler panic into an error wrapping ErrHandlerPanic
//
// Example usage:
//
//	chain := interceptors.NewDefaultInterceptorChainBuilder(logger).
//		WithLogging().
//		WithMetrics(metrics.NewRelayCollector()).
//		WithRecovery().
//		Build()
//
//	handler := chain.Then(relay)
//
// Interceptors are executed in the order they are added to the chain, with the
// final handler being called last.
package interceptors
