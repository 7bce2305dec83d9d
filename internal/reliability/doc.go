// Package reliability provides the retry primitive and failure bookkeeping used
// by the mail delivery path.
//
//   - Retry runs a function under a RetryPolicy, sleeping through an injectable
//     Sleeper and stopping as soon as the context is done
//   - FixedDelay is the bounded fixed-delay policy used for mail delivery
//   - RetryableError / Permanent classify errors that must not be retried
//   - FailureLog keeps the most recent given-up operations for the health report
//
// Example usage:
//
//	policy := NewFixedDelay(2*time.Second, 3)
//	err := Retry(ctx, policy, func(ctx context.Context, attempt int) error {
//	    return send(ctx)
//	})
package reliability
