// Package retry runs an operation with exponential backoff.
//
// Do stops on success, on an error wrapped with NonRetryable, when
// MaxAttempts is reached, or when the context ends. A zero MaxAttempts
// retries until the context ends, which is how the subscriber supervises its
// dispatch loop across transport faults:
//
//	cfg := retry.Forever(time.Second, 30*time.Second)
//	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
//	    logger.Warn("Restarting subscriber", "attempt", attempt, "error", err, "delay", delay)
//	}
//	err := retry.Do(ctx, cfg, func(int) error { return runOnce(ctx) })
package retry
