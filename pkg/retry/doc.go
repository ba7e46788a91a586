// Package retry provides bounded exponential backoff with jitter and a small
// per-operation retry state machine.
//
// Key Features:
//   - Pure backoff calculation with an injected random source
//   - Attempt counter that only advances after a completed wait
//   - Cancellation through context without consuming an attempt
//   - Observer hook for every retry wait
//   - Injected clock (github.com/coder/quartz) for deterministic tests
//
// Basic Usage:
//
//	st := retry.NewState(retry.DefaultPolicy())
//	for {
//	    err := call(ctx)
//	    if err == nil || !isRateLimited(err) {
//	        return err
//	    }
//	    if !st.CanRetry() {
//	        return err
//	    }
//	    if err := st.WaitAndIncrement(ctx); err != nil {
//	        return err
//	    }
//	}
//
// Function Retry:
//
//	st := retry.NewState(policy,
//	    retry.WithObserver(retry.ObserverFunc(func(ctx context.Context, ev retry.Event) {
//	        slog.InfoContext(ctx, "retry", slog.Int("attempt", ev.Attempt), slog.Duration("delay", ev.Delay))
//	    })),
//	)
//	err := retry.Do(ctx, st, fn, retry.DefaultRetryable)
//
// For HTTP transport retries see internal/platform/httpclient, which drives the
// same State for connection failures.
package retry
