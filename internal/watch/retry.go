package watch

import (
	"context"
	"time"
)

// DefaultRetryDelay is the pause between failed attempts.
const DefaultRetryDelay = 30 * time.Second

// WithRetry calls runOnce up to maxAttempts times (at least once), stopping
// at the first success. It waits delay between failed attempts but never
// after the last one. It returns the last outcome and whether any attempt
// succeeded. Cancellation ends the loop early.
func WithRetry(ctx context.Context, runOnce func(context.Context) Outcome, maxAttempts int, delay time.Duration) (Outcome, bool) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var out Outcome
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out = runOnce(ctx)
		out.Attempt = attempt
		if out.Success {
			return out, true
		}
		if attempt == maxAttempts || !Sleep(ctx, delay) {
			break
		}
	}
	return out, false
}

// Sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
