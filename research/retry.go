package research

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/leofalp/stategraph/graph"
	"github.com/leofalp/stategraph/providers/observability"
	"github.com/leofalp/stategraph/providers/webpage"
)

// jitterFraction adds up to 10% of the computed delay.
const jitterFraction = 0.1

// retryPolicy bounds how often a node repeats a transient external call.
type retryPolicy struct {
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
}

// delay returns the wait before retry number retry (0-indexed):
// min(backoff * 2^retry, maxBackoff) plus jitter.
func (policy retryPolicy) delay(retry int) time.Duration {
	base := float64(policy.backoff) * math.Pow(2, float64(retry))
	if policy.maxBackoff > 0 && base > float64(policy.maxBackoff) {
		base = float64(policy.maxBackoff)
	}
	jitter := base * jitterFraction * rand.Float64() //nolint:gosec // non-cryptographic jitter
	return time.Duration(base + jitter)
}

// isTransient reports whether a collaborator error is worth another attempt.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, graph.ErrTransient) || webpage.IsTemporary(err)
}

// withRetry calls fn until it succeeds, fails permanently, or the attempts
// run out. The last error is returned unchanged so a transient failure that
// escapes still fails the node.
func withRetry[T any](ctx context.Context, policy retryPolicy, operation string, fn func(context.Context) (T, error)) (T, error) {
	attempts := max(policy.attempts, 1)

	var (
		value T
		err   error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		value, err = fn(ctx)
		if err == nil || !isTransient(err) || attempt == attempts {
			return value, err
		}

		delay := policy.delay(attempt - 1)
		if observer := observability.ObserverFromContext(ctx); observer != nil {
			observer.Warn(ctx, "retrying transient failure",
				observability.String("operation", operation),
				observability.Int("attempt", attempt),
				observability.Duration("retry.backoff", delay),
				observability.Error(err),
			)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return value, ctx.Err()
		case <-timer.C:
		}
	}
	return value, err
}
