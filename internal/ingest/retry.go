package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// retrier runs one store call with a per-attempt timeout and retries
// transient failures with capped exponential backoff.
type retrier struct {
	policy  RetryPolicy
	timeout time.Duration
	metrics ingestMetrics
}

func (r retrier) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.NewExponential(r.policy.Base)
	backoff = retry.WithCappedDuration(r.policy.Cap, backoff)
	backoff = retry.WithJitterPercent(10, backoff)
	backoff = retry.WithMaxRetries(uint64(r.policy.MaxRetries), backoff)

	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		r.metrics.recordRetry(ctx, op)
		slog.WarnContext(ctx, "import_store_retry", "op", op, "attempt", attempts, "error", err)
		return retry.RetryableError(err)
	})
	if err != nil && IsTransient(err) {
		return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrRetriesExhausted, attempts, err)
	}
	return err
}
