package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxRetryAttempts bounds transient-failure retries per operation. All
// adapter operations are idempotent upserts or reads, so retrying is safe.
const maxRetryAttempts = 3

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// withRetry runs op with bounded exponential backoff, stopping early when
// ctx is cancelled. Marshalling and other non-transient failures should be
// wrapped backoff.Permanent by op so they surface immediately.
func withRetry(ctx context.Context, op func() error) error {
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(newBackoff(), maxRetryAttempts), ctx))
}
