package retry

import (
	"context"
	"time"
)

// SyncTask is a unit of work that reports success via a nil error.
type SyncTask func() error

type Options func(*syncOptions)

type syncOptions struct {
	maxRetries int
	retryDelay time.Duration
}

func defaultSyncOpts() *syncOptions {
	return &syncOptions{
		maxRetries: 3,
		retryDelay: 2 * time.Second,
	}
}

func WithSyncMaxRetries(maxRetries int) Options {
	return func(o *syncOptions) {
		o.maxRetries = maxRetries
	}
}

func WithSyncRetryDelay(retryDelay time.Duration) Options {
	return func(o *syncOptions) {
		o.retryDelay = retryDelay
	}
}

// ExecuteSync executes a function synchronously with retry logic.
// It respects context cancellation and timeout.
// Returns nil if the function succeeds, or the last error if all retries are exhausted.
func ExecuteSync(ctx context.Context, task SyncTask, opts ...Options) error {
	conf := defaultSyncOpts()
	for _, opt := range opts {
		opt(conf)
	}

	var lastErr error
	for attempt := 0; attempt < conf.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := task()
		if err == nil {
			return nil
		}

		lastErr = err

		if attempt < conf.maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(conf.retryDelay):
			}
		}
	}

	return lastErr
}
