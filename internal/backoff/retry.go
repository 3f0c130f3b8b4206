package backoff

import (
	"context"
	"time"
)

type (
	// Operation to retry
	Operation func(ctx context.Context) error

	// IsRetriableFunc defines a function that checks if an error is retriable.
	IsRetriableFunc func(err error) bool
)

// Retry executes the operation with retry logic based on the provided policy.
// If isRetriable is nil, all errors are considered retriable. When retries
// are exhausted the last operation error is returned.
func Retry(ctx context.Context, op Operation, policy RetryPolicy, isRetriable IsRetriableFunc) error {
	if isRetriable == nil {
		isRetriable = func(_ error) bool { return true }
	}

	retrier := NewRetrier(policy)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		if !isRetriable(err) {
			return err
		}

		interval, retryErr := retrier.Next(err)
		if retryErr != nil {
			return err
		}

		if interval > 0 {
			timer := time.NewTimer(interval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
			timer.Stop()
		}
	}
}
