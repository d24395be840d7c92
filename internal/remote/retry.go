package remote

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ExecuteWithRetry runs op up to maxTries times with a constant delay between
// attempts. ErrNotConfigured and context cancellation are permanent; anything
// else is retried.
func ExecuteWithRetry(ctx context.Context, maxTries uint, delay time.Duration, op func() error) error {
	wrapped := func() (struct{}, error) {
		err := op()
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, ErrNotConfigured) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	_, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(backoff.NewConstantBackOff(delay)),
		backoff.WithMaxTries(maxTries),
	)
	return err
}
