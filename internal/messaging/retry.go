package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

const defaultReadRetryBackoff = 200 * time.Millisecond

// retryOnce runs fn and, if it fails transiently, runs it exactly once more
// after backoff. Only reads and idempotent writes go through here.
func retryOnce[T any](ctx context.Context, backoff time.Duration, logger zerolog.Logger, op string, fn func() (T, error)) (T, error) {
	result, err := fn()
	err = classify(err)
	if err == nil || !errors.Is(err, ErrTransientStore) {
		return result, err
	}

	logger.Debug().Err(err).Str("op", op).Dur("backoff", backoff).Msg("retrying after transient error")
	if err := sleepWithContext(ctx, backoff); err != nil {
		var zero T
		return zero, err
	}

	result, err = fn()
	return result, classify(err)
}

func sleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
