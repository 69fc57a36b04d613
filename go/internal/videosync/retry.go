package videosync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// WithTimeout runs fn with a deadline of d. If fn fails because the deadline
// passed, the error is a *TimeoutError.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(tctx)
	if err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return &TimeoutError{Duration: d}
	}
	return err
}

// retry calls fn up to attempts times, waiting attempt*delay between tries.
func retry(ctx context.Context, clock clockwork.Clock, attempts int, delay time.Duration, op string, onRetry func(), fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if onRetry != nil {
				onRetry()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-clock.After(delay * time.Duration(attempt-1)):
			}
		}

		if lastErr = fn(ctx); lastErr == nil {
			if attempt > 1 {
				log.Info().Str("op", op).Int("attempt", attempt).Msg("succeeded after retry")
			}
			return nil
		}
		log.Warn().Err(lastErr).Str("op", op).Int("attempt", attempt).Msg("attempt failed")
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
}
