package library

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts  = 6
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3
)

// RetryConfig tunes the backoff used when a write loses a race.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	JitterFactor float64
}

// DefaultRetryConfig retries after 0, 10, 20, 40, 80 ms (plus jitter).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  defaultMaxAttempts,
		BaseDelay:    defaultBaseDelay,
		JitterFactor: defaultJitterFactor,
	}
}

// isStale matches a copy row that changed under us.
func isStale(err error) bool { return errors.Is(err, ErrStaleCopy) }

// isDuplicate matches an accession number taken by a concurrent allocation.
func isDuplicate(err error) bool {
	var dup *DuplicateError
	return errors.As(err, &dup)
}

// retryWithBackoff runs fn until it succeeds, fails with an error retryable
// does not accept, or the attempts run out. The last error is returned.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, retryable func(error) bool, fn func(context.Context) error) (int, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := cfg.BaseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * cfg.JitterFactor //nolint:gosec // jitter only
			select {
			case <-time.After(delay + time.Duration(jitter)):
			case <-ctx.Done():
				return attempt, ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil || !retryable(lastErr) {
			return attempt + 1, lastErr
		}
	}
	return cfg.MaxAttempts, lastErr
}
