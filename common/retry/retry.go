// Package retry provides a single bounded-attempts retry helper shared by
// every call site that needs to tolerate transient upstream failures.
//
// Usage:
//
//	err := retry.Do(ctx, retry.Config{Attempts: 3, Delay: time.Second}, func() error {
//	    return client.Fetch()
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls the retry behaviour.
type Config struct {
	// Attempts is the total number of attempts, including the first.
	// Zero or negative values are treated as 1 (no retries).
	Attempts int
	// Delay is the wait before the second attempt. Each subsequent wait
	// doubles, capped at MaxDelay.
	Delay time.Duration
	// MaxDelay caps the per-attempt wait.
	MaxDelay time.Duration
	// Retryable optionally classifies errors. When nil every non-nil error
	// is retried; when set, a false return stops immediately with that error.
	Retryable func(err error) bool
}

// DefaultConfig suits short-lived network calls.
var DefaultConfig = Config{
	Attempts: 3,
	Delay:    time.Second,
	MaxDelay: 30 * time.Second,
}

// Do calls fn up to cfg.Attempts times, waiting between attempts. It stops
// early when fn succeeds, when Retryable rejects the error, or when ctx is
// cancelled. The error from the last attempt is returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultConfig.Delay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}

	wait := cfg.Delay
	var lastErr error

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			return lastErr
		}

		if attempt < cfg.Attempts {
			slog.Debug("retry: attempt failed",
				"attempt", attempt, "of", cfg.Attempts, "err", lastErr, "wait", wait)

			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(wait):
			}

			wait *= 2
			if wait > cfg.MaxDelay {
				wait = cfg.MaxDelay
			}
		}
	}

	return lastErr
}
