// Package retry provides bounded retry with exponential backoff. Retries
// live only in the embedding provider and the brainstorm engine; everything
// else fails fast.
package retry

import (
	"context"
	"fmt"
	"time"

	"sage/internal/apperrors"
)

// Config holds the backoff schedule.
type Config struct {
	MaxAttempts  int           // total attempts including the first
	InitialDelay time.Duration // delay after the first failure
	MaxDelay     time.Duration // cap on any single delay
	Multiplier   float64       // backoff multiplier
	RetryIf      func(error) bool
}

// Default returns the provider retry schedule: 1s, 2s, 4s capped at 10s,
// three attempts.
func Default() *Config {
	return &Config{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		RetryIf:      apperrors.Retryable,
	}
}

// Do runs op until it succeeds, the schedule is exhausted, or the context is
// done. The returned error is the last failure.
func Do(ctx context.Context, cfg *Config, op func(ctx context.Context) error) error {
	if cfg == nil {
		cfg = Default()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = apperrors.Retryable
	}

	var lastErr error
	attempts := 0
	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		attempts = attempt
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(apperrors.KindTimeout, err, "cancelled before attempt %d", attempt)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryIf(lastErr) || attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return apperrors.Wrap(apperrors.KindTimeout, ctx.Err(), "cancelled during retry delay")
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
