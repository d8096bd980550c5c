package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roadwatch/pkg/clock"
)

// Config holds retry configuration
type Config struct {
	Enabled            bool          // Enable/disable retry logic
	MaxAttempts        int           // Total number of attempts, including the first
	Delay              time.Duration // Fixed wait between attempts
	RetryableErrors    []error       // Errors that should trigger retry (nil = all errors)
	NonRetryableErrors []error       // Errors that should never trigger retry

	// Clock drives the wait between attempts. Defaults to the wall clock.
	Clock clock.Clock
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		MaxAttempts: 3,
		Delay:       2 * time.Second,
	}
}

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max attempts (%d) exceeded: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Retry executes fn up to MaxAttempts times with a fixed delay between attempts.
func Retry(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	_, err := RetryWithResult(ctx, cfg, func(attempt int) (struct{}, error) {
		return struct{}{}, fn(attempt)
	})
	return err
}

// RetryWithResult executes a function that returns a result with fixed-delay retry logic
func RetryWithResult[T any](ctx context.Context, cfg Config, fn func(attempt int) (T, error)) (T, error) {
	var zero T

	if !cfg.Enabled || cfg.MaxAttempts <= 1 {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry cancelled: %w", err)
		}
		result, err := fn(1)
		if err != nil && cfg.Enabled {
			return zero, &ExhaustedError{Attempts: 1, Last: err}
		}
		return result, err
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry cancelled: %w", err)
		}

		result, err := fn(attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if matchesAny(err, cfg.NonRetryableErrors) {
			return zero, fmt.Errorf("non-retryable error: %w", err)
		}
		if len(cfg.RetryableErrors) > 0 && !matchesAny(err, cfg.RetryableErrors) {
			return zero, fmt.Errorf("error not in retryable list: %w", err)
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, cfg.Delay)
		}

		if cfg.Delay > 0 {
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("retry cancelled during wait: %w", ctx.Err())
			case <-clk.After(cfg.Delay):
			}
		}
	}

	return zero, &ExhaustedError{Attempts: cfg.MaxAttempts, Last: lastErr}
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
