package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadwatch/pkg/clock"
)

var (
	errTestError    = errors.New("test error")
	errNonRetryable = errors.New("non-retryable error")
	errRetryable    = errors.New("retryable error")
)

func testConfig(attempts int, clk clock.Clock) Config {
	return Config{
		Enabled:     true,
		MaxAttempts: attempts,
		Delay:       2 * time.Second,
		Clock:       clk,
	}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	clk := clock.NewMock(time.Unix(0, 0))

	attempts := 0
	err := Retry(context.Background(), testConfig(3, clk), func(int) error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, clk.Waits())
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	clk := clock.NewMock(time.Unix(0, 0))

	attempts := 0
	err := Retry(context.Background(), testConfig(3, clk), func(attempt int) error {
		attempts++
		assert.Equal(t, attempts, attempt)
		if attempts < 3 {
			return errTestError
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clk.Waits())
}

func TestRetry_MaxAttemptsCountsTotalAttempts(t *testing.T) {
	for _, max := range []int{1, 2, 3, 5} {
		clk := clock.NewMock(time.Unix(0, 0))
		attempts := 0

		err := Retry(context.Background(), testConfig(max, clk), func(int) error {
			attempts++
			return errTestError
		})

		var exhausted *ExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, max, exhausted.Attempts)
		assert.ErrorIs(t, err, errTestError)
		assert.Equal(t, max, attempts)
		assert.Len(t, clk.Waits(), max-1, "fixed delay between attempts only")
	}
}

func TestRetry_DelayDoesNotGrow(t *testing.T) {
	clk := clock.NewMock(time.Unix(0, 0))

	_ = Retry(context.Background(), testConfig(4, clk), func(int) error {
		return errTestError
	})

	for _, wait := range clk.Waits() {
		assert.Equal(t, 2*time.Second, wait)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	cfg := testConfig(3, clock.NewMock(time.Unix(0, 0)))
	cfg.NonRetryableErrors = []error{errNonRetryable}

	attempts := 0
	err := Retry(context.Background(), cfg, func(int) error {
		attempts++
		return errNonRetryable
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errNonRetryable)
	assert.Equal(t, 1, attempts)
}

func TestRetry_RetryableList(t *testing.T) {
	cfg := testConfig(3, clock.NewMock(time.Unix(0, 0)))
	cfg.RetryableErrors = []error{errRetryable}

	attempts := 0
	err := Retry(context.Background(), cfg, func(int) error {
		attempts++
		return errTestError
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in retryable list")
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Retry(ctx, testConfig(3, clock.NewMock(time.Unix(0, 0))), func(int) error {
		attempts++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, attempts)
}

func TestRetry_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		Enabled:     true,
		MaxAttempts: 3,
		Delay:       time.Hour,
	}

	attempts := 0
	err := Retry(ctx, cfg, func(int) error {
		attempts++
		cancel()
		return errTestError
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetry_OnRetryHook(t *testing.T) {
	cfg := testConfig(3, clock.NewMock(time.Unix(0, 0)))

	var seen []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		assert.ErrorIs(t, err, errTestError)
		assert.Equal(t, 2*time.Second, delay)
		seen = append(seen, attempt)
	}

	_ = Retry(context.Background(), cfg, func(int) error { return errTestError })

	assert.Equal(t, []int{1, 2}, seen)
}

func TestRetry_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	attempts := 0
	err := Retry(context.Background(), cfg, func(int) error {
		attempts++
		return errTestError
	})

	assert.Equal(t, errTestError, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithResult(t *testing.T) {
	clk := clock.NewMock(time.Unix(0, 0))

	result, err := RetryWithResult(context.Background(), testConfig(3, clk), func(attempt int) (string, error) {
		if attempt < 2 {
			return "", errTestError
		}
		return "success", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "success", result)
}
