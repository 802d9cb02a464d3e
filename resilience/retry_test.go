package resilience

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConnRefused = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

// flaky fails with err until it has been called succeedOn times.
func flaky(succeedOn int, err error) (RetryableFunc, *int) {
	calls := 0
	return func() error {
		calls++
		if succeedOn > 0 && calls >= succeedOn {
			return nil
		}
		return err
	}, &calls
}

func TestRetry(t *testing.T) {
	fatal := errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	tests := []struct {
		name      string
		config    RetryConfig
		succeedOn int
		err       error
		calls     int
		wantErr   bool
	}{
		{"recovers after one refusal", FixedDelay(3, time.Millisecond), 2, errConnRefused, 2, false},
		{"gives up after every attempt", FixedDelay(3, time.Millisecond), 0, errConnRefused, 3, true},
		{"single attempt", FixedDelay(0, time.Millisecond), 0, errConnRefused, 1, true},
		{"stops on non-retryable", func() RetryConfig {
			c := FixedDelay(4, time.Millisecond)
			c.RetryableErrors = func(err error) bool { return !errors.Is(err, fatal) }
			return c
		}(), 0, fatal, 1, true},
		{"eof is final by default", func() RetryConfig {
			c := FixedDelay(4, time.Millisecond)
			c.RetryableErrors = DefaultRetryableErrors
			return c
		}(), 0, io.EOF, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, calls := flaky(tt.succeedOn, tt.err)
			err := Retry(context.Background(), tt.config, fn)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.calls, *calls)
		})
	}
}

func TestRetryStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	fn, calls := flaky(0, errConnRefused)
	err := Retry(ctx, FixedDelay(6, 100*time.Millisecond), fn)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, *calls)
}

func TestFixedDelayNeverGrows(t *testing.T) {
	config := FixedDelay(5, 20*time.Millisecond)
	assert.Equal(t, 4, config.MaxRetries)
	for attempt := range 4 {
		assert.Equal(t, 20*time.Millisecond, calculateBackoff(attempt, config), "attempt %d", attempt)
	}
}

func TestDefaultRetryConfigBacksOffExponentially(t *testing.T) {
	config := DefaultRetryConfig()
	config.Jitter = false
	config.MaxBackoff = 300 * time.Millisecond
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}
	for attempt, d := range want {
		assert.Equal(t, d, calculateBackoff(attempt, config), "attempt %d", attempt)
	}
	assert.True(t, config.RetryableErrors(errConnRefused))
	assert.False(t, config.RetryableErrors(context.Canceled))
}

func TestRetryWithStatsReportsBackoff(t *testing.T) {
	fn, _ := flaky(3, errConnRefused)
	stats, err := RetryWithStats(context.Background(), RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        50 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}, fn)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalAttempts)
	assert.Equal(t, 2, stats.TotalRetries)
	assert.Equal(t, 1, stats.SuccessfulCalls)
	assert.Equal(t, 15*time.Millisecond, stats.TotalBackoff)
	assert.Equal(t, 7500*time.Microsecond, stats.AverageBackoff)
	assert.Equal(t, errConnRefused, stats.LastError)
}

func TestDefaultRetryableErrorsClassification(t *testing.T) {
	assert.False(t, DefaultRetryableErrors(nil))
	assert.True(t, DefaultRetryableErrors(errConnRefused))
	for _, err := range []error{ErrCircuitBreakerOpen, ErrOperationTimeout, context.Canceled, context.DeadlineExceeded, io.EOF} {
		assert.False(t, DefaultRetryableErrors(err), "%v", err)
	}
}

func TestCalculateBackoffCapsAtMax(t *testing.T) {
	config := RetryConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for attempt, d := range want {
		assert.Equal(t, d, calculateBackoff(attempt, config), "attempt %d", attempt)
	}

	config.Jitter = true
	for range 10 {
		d := calculateBackoff(1, config)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.LessOrEqual(t, d, 220*time.Millisecond)
	}
}
