package resilience

import (
	"context"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
)

// RetryConfig defines configuration for retry logic
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts after the first call
	MaxRetries int

	// InitialBackoff is the initial backoff duration
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff. 1 gives a fixed delay.
	BackoffMultiplier float64

	// Jitter adds up to 10% randomness to each backoff
	Jitter bool

	// RetryableErrors decides if an error is retryable. Nil retries everything.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns exponential backoff from 100ms up to 10s with
// jitter, retrying errors accepted by DefaultRetryableErrors.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// FixedDelay returns a config making exactly attempts calls with delay between them.
func FixedDelay(attempts int, delay time.Duration) RetryConfig {
	if attempts < 1 {
		attempts = 1
	}
	return RetryConfig{
		MaxRetries:        attempts - 1,
		InitialBackoff:    delay,
		MaxBackoff:        delay,
		BackoffMultiplier: 1,
	}
}

// DefaultRetryableErrors determines if an error is retryable by default
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitBreakerOpen) || errors.Is(err, ErrOperationTimeout) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) {
		return false
	}
	return true
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// RetryStats describes a completed retry loop.
type RetryStats struct {
	TotalAttempts   int
	TotalRetries    int
	SuccessfulCalls int
	TotalBackoff    time.Duration
	AverageBackoff  time.Duration
	LastError       error
}

// Retry executes a function with retry logic
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc) error {
	_, err := RetryWithStats(ctx, config, fn)
	return err
}

// RetryWithStats is Retry that also reports attempt and backoff statistics.
func RetryWithStats(ctx context.Context, config RetryConfig, fn RetryableFunc) (RetryStats, error) {
	var stats RetryStats

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		stats.TotalAttempts++
		err := fn()
		if err == nil {
			stats.SuccessfulCalls++
			stats.finish()
			return stats, nil
		}
		stats.LastError = err

		if config.RetryableErrors != nil && !config.RetryableErrors(err) {
			stats.finish()
			return stats, errors.Wrap(err, "non-retryable error")
		}

		if attempt == config.MaxRetries {
			break
		}

		backoff := calculateBackoff(attempt, config)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			stats.finish()
			return stats, errors.Wrap(ctx.Err(), "retry cancelled")
		case <-timer.C:
		}
		stats.TotalRetries++
		stats.TotalBackoff += backoff
	}

	stats.finish()
	return stats, errors.Wrapf(stats.LastError, "max retries exceeded (%d)", config.MaxRetries)
}

func (s *RetryStats) finish() {
	if s.TotalRetries > 0 {
		s.AverageBackoff = s.TotalBackoff / time.Duration(s.TotalRetries)
	}
}

// calculateBackoff calculates the backoff duration for a given attempt
func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	multiplier := config.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	backoff := float64(config.InitialBackoff) * math.Pow(multiplier, float64(attempt))

	if config.MaxBackoff > 0 && backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}

	if config.Jitter {
		backoff += rand.Float64() * 0.1 * backoff
	}

	return time.Duration(backoff)
}
