package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTimeoutReturnsValue(t *testing.T) {
	val, err := WithTimeout(context.Background(), 50*time.Millisecond, func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
}

func TestWithTimeoutAbandonsSlowCall(t *testing.T) {
	var finished atomic.Bool
	start := time.Now()
	_, err := WithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		time.Sleep(80 * time.Millisecond)
		finished.Store(true)
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrOperationTimeout)
	assert.Less(t, time.Since(start), 60*time.Millisecond)

	// the abandoned call still runs to completion
	assert.Eventually(t, finished.Load, time.Second, 10*time.Millisecond)
}

func TestWithTimeoutRecoversPanic(t *testing.T) {
	_, err := WithTimeout(context.Background(), time.Second, func(context.Context) (int, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestWithTimeoutZeroRunsInline(t *testing.T) {
	want := errors.New("inline")
	_, err := WithTimeout(context.Background(), 0, func(context.Context) (int, error) {
		return 0, want
	})
	assert.ErrorIs(t, err, want)
}
