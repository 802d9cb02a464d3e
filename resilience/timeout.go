package resilience

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// WithTimeout runs fn and waits at most timeout for it. When the timer wins
// the call is abandoned, not cancelled: fn keeps the parent context, runs to
// completion in its goroutine and its result is dropped. A timeout <= 0 runs
// fn inline.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: errors.Newf("panic: %v", r)}
			}
		}()
		val, err := fn(ctx)
		done <- outcome{val, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case o := <-done:
		return o.val, o.err
	case <-timer.C:
		return zero, errors.Wrapf(ErrOperationTimeout, "exceeded %s", timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
