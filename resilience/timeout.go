package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout runs op under a deadline. Exceeding it cancels the in-flight
// call through its context and returns ErrTimeout; sibling operations are
// unaffected. A zero duration disables the deadline.
func WithTimeout(ctx context.Context, d time.Duration, op func(ctx context.Context) error) error {
	if d <= 0 {
		return op(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w after %s", ErrTimeout, d)
		}
		return ctx.Err()
	}
}
