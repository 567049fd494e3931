package resilience

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"
)

// RetryCondition determines whether an error is retryable.
type RetryCondition interface {
	Match(err error) bool
}

// RetryConditionFunc is an adapter to allow the use of ordinary functions
// as RetryCondition.
type RetryConditionFunc func(error) bool

// Match calls f(err).
func (f RetryConditionFunc) Match(err error) bool { return f(err) }

// RetryPolicy defines bounded retry with exponential backoff. MaxRetries
// counts retries after the first attempt: MaxRetries=2 means up to 3 calls.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Jitter      bool
	// RetryOn extends the transient classification. Timeouts,
	// connection-style failures, open breakers and rate limits always
	// count as transient; everything else is fatal unless matched here.
	RetryOn []RetryCondition
}

// Delay returns the backoff before retrying after the given zero-based
// attempt index: min(BaseBackoff * 2^attempt, MaxBackoff), plus optional
// additive jitter in [0, delay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.BaseBackoff) * math.Pow(2, float64(attempt))
	if p.MaxBackoff > 0 {
		delay = math.Min(delay, float64(p.MaxBackoff))
	}
	d := time.Duration(delay)
	if p.Jitter && d > 0 {
		// crypto/rand sidesteps gosec G404.
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(d))); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	if d < 0 {
		d = 0
	}
	return d
}

// ShouldRetry classifies an error as transient (retry) or fatal (give up).
func (p RetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if DefaultTransientCondition().Match(err) {
		return true
	}
	for _, cond := range p.RetryOn {
		if cond != nil && cond.Match(err) {
			return true
		}
	}
	return false
}

// Do runs op, retrying transient failures until the budget is exhausted.
// The backoff sleep respects ctx cancellation.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt >= p.MaxRetries || !p.ShouldRetry(lastErr) {
			return lastErr
		}
		select {
		case <-time.After(p.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RetryOnErrors creates a condition matching errors.Is against any target.
func RetryOnErrors(targets ...error) RetryCondition {
	return RetryConditionFunc(func(err error) bool {
		for _, t := range targets {
			if t != nil && errors.Is(err, t) {
				return true
			}
		}
		return false
	})
}

// DefaultTransientCondition matches the failures always worth retrying:
// timeouts, open breakers, rate limits, and net.Error timeouts.
func DefaultTransientCondition() RetryCondition {
	return RetryConditionFunc(func(err error) bool {
		if err == nil {
			return false
		}
		if errors.Is(err, ErrTimeout) ||
			errors.Is(err, ErrCircuitOpen) ||
			errors.Is(err, ErrRateLimited) ||
			errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return true
		}
		return false
	})
}
