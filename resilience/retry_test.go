//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryDelay(t *testing.T) {
	p := RetryPolicy{BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},  // capped
		{10, time.Second}, // stays capped
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryDelayJitterBounds(t *testing.T) {
	p := RetryPolicy{BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Jitter: true}
	for i := 0; i < 20; i++ {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.Less(t, d, 400*time.Millisecond)
	}
}

func TestRetryDoRetriesTransient(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseBackoff: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return ErrTimeout
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryDoFatalErrorStopsImmediately(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseBackoff: time.Millisecond}
	fatal := errors.New("schema mismatch")
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestRetryDoBudgetExhausted(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, BaseBackoff: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return ErrRateLimited
	})
	assert.ErrorIs(t, err, ErrRateLimited)
	// First attempt plus two retries.
	assert.Equal(t, 3, calls)
}

func TestRetryDoCustomCondition(t *testing.T) {
	flaky := errors.New("flaky backend")
	p := RetryPolicy{
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
		RetryOn:     []RetryCondition{RetryOnErrors(flaky)},
	}
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return flaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxRetries: 10, BaseBackoff: time.Hour}
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func(ctx context.Context) error {
		calls++
		return ErrTimeout
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDefaultTransientCondition(t *testing.T) {
	cond := DefaultTransientCondition()
	assert.True(t, cond.Match(ErrTimeout))
	assert.True(t, cond.Match(ErrCircuitOpen))
	assert.True(t, cond.Match(ErrRateLimited))
	assert.True(t, cond.Match(context.DeadlineExceeded))
	assert.False(t, cond.Match(errors.New("bad request")))
	assert.False(t, cond.Match(nil))
}
