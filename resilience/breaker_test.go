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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewCircuitBreaker("db", 3, time.Minute)
	boom := errors.New("connection refused")

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Record(boom)
		assert.Equal(t, BreakerClosed, b.State(), "below threshold after %d failures", i+1)
	}
	require.NoError(t, b.Allow())
	b.Record(boom)
	assert.Equal(t, BreakerOpen, b.State())

	err := b.Allow()
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewCircuitBreaker("db", 2, time.Minute)
	boom := errors.New("flaky")

	require.NoError(t, b.Allow())
	b.Record(boom)
	require.NoError(t, b.Allow())
	b.Record(nil)
	require.NoError(t, b.Allow())
	b.Record(boom)
	// One failure after a success: still closed.
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	clock := time.Now()
	b := NewCircuitBreaker("db", 1, time.Second)
	b.now = func() time.Time { return clock }

	require.NoError(t, b.Allow())
	b.Record(errors.New("down"))
	require.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	// Recovery timeout elapses: exactly one trial call is admitted.
	clock = clock.Add(2 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	// Trial success closes the breaker for everyone.
	b.Record(nil)
	assert.Equal(t, BreakerClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerTrialFailureReopens(t *testing.T) {
	clock := time.Now()
	b := NewCircuitBreaker("db", 1, time.Second)
	b.now = func() time.Time { return clock }

	require.NoError(t, b.Allow())
	b.Record(errors.New("down"))
	clock = clock.Add(2 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(errors.New("still down"))
	assert.Equal(t, BreakerOpen, b.State())

	// The recovery timer restarted at the trial failure.
	clock = clock.Add(500 * time.Millisecond)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
	clock = clock.Add(time.Second)
	assert.NoError(t, b.Allow())
}

func TestBreakerCancelReleasesTrial(t *testing.T) {
	clock := time.Now()
	b := NewCircuitBreaker("db", 1, time.Second)
	b.now = func() time.Time { return clock }

	require.NoError(t, b.Allow())
	b.Record(errors.New("down"))
	clock = clock.Add(2 * time.Second)
	require.NoError(t, b.Allow())

	// Cancelling the trial lets another caller probe.
	b.Cancel()
	assert.NoError(t, b.Allow())
}
