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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterRejectsBeyondLimit(t *testing.T) {
	r := NewRateLimiter("api", 3, time.Minute)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Allow())
	}
	assert.ErrorIs(t, r.Allow(), ErrRateLimited)
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	clock := time.Now()
	r := NewRateLimiter("api", 2, time.Second)
	r.now = func() time.Time { return clock }

	require.NoError(t, r.Allow())
	clock = clock.Add(600 * time.Millisecond)
	require.NoError(t, r.Allow())
	assert.ErrorIs(t, r.Allow(), ErrRateLimited)

	// The first stamp slides out of the window; one slot frees up.
	clock = clock.Add(500 * time.Millisecond)
	assert.NoError(t, r.Allow())
	assert.ErrorIs(t, r.Allow(), ErrRateLimited)
}

func TestRateLimiterRejectionsDoNotCount(t *testing.T) {
	clock := time.Now()
	r := NewRateLimiter("api", 1, time.Second)
	r.now = func() time.Time { return clock }

	require.NoError(t, r.Allow())
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, r.Allow(), ErrRateLimited)
	}
	// Rejected calls left no stamps behind.
	clock = clock.Add(time.Second + time.Millisecond)
	assert.NoError(t, r.Allow())
}
