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
	"fmt"
	"sync"
	"time"
)

// RateLimiter bounds the call rate for one named resource over a sliding
// window. Calls beyond the limit are rejected immediately, never queued.
// Safe for concurrent use.
type RateLimiter struct {
	name   string
	limit  int
	window time.Duration

	mu     sync.Mutex
	stamps []time.Time

	now func() time.Time
}

// NewRateLimiter creates a limiter admitting at most limit calls per window.
func NewRateLimiter(name string, limit int, window time.Duration) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	return &RateLimiter{
		name:   name,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Name returns the resource name the limiter guards.
func (r *RateLimiter) Name() string { return r.name }

// Allow admits or rejects one call. On success the call is counted against
// the current window.
func (r *RateLimiter) Allow() error {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	// Drop stamps that fell out of the window.
	cutoff := now.Add(-r.window)
	kept := r.stamps[:0]
	for _, t := range r.stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.stamps = kept
	if len(r.stamps) >= r.limit {
		return fmt.Errorf("%w: %s (%d per %s)", ErrRateLimited, r.name, r.limit, r.window)
	}
	r.stamps = append(r.stamps, now)
	return nil
}
