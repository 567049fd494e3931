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
	"fmt"
	"sync"
	"time"
)

// errAcquire marks a pool-acquire failure so the breaker can tell it apart
// from an operation outcome: the resource was never touched.
var errAcquire = errors.New("resource pool acquire")

// Chain composes the substrate around an opaque operation. Per attempt the
// order is: circuit breaker check, rate limiter check, resource pool
// acquire, timeout-bounded call; transient outcomes feed the outer retry
// loop. Per-resource state is shared by name across concurrent callers.
type Chain struct {
	timeout time.Duration
	retry   RetryPolicy

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	limiters map[string]*RateLimiter
	pools    map[string]*ResourcePool
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithTimeoutLimit sets the per-attempt deadline. Zero disables it.
func WithTimeoutLimit(d time.Duration) ChainOption {
	return func(c *Chain) { c.timeout = d }
}

// WithRetryPolicy sets the retry policy applied around every invocation.
func WithRetryPolicy(p RetryPolicy) ChainOption {
	return func(c *Chain) { c.retry = p }
}

// WithCircuitBreaker registers a breaker under its resource name.
func WithCircuitBreaker(b *CircuitBreaker) ChainOption {
	return func(c *Chain) { c.breakers[b.Name()] = b }
}

// WithRateLimiter registers a limiter under its resource name.
func WithRateLimiter(r *RateLimiter) ChainOption {
	return func(c *Chain) { c.limiters[r.Name()] = r }
}

// WithResourcePool registers a pool under its resource name.
func WithResourcePool(p *ResourcePool) ChainOption {
	return func(c *Chain) { c.pools[p.Name()] = p }
}

// NewChain creates a chain. With no options it degrades to a plain call.
func NewChain(opts ...ChainOption) *Chain {
	c := &Chain{
		breakers: make(map[string]*CircuitBreaker),
		limiters: make(map[string]*RateLimiter),
		pools:    make(map[string]*ResourcePool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Breaker returns the breaker registered for the resource, if any.
func (c *Chain) Breaker(resource string) (*CircuitBreaker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.breakers[resource]
	return b, ok
}

// Do runs op for the named resource through the full substrate. An empty
// resource name skips breaker, limiter and pool but keeps timeout and
// retry.
func (c *Chain) Do(ctx context.Context, resource string, op func(ctx context.Context) error) error {
	c.mu.RLock()
	breaker := c.breakers[resource]
	limiter := c.limiters[resource]
	pool := c.pools[resource]
	c.mu.RUnlock()

	attempt := func(ctx context.Context) error {
		if breaker != nil {
			if err := breaker.Allow(); err != nil {
				return err
			}
		}
		if limiter != nil {
			if err := limiter.Allow(); err != nil {
				if breaker != nil {
					// A rejected call is not a resource outcome.
					breaker.Cancel()
				}
				return err
			}
		}
		run := func(ctx context.Context) error {
			if pool != nil {
				release, err := pool.Acquire(ctx)
				if err != nil {
					return fmt.Errorf("%w: %w", errAcquire, err)
				}
				defer release()
			}
			return op(ctx)
		}
		err := WithTimeout(ctx, c.timeout, run)
		if breaker != nil {
			if errors.Is(err, errAcquire) {
				// The call never reached the resource.
				breaker.Cancel()
			} else {
				breaker.Record(err)
			}
		}
		return err
	}
	return c.retry.Do(ctx, attempt)
}
