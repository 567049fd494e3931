//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package resilience wraps fallible external operations with timeout
// enforcement, circuit breaking, rate limiting, bounded retry and scoped
// resource pooling. It knows nothing about the scheduler; it only wraps an
// opaque operation.
package resilience

import "errors"

// Errors.
var (
	// ErrTimeout reports an operation exceeding its deadline.
	ErrTimeout = errors.New("operation timed out")
	// ErrCircuitOpen reports a call rejected by an open circuit breaker.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrRateLimited reports a call rejected by a rate limiter.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrPoolExhausted reports a non-blocking acquire on an empty pool.
	ErrPoolExhausted = errors.New("resource pool exhausted")
)
