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

// BreakerState is the circuit breaker state.
type BreakerState int

// Breaker states.
const (
	// BreakerClosed allows all calls.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects all calls until the recovery timeout elapses.
	BreakerOpen
	// BreakerHalfOpen admits exactly one trial call.
	BreakerHalfOpen
)

// String implements fmt.Stringer.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks consecutive failures for one named resource.
// At FailureThreshold consecutive failures it opens and rejects calls
// immediately; after RecoveryTimeout it admits exactly one trial call.
// Trial success closes the breaker, trial failure reopens it and resets
// the recovery timer. Safe for concurrent use.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	// trialInFlight guards the single half-open probe.
	trialInFlight bool

	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker for the named resource.
func NewCircuitBreaker(name string, failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
	}
}

// Name returns the resource name the breaker guards.
func (b *CircuitBreaker) Name() string { return b.name }

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed, transitioning Open to HalfOpen
// once the recovery timeout has elapsed. Callers that receive nil must
// report the outcome via Record.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) < b.recoveryTimeout {
			return fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
		}
		b.state = BreakerHalfOpen
		b.trialInFlight = true
		return nil
	default: // BreakerHalfOpen
		if b.trialInFlight {
			return fmt.Errorf("%w: %s (trial in flight)", ErrCircuitOpen, b.name)
		}
		b.trialInFlight = true
		return nil
	}
}

// Cancel releases an allowed call without recording an outcome, e.g. when
// a later check rejected the call before the resource was touched.
func (b *CircuitBreaker) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
}

// Record reports the outcome of an allowed call.
func (b *CircuitBreaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
	if err == nil {
		b.failures = 0
		b.state = BreakerClosed
		return
	}
	b.failures++
	b.lastFailure = b.now()
	if b.state == BreakerHalfOpen || b.failures >= b.failureThreshold {
		b.state = BreakerOpen
	}
}
