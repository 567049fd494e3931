//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package flow

import (
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-flow-go/resilience"
)

// Errors.
var (
	// ErrDuplicateOutput is returned on a conflicting overwrite of an
	// already-written (node, output) key within one scope.
	ErrDuplicateOutput = errors.New("duplicate output")
	// ErrOutputNotFound is returned when a referenced output is absent.
	ErrOutputNotFound = errors.New("output not found")
	// ErrUnresolvedReference is returned when a template reference cannot
	// be resolved against the state pool.
	ErrUnresolvedReference = errors.New("unresolved reference")
	// ErrDuplicateNode is returned by validation for repeated node ids.
	ErrDuplicateNode = errors.New("duplicate node id")
	// ErrMissingDependency is returned by validation for a dependency on a
	// node that does not exist in the graph.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrCycleDetected is returned by validation when the dependency edges
	// contain a cycle.
	ErrCycleDetected = errors.New("cycle detected")
	// ErrMissingCapability is returned when a standard node has no
	// capability to invoke.
	ErrMissingCapability = errors.New("missing capability")
	// ErrRunFailed is the terminal error of a failed run.
	ErrRunFailed = errors.New("run failed")
)

// Error kinds reported in run status and events. They mirror the error
// taxonomy: graph errors abort before execution, node errors are fatal to a
// run after retry exhaustion, and the resilience kinds are transient until
// the retry budget runs out.
const (
	ErrorKindGraph       = "graph_error"
	ErrorKindNode        = "node_error"
	ErrorKindTimeout     = "timeout"
	ErrorKindCircuitOpen = "circuit_open"
	ErrorKindRateLimited = "rate_limited"
	ErrorKindResume      = "resume_error"
)

// NodeError wraps a capability failure with the node that raised it.
type NodeError struct {
	NodeID string
	Err    error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeID, e.Err)
}

// Unwrap returns the underlying capability error.
func (e *NodeError) Unwrap() error { return e.Err }

// ErrorKind classifies an execution error into the taxonomy used by run
// status and events.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, resilience.ErrTimeout):
		return ErrorKindTimeout
	case errors.Is(err, resilience.ErrCircuitOpen):
		return ErrorKindCircuitOpen
	case errors.Is(err, resilience.ErrRateLimited):
		return ErrorKindRateLimited
	case errors.Is(err, ErrDuplicateNode),
		errors.Is(err, ErrMissingDependency),
		errors.Is(err, ErrCycleDetected):
		return ErrorKindGraph
	default:
		return ErrorKindNode
	}
}
