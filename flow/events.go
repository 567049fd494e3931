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
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"trpc.group/trpc-go/trpc-flow-go/telemetry"
)

// EventType identifies a structured execution event.
type EventType string

// Event types emitted by the executor.
const (
	EventRunStarted     EventType = "run.started"
	EventRunCompleted   EventType = "run.completed"
	EventRunFailed      EventType = "run.failed"
	EventRunResumed     EventType = "run.resumed"
	EventNodeStarted    EventType = "node.started"
	EventNodeCompleted  EventType = "node.completed"
	EventNodeSkipped    EventType = "node.skipped"
	EventNodeFailed     EventType = "node.failed"
	EventLoopTerminated EventType = "loop.terminated"
)

// Event is one structured execution record. The executor produces events;
// the sink consuming them is not part of the engine.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	NodeID    string    `json:"node_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	// ErrorKind and Error are set on failure events.
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
	// Reason records loop termination mode on EventLoopTerminated.
	Reason string `json:"reason,omitempty"`
	// Iterations is the executed iteration count on EventLoopTerminated.
	Iterations int `json:"iterations,omitempty"`
}

// engine-wide execution counters; no-op unless a meter provider is set.
var (
	nodeCompletedCounter, _ = telemetry.Meter.Int64Counter(
		"flow.node.completed",
		metric.WithDescription("Nodes completed successfully."))
	nodeFailedCounter, _ = telemetry.Meter.Int64Counter(
		"flow.node.failed",
		metric.WithDescription("Nodes that exhausted their retry budget."))
	nodeSkippedCounter, _ = telemetry.Meter.Int64Counter(
		"flow.node.skipped",
		metric.WithDescription("Nodes skipped by a false gate."))
)

// emitter delivers events to an optional caller-owned channel and keeps
// counters. A nil emitter or nil channel drops events silently.
type emitter struct {
	runID string
	ch    chan<- *Event
}

func (e *emitter) emit(ctx context.Context, ev *Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if e != nil {
		ev.RunID = e.runID
	}
	switch ev.Type {
	case EventNodeCompleted:
		nodeCompletedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("node", ev.NodeID)))
	case EventNodeFailed:
		nodeFailedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("node", ev.NodeID)))
	case EventNodeSkipped:
		nodeSkippedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("node", ev.NodeID)))
	}
	if e == nil || e.ch == nil {
		return
	}
	select {
	case e.ch <- ev:
	case <-ctx.Done():
	}
}
