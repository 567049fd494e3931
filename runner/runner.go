//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package runner is the run control surface of the engine: it validates a
// graph, assigns a run id, drives the executor with checkpointing wired
// in, and resumes interrupted runs from their last valid snapshot.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-flow-go/checkpoint"
	"trpc.group/trpc-go/trpc-flow-go/flow"
	"trpc.group/trpc-go/trpc-flow-go/log"
)

// Runner starts, resumes and reports workflow runs. Safe for concurrent
// use; each run executes on the calling goroutine.
type Runner struct {
	manager  *checkpoint.Manager
	execOpts []flow.ExecutorOption

	mu   sync.RWMutex
	runs map[string]*checkpoint.WorkflowRun
}

// Option configures a Runner.
type Option func(*Runner)

// WithCheckpointSaver sets the persistence backend. Without one, runs
// execute in memory only and cannot be resumed.
func WithCheckpointSaver(saver checkpoint.Saver) Option {
	return func(r *Runner) { r.manager = checkpoint.NewManager(saver) }
}

// WithExecutorOptions appends options applied to every executor the
// runner constructs (resilience chain, concurrency bound, event channel).
func WithExecutorOptions(opts ...flow.ExecutorOption) Option {
	return func(r *Runner) { r.execOpts = append(r.execOpts, opts...) }
}

// New creates a runner.
func New(opts ...Option) *Runner {
	r := &Runner{runs: make(map[string]*checkpoint.WorkflowRun)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start validates the graph and executes it against the initial state,
// returning the run id. Validation failure aborts before any run state is
// created. The returned error is the run's terminal error, if any; the
// run id is valid either way once validation passed.
func (r *Runner) Start(ctx context.Context, g *flow.Graph, initial *flow.StatePool) (string, error) {
	if err := g.Validate(); err != nil {
		return "", err
	}
	if initial == nil {
		initial = flow.NewStatePool()
	}
	runID := uuid.NewString()
	run := &checkpoint.WorkflowRun{
		RunID:     runID,
		Status:    string(flow.RunStateRunning),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	r.track(run)
	if r.manager != nil {
		if err := r.manager.SaveRun(ctx, run); err != nil {
			return "", fmt.Errorf("persist run %s: %w", runID, err)
		}
	}
	log.Infof("starting run %s (%d nodes)", runID, g.Len())
	return runID, r.execute(ctx, g, initial, run, false)
}

// Resume continues an interrupted run from its latest valid snapshot.
// Completed nodes are not re-executed; the same graph must be supplied,
// since graph definitions are not persisted.
func (r *Runner) Resume(ctx context.Context, runID string, g *flow.Graph) error {
	if r.manager == nil {
		return fmt.Errorf("%w: %s", checkpoint.ErrRunNotFound, runID)
	}
	if err := g.Validate(); err != nil {
		return err
	}
	run, state, err := r.manager.Resume(ctx, runID)
	if err != nil {
		return err
	}
	run.Status = string(flow.RunStateRunning)
	run.FailedNode = ""
	run.ErrorKind = ""
	run.Error = ""
	run.UpdatedAt = time.Now()
	r.track(run)
	if err := r.manager.SaveRun(ctx, run); err != nil {
		return err
	}
	log.Infof("resuming run %s: %d nodes already completed", runID, len(run.Completed))
	return r.execute(ctx, g, state, run, true)
}

// Status returns the run descriptor, preferring live in-memory state over
// the persisted copy.
func (r *Runner) Status(ctx context.Context, runID string) (*checkpoint.WorkflowRun, error) {
	r.mu.RLock()
	run, ok := r.runs[runID]
	r.mu.RUnlock()
	if ok {
		cp := *run
		return &cp, nil
	}
	if r.manager != nil {
		return r.manager.LoadRun(ctx, runID)
	}
	return nil, fmt.Errorf("%w: %s", checkpoint.ErrRunNotFound, runID)
}

func (r *Runner) track(run *checkpoint.WorkflowRun) {
	r.mu.Lock()
	r.runs[run.RunID] = run
	r.mu.Unlock()
}

// withLock runs apply under the runner's descriptor lock. Every mutation
// of a tracked run goes through here so Status can copy descriptors
// safely while a run is in flight.
func (r *Runner) withLock(apply func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	apply()
}

func (r *Runner) execute(ctx context.Context, g *flow.Graph, state *flow.StatePool, run *checkpoint.WorkflowRun, resumed bool) error {
	opts := append([]flow.ExecutorOption(nil), r.execOpts...)
	if resumed {
		opts = append(opts, flow.WithResumedRun())
	}
	if r.manager != nil {
		opts = append(opts, flow.WithCheckpointFunc(r.manager.CheckpointFunc(run, r.withLock)))
	}
	exec, err := flow.NewExecutor(g, opts...)
	if err != nil {
		return err
	}
	defer exec.Close()

	execErr := exec.Execute(ctx, state, run.RunID)
	r.mu.Lock()
	if execErr != nil {
		run.Status = string(flow.RunStateFailed)
		run.Error = execErr.Error()
		var nodeErr *flow.NodeError
		if errors.As(execErr, &nodeErr) {
			run.FailedNode = nodeErr.NodeID
			run.ErrorKind = flow.ErrorKind(nodeErr.Err)
		} else {
			run.ErrorKind = flow.ErrorKind(execErr)
		}
	} else {
		run.Status = string(flow.RunStateCompleted)
	}
	run.Completed = state.Completed()
	run.UpdatedAt = time.Now()
	final := *run
	r.mu.Unlock()
	if r.manager != nil {
		if err := r.manager.SaveRun(ctx, &final); err != nil {
			log.Errorf("persist final status of run %s: %v", run.RunID, err)
		}
	}
	return execErr
}
