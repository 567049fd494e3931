//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package checkpoint persists per-node output snapshots and whole-state
// snapshots so an interrupted run can resume from its last successful
// step. It contains no business logic beyond serialize, deserialize and
// atomic replacement.
package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-flow-go/flow"
)

// Errors.
var (
	// ErrRunNotFound reports an unknown run id.
	ErrRunNotFound = errors.New("run not found")
	// ErrNoSnapshot reports a run with no valid snapshot to resume from.
	ErrNoSnapshot = errors.New("no valid snapshot")
)

// WorkflowRun is the persisted descriptor of one run.
type WorkflowRun struct {
	RunID string `json:"run_id"`
	// Dir is the run-scoped directory for file-backed savers.
	Dir string `json:"dir,omitempty"`
	// Status is a flow.RunState value.
	Status string `json:"status"`
	// Completed lists node ids with outputs present in Snapshot, in
	// completion order.
	Completed []string `json:"completed"`
	// Snapshot references the latest full state snapshot (file name or
	// storage key, saver-specific).
	Snapshot string `json:"snapshot,omitempty"`
	// FailedNode and ErrorKind describe the failure of a failed run.
	FailedNode string    `json:"failed_node,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Saver is the storage backend contract. Implementations must make
// SaveStep atomic with respect to LoadSnapshot: a reader never observes a
// partially written snapshot.
type Saver interface {
	// SaveStep persists one completed node's raw outputs plus the full
	// state snapshot taken after its commit.
	SaveStep(ctx context.Context, runID, nodeID string, outputs map[string]flow.Value, snap *flow.Snapshot) error
	// SaveRun persists the run descriptor.
	SaveRun(ctx context.Context, run *WorkflowRun) error
	// LoadRun returns the run descriptor or ErrRunNotFound.
	LoadRun(ctx context.Context, runID string) (*WorkflowRun, error)
	// LoadSnapshot returns the latest valid full snapshot for the run,
	// or ErrNoSnapshot.
	LoadSnapshot(ctx context.Context, runID string) (*flow.Snapshot, error)
}

// Manager serializes checkpoint writes for the runs it manages. It does
// not serialize node execution; only persistence.
type Manager struct {
	saver Saver
	mu    sync.Mutex
}

// NewManager wraps a saver with write serialization.
func NewManager(saver Saver) *Manager {
	return &Manager{saver: saver}
}

// CheckpointFunc adapts the manager to the executor's persistence hook for
// one run: each successful step stores the node outputs, the full
// snapshot, and an updated run descriptor. Descriptor mutation happens
// inside update; callers that expose the descriptor to concurrent readers
// supply a callback taking their lock. A nil update applies mutations
// directly. The saver receives a copy taken under that callback, so it
// never reads the shared descriptor.
func (m *Manager) CheckpointFunc(run *WorkflowRun, update func(apply func())) flow.CheckpointFunc {
	if update == nil {
		update = func(apply func()) { apply() }
	}
	return func(ctx context.Context, nodeID string, outputs map[string]flow.Value, snap *flow.Snapshot) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if err := m.saver.SaveStep(ctx, run.RunID, nodeID, outputs, snap); err != nil {
			return err
		}
		var cp WorkflowRun
		update(func() {
			run.Completed = append([]string(nil), snap.Completed...)
			run.Snapshot = SnapshotName(nodeID)
			run.UpdatedAt = time.Now()
			cp = *run
		})
		return m.saver.SaveRun(ctx, &cp)
	}
}

// SaveRun persists a run descriptor under the manager's write lock. The
// descriptor is only read; callers set UpdatedAt themselves, under
// whatever lock guards their descriptor.
func (m *Manager) SaveRun(ctx context.Context, run *WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saver.SaveRun(ctx, run)
}

// LoadRun returns a run descriptor.
func (m *Manager) LoadRun(ctx context.Context, runID string) (*WorkflowRun, error) {
	return m.saver.LoadRun(ctx, runID)
}

// Resume reconstructs a run descriptor and state pool from the latest
// valid snapshot. Nodes present in the snapshot count as completed and
// will not re-execute.
func (m *Manager) Resume(ctx context.Context, runID string) (*WorkflowRun, *flow.StatePool, error) {
	run, err := m.saver.LoadRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	snap, err := m.saver.LoadSnapshot(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return run, flow.NewStatePoolFromSnapshot(snap), nil
}

// SnapshotName is the canonical name of the full-state snapshot written
// after the given node.
func SnapshotName(nodeID string) string {
	return "state_after_" + nodeID + ".json"
}

// OutputsName is the canonical name of a node's raw output file.
func OutputsName(nodeID string) string {
	return nodeID + "_outputs.json"
}
