//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides SQLite-backed checkpoint storage. The caller
// owns the *sql.DB and chooses the driver; snapshot rows are written in a
// transaction so a reader never observes a partial step.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-flow-go/checkpoint"
	"trpc.group/trpc-go/trpc-flow-go/flow"
)

const (
	createRuns = "CREATE TABLE IF NOT EXISTS flow_runs (" +
		"run_id TEXT PRIMARY KEY, " +
		"run_json BLOB NOT NULL, " +
		"updated_at INTEGER NOT NULL" +
		")"
	createSteps = "CREATE TABLE IF NOT EXISTS flow_steps (" +
		"run_id TEXT NOT NULL, " +
		"node_id TEXT NOT NULL, " +
		"outputs_json BLOB NOT NULL, " +
		"snapshot_json BLOB NOT NULL, " +
		"ts INTEGER NOT NULL, " +
		"PRIMARY KEY (run_id, node_id)" +
		")"
	createStepsIndex = "CREATE INDEX IF NOT EXISTS idx_flow_steps_run_ts " +
		"ON flow_steps (run_id, ts)"

	upsertRun = "INSERT OR REPLACE INTO flow_runs (run_id, run_json, updated_at) " +
		"VALUES (?, ?, ?)"
	selectRun  = "SELECT run_json FROM flow_runs WHERE run_id = ?"
	upsertStep = "INSERT OR REPLACE INTO flow_steps " +
		"(run_id, node_id, outputs_json, snapshot_json, ts) VALUES (?, ?, ?, ?, ?)"
	selectLatestSnapshot = "SELECT snapshot_json FROM flow_steps " +
		"WHERE run_id = ? ORDER BY ts DESC, rowid DESC LIMIT 1"
)

// Saver stores checkpoints in SQLite.
type Saver struct {
	db *sql.DB
}

// NewSaver creates the schema if needed and returns a saver over db.
func NewSaver(db *sql.DB) (*Saver, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	for _, stmt := range []string{createRuns, createSteps, createStepsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("create checkpoint schema: %w", err)
		}
	}
	return &Saver{db: db}, nil
}

// SaveStep implements checkpoint.Saver.
func (s *Saver) SaveStep(ctx context.Context, runID, nodeID string, outputs map[string]flow.Value, snap *flow.Snapshot) error {
	if outputs == nil {
		outputs = map[string]flow.Value{}
	}
	outputsJSON, err := json.Marshal(outputs)
	if err != nil {
		return err
	}
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, upsertStep,
		runID, nodeID, outputsJSON, snapJSON, time.Now().UnixNano())
	return err
}

// SaveRun implements checkpoint.Saver.
func (s *Saver) SaveRun(ctx context.Context, run *checkpoint.WorkflowRun) error {
	runJSON, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, upsertRun, run.RunID, runJSON, time.Now().UnixNano())
	return err
}

// LoadRun implements checkpoint.Saver.
func (s *Saver) LoadRun(ctx context.Context, runID string) (*checkpoint.WorkflowRun, error) {
	var runJSON []byte
	err := s.db.QueryRowContext(ctx, selectRun, runID).Scan(&runJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", checkpoint.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	var run checkpoint.WorkflowRun
	if err := json.Unmarshal(runJSON, &run); err != nil {
		return nil, fmt.Errorf("%w: corrupt run descriptor: %v", checkpoint.ErrRunNotFound, err)
	}
	return &run, nil
}

// LoadSnapshot implements checkpoint.Saver.
func (s *Saver) LoadSnapshot(ctx context.Context, runID string) (*flow.Snapshot, error) {
	var snapJSON []byte
	err := s.db.QueryRowContext(ctx, selectLatestSnapshot, runID).Scan(&snapJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", checkpoint.ErrNoSnapshot, runID)
	}
	if err != nil {
		return nil, err
	}
	var snap flow.Snapshot
	if err := json.Unmarshal(snapJSON, &snap); err != nil {
		return nil, fmt.Errorf("%w: corrupt snapshot: %v", checkpoint.ErrNoSnapshot, err)
	}
	return &snap, nil
}
