//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package file implements checkpoint storage as plain JSON files in a
// run-scoped directory: `<run_dir>/<node_id>_outputs.json` holds one
// node's raw outputs, `<run_dir>/state_after_<node_id>.json` the full
// state snapshot after that node committed, and `<run_dir>/run.json` the
// run descriptor. All writes are temp-file-plus-rename atomic.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"trpc.group/trpc-go/trpc-flow-go/checkpoint"
	"trpc.group/trpc-go/trpc-flow-go/flow"
	"trpc.group/trpc-go/trpc-flow-go/log"
)

const (
	runFileName = "run.json"
	dirPerm     = 0o755
	filePerm    = 0o644
)

// Saver stores checkpoints under a root directory, one subdirectory per
// run id.
type Saver struct {
	root string
}

// NewSaver creates a file saver rooted at dir, creating it if needed.
func NewSaver(dir string) (*Saver, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create checkpoint root: %w", err)
	}
	return &Saver{root: dir}, nil
}

// RunDir returns the directory holding one run's checkpoints.
func (s *Saver) RunDir(runID string) string {
	return filepath.Join(s.root, runID)
}

// SaveStep implements checkpoint.Saver.
func (s *Saver) SaveStep(ctx context.Context, runID, nodeID string, outputs map[string]flow.Value, snap *flow.Snapshot) error {
	dir := s.RunDir(runID)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}
	if outputs == nil {
		outputs = map[string]flow.Value{}
	}
	if err := writeJSON(filepath.Join(dir, checkpoint.OutputsName(nodeID)), outputs); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, checkpoint.SnapshotName(nodeID)), snap)
}

// SaveRun implements checkpoint.Saver. The descriptor is persisted with
// Dir filled in; the caller's copy is only read, never mutated.
func (s *Saver) SaveRun(ctx context.Context, run *checkpoint.WorkflowRun) error {
	dir := s.RunDir(run.RunID)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}
	cp := *run
	cp.Dir = dir
	return writeJSON(filepath.Join(dir, runFileName), &cp)
}

// LoadRun implements checkpoint.Saver.
func (s *Saver) LoadRun(ctx context.Context, runID string) (*checkpoint.WorkflowRun, error) {
	data, err := os.ReadFile(filepath.Join(s.RunDir(runID), runFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", checkpoint.ErrRunNotFound, runID)
		}
		return nil, err
	}
	var run checkpoint.WorkflowRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("%w: corrupt run descriptor: %v", checkpoint.ErrRunNotFound, err)
	}
	return &run, nil
}

// LoadSnapshot implements checkpoint.Saver. It prefers the snapshot the
// run descriptor references and falls back to the newest parseable
// snapshot file, so a truncated final write never blocks resumption.
func (s *Saver) LoadSnapshot(ctx context.Context, runID string) (*flow.Snapshot, error) {
	dir := s.RunDir(runID)
	if run, err := s.LoadRun(ctx, runID); err == nil && run.Snapshot != "" {
		if snap, err := readSnapshot(filepath.Join(dir, run.Snapshot)); err == nil {
			return snap, nil
		}
		log.Warnf("run %s: referenced snapshot %s unreadable, scanning", runID, run.Snapshot)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", checkpoint.ErrNoSnapshot, runID)
	}
	type candidate struct {
		name string
		mod  int64
	}
	var candidates []candidate
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "state_after_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{name: name, mod: info.ModTime().UnixNano()})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mod > candidates[j].mod })
	for _, c := range candidates {
		if snap, err := readSnapshot(filepath.Join(dir, c.name)); err == nil {
			return snap, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", checkpoint.ErrNoSnapshot, runID)
}

func readSnapshot(path string) (*flow.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap flow.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// writeJSON writes v atomically: marshal, write to a temp file in the
// target directory, fsync, rename over the destination.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
