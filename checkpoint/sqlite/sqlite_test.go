//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-flow-go/checkpoint"
	"trpc.group/trpc-go/trpc-flow-go/flow"
)

func testSaver(t *testing.T) *Saver {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := NewSaver(db)
	require.NoError(t, err)
	return s
}

func TestSaveLoadRun(t *testing.T) {
	s := testSaver(t)
	ctx := context.Background()

	run := &checkpoint.WorkflowRun{
		RunID:     "run-1",
		Status:    "running",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveRun(ctx, run))

	loaded, err := s.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", loaded.RunID)
	assert.Equal(t, "running", loaded.Status)

	// The descriptor is replaced, not duplicated.
	run.Status = "completed"
	require.NoError(t, s.SaveRun(ctx, run))
	loaded, err = s.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", loaded.Status)

	_, err = s.LoadRun(ctx, "no-such-run")
	assert.ErrorIs(t, err, checkpoint.ErrRunNotFound)
}

func TestLoadSnapshotReturnsLatest(t *testing.T) {
	s := testSaver(t)
	ctx := context.Background()

	first := flow.NewStatePool()
	require.NoError(t, first.Put("a", "out", flow.InlineValue("one")))
	require.NoError(t, s.SaveStep(ctx, "run-1", "a",
		map[string]flow.Value{"out": flow.InlineValue("one")}, first.Snapshot()))

	second := flow.NewStatePool()
	require.NoError(t, second.Put("a", "out", flow.InlineValue("one")))
	require.NoError(t, second.Put("b", "out", flow.InlineValue("two")))
	require.NoError(t, s.SaveStep(ctx, "run-1", "b",
		map[string]flow.Value{"out": flow.InlineValue("two")}, second.Snapshot()))

	snap, err := s.LoadSnapshot(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, snap.Completed)

	restored := flow.NewStatePoolFromSnapshot(snap)
	v, err := restored.Get("b", "out")
	require.NoError(t, err)
	assert.Equal(t, "two", v.Data())
}

func TestLoadSnapshotEmptyRun(t *testing.T) {
	s := testSaver(t)
	_, err := s.LoadSnapshot(context.Background(), "run-1")
	assert.ErrorIs(t, err, checkpoint.ErrNoSnapshot)
}

func TestSnapshotsIsolatedPerRun(t *testing.T) {
	s := testSaver(t)
	ctx := context.Background()

	pool := flow.NewStatePool()
	require.NoError(t, pool.Put("a", "out", flow.InlineValue(1.0)))
	require.NoError(t, s.SaveStep(ctx, "run-1", "a", nil, pool.Snapshot()))

	_, err := s.LoadSnapshot(ctx, "run-2")
	assert.ErrorIs(t, err, checkpoint.ErrNoSnapshot)
}
