//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-flow-go/checkpoint"
	"trpc.group/trpc-go/trpc-flow-go/checkpoint/file"
	"trpc.group/trpc-go/trpc-flow-go/flow"
)

func fileRunner(t *testing.T, opts ...Option) *Runner {
	t.Helper()
	saver, err := file.NewSaver(t.TempDir())
	require.NoError(t, err)
	return New(append([]Option{WithCheckpointSaver(saver)}, opts...)...)
}

func countingNode(id string, counter *atomic.Int32, deps ...string) *flow.GraphNode {
	return &flow.GraphNode{
		ID:           id,
		Type:         flow.NodeTypeStandard,
		Dependencies: deps,
		Capability: flow.CapabilityFunc(func(ctx context.Context, inv *flow.Invocation) (map[string]flow.Value, error) {
			counter.Add(1)
			return map[string]flow.Value{"done": flow.InlineValue(true)}, nil
		}),
	}
}

func TestStartCompletesRun(t *testing.T) {
	var calls atomic.Int32
	g := flow.NewGraph(
		countingNode("a", &calls),
		countingNode("b", &calls, "a"),
	)
	r := fileRunner(t)
	runID, err := r.Start(context.Background(), g, nil)
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	assert.Equal(t, int32(2), calls.Load())

	run, err := r.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, string(flow.RunStateCompleted), run.Status)
	assert.Equal(t, []string{"a", "b"}, run.Completed)
}

func TestStartRejectsInvalidGraph(t *testing.T) {
	g := flow.NewGraph(&flow.GraphNode{ID: "a", Type: flow.NodeTypeStandard})
	r := fileRunner(t)
	runID, err := r.Start(context.Background(), g, nil)
	assert.Error(t, err)
	assert.Empty(t, runID)
}

func TestStartRecordsFailure(t *testing.T) {
	boom := errors.New("capability exploded")
	g := flow.NewGraph(&flow.GraphNode{
		ID:   "bad",
		Type: flow.NodeTypeStandard,
		Capability: flow.CapabilityFunc(func(ctx context.Context, inv *flow.Invocation) (map[string]flow.Value, error) {
			return nil, boom
		}),
	})
	r := fileRunner(t)
	runID, err := r.Start(context.Background(), g, nil)
	require.Error(t, err)
	require.NotEmpty(t, runID)

	run, err := r.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, string(flow.RunStateFailed), run.Status)
	assert.Equal(t, "bad", run.FailedNode)
	assert.Equal(t, flow.ErrorKindNode, run.ErrorKind)
	assert.Contains(t, run.Error, "capability exploded")
}

func TestResumeSkipsCompletedWork(t *testing.T) {
	var aCalls, bCalls atomic.Int32
	var fail atomic.Bool
	fail.Store(true)

	graph := func() *flow.Graph {
		return flow.NewGraph(
			countingNode("a", &aCalls),
			&flow.GraphNode{
				ID:           "b",
				Type:         flow.NodeTypeStandard,
				Dependencies: []string{"a"},
				Capability: flow.CapabilityFunc(func(ctx context.Context, inv *flow.Invocation) (map[string]flow.Value, error) {
					if fail.Load() {
						return nil, errors.New("transient outage")
					}
					bCalls.Add(1)
					return map[string]flow.Value{"done": flow.InlineValue(true)}, nil
				}),
			},
		)
	}

	r := fileRunner(t, WithExecutorOptions(flow.WithMaxConcurrency(1)))
	runID, err := r.Start(context.Background(), graph(), nil)
	require.Error(t, err)
	require.Equal(t, int32(1), aCalls.Load())

	// The outage clears; resumption re-runs only b.
	fail.Store(false)
	require.NoError(t, r.Resume(context.Background(), runID, graph()))
	assert.Equal(t, int32(1), aCalls.Load())
	assert.Equal(t, int32(1), bCalls.Load())

	run, err := r.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, string(flow.RunStateCompleted), run.Status)
	assert.Equal(t, []string{"a", "b"}, run.Completed)
	assert.Empty(t, run.FailedNode)
	assert.Empty(t, run.Error)
}

func TestResumeUnknownRun(t *testing.T) {
	r := fileRunner(t)
	g := flow.NewGraph(countingNode("a", &atomic.Int32{}))
	err := r.Resume(context.Background(), "no-such-run", g)
	assert.ErrorIs(t, err, checkpoint.ErrRunNotFound)
}

func TestResumeWithoutSaver(t *testing.T) {
	r := New()
	g := flow.NewGraph(countingNode("a", &atomic.Int32{}))
	err := r.Resume(context.Background(), "whatever", g)
	assert.ErrorIs(t, err, checkpoint.ErrRunNotFound)
}

func TestStatusUnknownRun(t *testing.T) {
	r := fileRunner(t)
	_, err := r.Status(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, checkpoint.ErrRunNotFound)
}

func TestStatusReloadsPersistedRuns(t *testing.T) {
	dir := t.TempDir()
	saver, err := file.NewSaver(dir)
	require.NoError(t, err)
	first := New(WithCheckpointSaver(saver))

	var calls atomic.Int32
	g := flow.NewGraph(countingNode("a", &calls))
	runID, err := first.Start(context.Background(), g, nil)
	require.NoError(t, err)

	// A fresh runner over the same root sees the persisted descriptor.
	reopened, err := file.NewSaver(dir)
	require.NoError(t, err)
	second := New(WithCheckpointSaver(reopened))
	run, err := second.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, string(flow.RunStateCompleted), run.Status)
}

func TestStatusConcurrentWithCheckpointing(t *testing.T) {
	events := make(chan *flow.Event, 64)
	r := fileRunner(t, WithExecutorOptions(
		flow.WithMaxConcurrency(1),
		flow.WithEventChan(events),
	))

	var calls atomic.Int32
	release := make(chan struct{})
	g := flow.NewGraph(
		countingNode("a", &calls),
		&flow.GraphNode{
			ID:           "hold",
			Type:         flow.NodeTypeStandard,
			Dependencies: []string{"a"},
			Capability: flow.CapabilityFunc(func(ctx context.Context, inv *flow.Invocation) (map[string]flow.Value, error) {
				<-release
				return map[string]flow.Value{"done": flow.InlineValue(true)}, nil
			}),
		},
		countingNode("b", &calls, "hold"),
		countingNode("c", &calls, "b"),
	)

	done := make(chan error, 1)
	go func() {
		_, err := r.Start(context.Background(), g, nil)
		done <- err
	}()

	// Wait until the run is mid-flight with one node checkpointed.
	var runID string
	for ev := range events {
		runID = ev.RunID
		if ev.Type == flow.EventNodeStarted && ev.NodeID == "hold" {
			break
		}
	}
	run, err := r.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, string(flow.RunStateRunning), run.Status)
	assert.Equal(t, []string{"a"}, run.Completed)

	// Keep polling while the remaining nodes checkpoint and the final
	// descriptor is written.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := r.Status(context.Background(), runID); err != nil {
				return
			}
		}
	}()
	close(release)
	require.NoError(t, <-done)
	close(stop)
	wg.Wait()

	run, err = r.Status(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, string(flow.RunStateCompleted), run.Status)
	assert.Equal(t, []string{"a", "hold", "b", "c"}, run.Completed)
}

func TestConcurrentStarts(t *testing.T) {
	r := fileRunner(t)
	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var calls atomic.Int32
			g := flow.NewGraph(countingNode("a", &calls))
			id, err := r.Start(context.Background(), g, nil)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "run ids must be unique")
		seen[id] = true
	}
}
