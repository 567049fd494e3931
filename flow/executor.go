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
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"trpc.group/trpc-go/trpc-flow-go/log"
	"trpc.group/trpc-go/trpc-flow-go/resilience"
	"trpc.group/trpc-go/trpc-flow-go/telemetry"
)

// RunState is the lifecycle state of one run.
type RunState string

// Run states.
const (
	RunStatePending   RunState = "pending"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// CheckpointFunc persists one completed step: the node's raw output set and
// a full snapshot of the state pool taken after the commit. The persistence
// layer provides it; the executor only calls it.
type CheckpointFunc func(ctx context.Context, nodeID string, outputs map[string]Value, snap *Snapshot) error

const defaultMaxConcurrency = 8

// Executor drives a validated graph to completion against a state pool.
// It computes the ready set, evaluates gates, runs ready nodes through the
// resilience chain up to the engine-wide concurrency bound, commits outputs
// and checkpoints after every successful node.
type Executor struct {
	graph          *Graph
	chain          *resilience.Chain
	pool           *ants.Pool
	maxConcurrency int
	checkpoint     CheckpointFunc
	events         chan<- *Event
	resumed        bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithChain sets the resilience chain wrapped around capability calls.
func WithChain(c *resilience.Chain) ExecutorOption {
	return func(e *Executor) { e.chain = c }
}

// WithMaxConcurrency bounds how many ready nodes run at once (default 8).
// A value of 1 forces strictly sequential execution.
func WithMaxConcurrency(n int) ExecutorOption {
	return func(e *Executor) { e.maxConcurrency = n }
}

// WithCheckpointFunc installs the persistence callback invoked after each
// successful node.
func WithCheckpointFunc(f CheckpointFunc) ExecutorOption {
	return func(e *Executor) { e.checkpoint = f }
}

// WithEventChan directs execution events to a caller-owned channel. The
// caller must drain it; sends block only until ctx is done.
func WithEventChan(ch chan<- *Event) ExecutorOption {
	return func(e *Executor) { e.events = ch }
}

// WithResumedRun marks the execution as continuing an interrupted run, so
// the run-start event is emitted as run.resumed instead of run.started.
func WithResumedRun() ExecutorOption {
	return func(e *Executor) { e.resumed = true }
}

// NewExecutor validates the graph and creates an executor for it.
func NewExecutor(g *Graph, opts ...ExecutorOption) (*Executor, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	e := &Executor{
		graph:          g,
		chain:          resilience.NewChain(),
		maxConcurrency: defaultMaxConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxConcurrency > 1 {
		pool, err := ants.NewPool(e.maxConcurrency)
		if err != nil {
			return nil, fmt.Errorf("create worker pool: %w", err)
		}
		e.pool = pool
	}
	return e, nil
}

// Close releases the executor's worker pool.
func (e *Executor) Close() {
	if e.pool != nil {
		e.pool.Release()
	}
}

// Execute runs the graph against the given state pool until every node is
// satisfied or a node fails fatally. Nodes already satisfied in the pool
// (a resumed run) are not re-executed. Execute is not safe for concurrent
// calls with the same pool.
func (e *Executor) Execute(ctx context.Context, state *StatePool, runID string) error {
	ctx, span := telemetry.Tracer.Start(ctx, "flow.execute",
		trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	em := &emitter{runID: runID, ch: e.events}
	start := EventRunStarted
	if e.resumed {
		start = EventRunResumed
	}
	em.emit(ctx, &Event{Type: start})
	if err := e.run(ctx, state, em); err != nil {
		var kind string
		var nodeID string
		var nodeErr *NodeError
		if errors.As(err, &nodeErr) {
			nodeID = nodeErr.NodeID
			kind = ErrorKind(nodeErr.Err)
		} else {
			kind = ErrorKind(err)
		}
		em.emit(ctx, &Event{Type: EventRunFailed, NodeID: nodeID, ErrorKind: kind, Error: err.Error()})
		return err
	}
	em.emit(ctx, &Event{Type: EventRunCompleted})
	return nil
}

// run is the scheduling loop shared by top-level and template execution.
func (e *Executor) run(ctx context.Context, state *StatePool, em *emitter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ready := e.readySet(state)
		if len(ready) == 0 {
			if e.allSatisfied(state) {
				return nil
			}
			// Cannot happen on a validated acyclic graph.
			return fmt.Errorf("%w: no ready nodes but %s", ErrCycleDetected, "graph not complete")
		}
		if err := e.runBatch(ctx, ready, state, em); err != nil {
			return err
		}
	}
}

// readySet returns the not-yet-satisfied nodes whose every dependency is
// satisfied, in definition order.
func (e *Executor) readySet(state *StatePool) []*GraphNode {
	var ready []*GraphNode
	for _, n := range e.graph.Nodes() {
		if state.Satisfied(n.ID) {
			continue
		}
		ok := true
		for _, dep := range n.Dependencies {
			if !state.Satisfied(dep) {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, n)
		}
	}
	return ready
}

func (e *Executor) allSatisfied(state *StatePool) bool {
	for _, n := range e.graph.Nodes() {
		if !state.Satisfied(n.ID) {
			return false
		}
	}
	return true
}

// runBatch executes one ready-set batch. Nodes within a batch have no
// ordering requirement among themselves and run concurrently up to the
// engine-wide bound. The first failure stops submission of further nodes;
// already-started siblings finish.
func (e *Executor) runBatch(ctx context.Context, batch []*GraphNode, state *StatePool, em *emitter) error {
	if e.pool == nil || len(batch) == 1 {
		for _, node := range batch {
			if err := e.executeNode(ctx, node, state, em); err != nil {
				return err
			}
		}
		return nil
	}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, node := range batch {
		mu.Lock()
		failed := firstErr != nil
		mu.Unlock()
		if failed {
			break
		}
		node := node
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := e.executeNode(ctx, node, state, em); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}
		if err := e.pool.Submit(task); err != nil {
			// Pool rejected the task; run inline rather than dropping it.
			task()
		}
	}
	wg.Wait()
	return firstErr
}

// executeNode runs one node: gate evaluation, input resolution, capability
// invocation through the resilience chain, output commit and checkpoint.
func (e *Executor) executeNode(ctx context.Context, node *GraphNode, state *StatePool, em *emitter) error {
	ctx, span := telemetry.Tracer.Start(ctx, "flow.node",
		trace.WithAttributes(
			attribute.String("node_id", node.ID),
			attribute.String("node_type", string(node.Type))))
	defer span.End()

	if node.RunIf != "" {
		ok, err := state.EvaluateCondition(node.RunIf)
		if err != nil {
			return &NodeError{NodeID: node.ID, Err: err}
		}
		if !ok {
			log.Debugf("skipping node %s: gate %q is false", node.ID, node.RunIf)
			state.MarkSkipped(node.ID)
			em.emit(ctx, &Event{Type: EventNodeSkipped, NodeID: node.ID})
			if err := e.checkpointStep(ctx, node.ID, nil, state); err != nil {
				return &NodeError{NodeID: node.ID, Err: err}
			}
			return nil
		}
	}

	em.emit(ctx, &Event{Type: EventNodeStarted, NodeID: node.ID})
	inputs, err := e.gatherInputs(node, state)
	if err != nil {
		em.emit(ctx, &Event{Type: EventNodeFailed, NodeID: node.ID,
			ErrorKind: ErrorKind(err), Error: err.Error()})
		return &NodeError{NodeID: node.ID, Err: err}
	}

	var outputs map[string]Value
	switch node.Type {
	case NodeTypeMap:
		outputs, err = e.executeMap(ctx, node, inputs, em)
	case NodeTypeWhile:
		outputs, err = e.executeWhile(ctx, node, inputs, em)
	default:
		err = e.chain.Do(ctx, node.Resource, func(ctx context.Context) error {
			out, execErr := node.Capability.Execute(ctx, &Invocation{
				NodeID: node.ID,
				Inputs: inputs,
				Params: node.Params,
				State:  state,
			})
			if execErr != nil {
				return execErr
			}
			outputs = out
			return nil
		})
	}
	if err != nil {
		log.Errorf("node %s failed: %v", node.ID, err)
		em.emit(ctx, &Event{Type: EventNodeFailed, NodeID: node.ID,
			ErrorKind: ErrorKind(err), Error: err.Error()})
		return &NodeError{NodeID: node.ID, Err: err}
	}

	if outputs == nil {
		outputs = map[string]Value{}
	}
	if err := state.PutAll(node.ID, outputs); err != nil {
		return &NodeError{NodeID: node.ID, Err: err}
	}
	if err := e.checkpointStep(ctx, node.ID, outputs, state); err != nil {
		return &NodeError{NodeID: node.ID, Err: err}
	}
	em.emit(ctx, &Event{Type: EventNodeCompleted, NodeID: node.ID})
	return nil
}

func (e *Executor) checkpointStep(ctx context.Context, nodeID string, outputs map[string]Value, state *StatePool) error {
	if e.checkpoint == nil {
		return nil
	}
	if err := e.checkpoint(ctx, nodeID, outputs, state.Snapshot()); err != nil {
		return fmt.Errorf("checkpoint after %s: %w", nodeID, err)
	}
	return nil
}

// gatherInputs resolves a node's capability inputs. Precedence, lowest
// first: scope variables, literal initial inputs, declared mappings.
func (e *Executor) gatherInputs(node *GraphNode, state *StatePool) (map[string]Value, error) {
	inputs := make(map[string]Value)
	if scope, ok := state.Outputs(ScopeNode); ok {
		for name, v := range scope {
			inputs[name] = v
		}
	}
	for name, v := range node.InitialInputs {
		inputs[name] = v
	}
	for name, ref := range node.Inputs {
		v, err := state.Get(ref.Node, ref.Output)
		if err != nil {
			return nil, fmt.Errorf("input %s of node %s: %w", name, node.ID, err)
		}
		inputs[name] = v
	}
	return inputs, nil
}

// templateExecutor builds the sub-executor used for one template run.
// Template execution is strictly sequential within an iteration scope and
// never checkpoints; the parent node is the unit of persistence.
func (e *Executor) templateExecutor(template *Graph) *Executor {
	return &Executor{
		graph:  template,
		chain:  e.chain,
		events: e.events,
	}
}
