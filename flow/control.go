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
	"fmt"
	"reflect"

	"golang.org/x/sync/errgroup"

	"trpc.group/trpc-go/trpc-flow-go/log"
)

// MapPolicy selects how a Map node treats iteration failures. Only
// fail-fast is implemented; the type exists so a skip-and-continue policy
// can be added without touching the executor.
type MapPolicy int

// Map policies.
const (
	// MapFailFast fails the whole Map node on the first iteration failure.
	MapFailFast MapPolicy = iota
)

// executeMap runs the node's template once per element of the source list.
// Each iteration gets a fresh scope with the element bound to MapItemVar;
// the node's output is the ordered-by-input-index array of iteration
// results regardless of completion order. Any iteration failure fails the
// node (fail-fast).
func (e *Executor) executeMap(ctx context.Context, node *GraphNode, inputs map[string]Value, em *emitter) (map[string]Value, error) {
	source, ok := inputs[MapSourceInput]
	if !ok {
		return nil, fmt.Errorf("map node %s: missing input %q", node.ID, MapSourceInput)
	}
	list, ok := asList(source.Data())
	if !ok {
		return nil, fmt.Errorf("map node %s: input %q must be a list", node.ID, MapSourceInput)
	}

	results := make([]any, len(list))
	runOne := func(ctx context.Context, index int, item any) error {
		scope := newScopePool(map[string]Value{MapItemVar: InlineValue(item)})
		sub := e.templateExecutor(node.Template)
		if err := sub.run(ctx, scope, em); err != nil {
			return fmt.Errorf("iteration %d: %w", index, err)
		}
		results[index] = iterationResult(node.Template, scope)
		return nil
	}

	if node.Parallel {
		// Iterations launch concurrently with no implicit upper bound;
		// the results slice keeps input order.
		g, gctx := errgroup.WithContext(ctx)
		for i, item := range list {
			i, item := i, item
			g.Go(func() error { return runOne(gctx, i, item) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, item := range list {
			if err := runOne(ctx, i, item); err != nil {
				return nil, err
			}
		}
	}
	return map[string]Value{MapResultsOutput: InlineValue(results)}, nil
}

// asList coerces inline data to []any, accepting any slice type so
// programmatically built graphs need not pre-box their lists.
func asList(data any) ([]any, bool) {
	if list, ok := data.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(data)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return nil, false
	}
	list := make([]any, rv.Len())
	for i := range list {
		list[i] = rv.Index(i).Interface()
	}
	return list, true
}

// iterationResult extracts one iteration's designated result: the merged
// outputs of the template's exit nodes, collapsed to the bare value when
// there is exactly one.
func iterationResult(template *Graph, scope *StatePool) any {
	merged := make(map[string]Value)
	order := make([]string, 0, 4)
	for _, exit := range template.exitNodes() {
		outs, ok := scope.Outputs(exit)
		if !ok {
			continue
		}
		for _, name := range sortedNames(outs) {
			if _, exists := merged[name]; !exists {
				order = append(order, name)
			}
			merged[name] = outs[name]
		}
	}
	if len(merged) == 1 {
		return valueData(merged[order[0]])
	}
	result := make(map[string]any, len(merged))
	for name, v := range merged {
		result[name] = valueData(v)
	}
	return result
}

// valueData flattens a Value into plain JSON-compatible data for embedding
// in a result array.
func valueData(v Value) any {
	switch v.Kind() {
	case KindFile:
		return map[string]any{"type": valueTypeFile, "path": v.Path(), "mime_type": v.MimeType()}
	case KindURL:
		return map[string]any{"type": valueTypeURL, "url": v.URL(), "mime_type": v.MimeType()}
	default:
		return v.Data()
	}
}

// executeWhile repeats the node's template while its condition holds,
// bounded by MaxIterations. The condition is re-evaluated against the
// current loop scope before every iteration; after each iteration the
// outputs of the template's exit nodes are merged back into the loop
// scope. Hitting the iteration cap is a successful termination mode,
// distinguishable from condition-false in the node's output and events.
func (e *Executor) executeWhile(ctx context.Context, node *GraphNode, inputs map[string]Value, em *emitter) (map[string]Value, error) {
	loopScope := make(map[string]Value, len(inputs))
	for name, v := range inputs {
		loopScope[name] = v
	}

	iterations := 0
	reason := TerminationMaxIterations
	for iterations < node.MaxIterations {
		condScope := newScopePool(loopScope)
		proceed, err := condScope.EvaluateCondition(node.Condition)
		if err != nil {
			return nil, fmt.Errorf("while node %s condition: %w", node.ID, err)
		}
		if !proceed {
			reason = TerminationConditionFalse
			break
		}

		scope := newScopePool(loopScope)
		sub := e.templateExecutor(node.Template)
		if err := sub.run(ctx, scope, em); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", iterations, err)
		}
		// Copy-out, never alias: only exit-node outputs feed the next
		// iteration.
		for _, exit := range node.Template.exitNodes() {
			outs, ok := scope.Outputs(exit)
			if !ok {
				continue
			}
			for _, name := range sortedNames(outs) {
				loopScope[name] = outs[name]
			}
		}
		iterations++
	}
	log.Debugf("while node %s terminated after %d iterations (%s)", node.ID, iterations, reason)
	em.emit(ctx, &Event{
		Type:       EventLoopTerminated,
		NodeID:     node.ID,
		Reason:     reason,
		Iterations: iterations,
	})

	outputs := make(map[string]Value, len(loopScope)+1)
	for name, v := range loopScope {
		outputs[name] = v
	}
	outputs[WhileTerminationOutput] = InlineValue(reason)
	return outputs, nil
}
