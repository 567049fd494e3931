//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package config loads workflow graph definitions from YAML. A definition
// names capabilities by type; the loader binds them through an explicit
// capability registry and validates the resulting graph.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"trpc.group/trpc-go/trpc-flow-go/capability"
	"trpc.group/trpc-go/trpc-flow-go/flow"
)

// Workflow is the top-level YAML document.
type Workflow struct {
	Name  string           `yaml:"name"`
	Nodes []NodeDefinition `yaml:"nodes"`
}

// NodeDefinition is one node entry in a workflow definition.
type NodeDefinition struct {
	ID           string            `yaml:"id"`
	Type         string            `yaml:"type"`
	Capability   string            `yaml:"capability"`
	Dependencies []string          `yaml:"dependencies"`
	RunIf        string            `yaml:"run_if"`
	Inputs       map[string]string `yaml:"inputs"`
	Initial      map[string]any    `yaml:"initial"`
	Params       map[string]any    `yaml:"params"`
	Resource     string            `yaml:"resource"`

	// Map/While fields.
	Parallel      bool             `yaml:"parallel"`
	Condition     string           `yaml:"condition"`
	MaxIterations int              `yaml:"max_iterations"`
	Template      []NodeDefinition `yaml:"template"`
}

// LoadFile reads a workflow definition from disk and builds its graph.
func LoadFile(path string, registry *capability.Registry) (*flow.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return Load(data, registry)
}

// Load parses a workflow definition and builds a validated graph.
func Load(data []byte, registry *capability.Registry) (*flow.Graph, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}
	g, err := buildGraph(wf.Nodes, registry)
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func buildGraph(defs []NodeDefinition, registry *capability.Registry) (*flow.Graph, error) {
	g := flow.NewGraph()
	for i := range defs {
		node, err := buildNode(&defs[i], registry)
		if err != nil {
			return nil, err
		}
		g.AddNode(node)
	}
	return g, nil
}

func buildNode(def *NodeDefinition, registry *capability.Registry) (*flow.GraphNode, error) {
	node := &flow.GraphNode{
		ID:            def.ID,
		Dependencies:  def.Dependencies,
		RunIf:         def.RunIf,
		Params:        def.Params,
		Resource:      def.Resource,
		Parallel:      def.Parallel,
		Condition:     def.Condition,
		MaxIterations: def.MaxIterations,
	}
	switch def.Type {
	case "", string(flow.NodeTypeStandard):
		node.Type = flow.NodeTypeStandard
		if registry == nil {
			return nil, fmt.Errorf("node %s: no capability registry supplied", def.ID)
		}
		c, err := registry.Create(def.Capability, def.Params)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", def.ID, err)
		}
		node.Capability = c
	case string(flow.NodeTypeMap):
		node.Type = flow.NodeTypeMap
	case string(flow.NodeTypeWhile):
		node.Type = flow.NodeTypeWhile
	default:
		return nil, fmt.Errorf("node %s: unknown type %q", def.ID, def.Type)
	}
	if len(def.Template) > 0 {
		template, err := buildGraph(def.Template, registry)
		if err != nil {
			return nil, fmt.Errorf("template of node %s: %w", def.ID, err)
		}
		node.Template = template
	}
	if len(def.Inputs) > 0 {
		node.Inputs = make(map[string]flow.OutputRef, len(def.Inputs))
		for name, path := range def.Inputs {
			ref, err := parseOutputRef(path)
			if err != nil {
				return nil, fmt.Errorf("node %s input %s: %w", def.ID, name, err)
			}
			node.Inputs[name] = ref
		}
	}
	if len(def.Initial) > 0 {
		node.InitialInputs = make(map[string]flow.Value, len(def.Initial))
		for name, raw := range def.Initial {
			node.InitialInputs[name] = flow.InlineValue(raw)
		}
	}
	return node, nil
}

// parseOutputRef parses `nodes.<id>.outputs.<name>` and the shorthand
// `<scope var>` (resolved through the reserved scope namespace).
func parseOutputRef(path string) (flow.OutputRef, error) {
	trimmed := strings.TrimSpace(path)
	parts := strings.Split(trimmed, ".")
	switch {
	case len(parts) == 4 && parts[0] == "nodes" && parts[2] == "outputs":
		return flow.OutputRef{Node: parts[1], Output: parts[3]}, nil
	case len(parts) == 1 && parts[0] != "":
		return flow.OutputRef{Node: flow.ScopeNode, Output: parts[0]}, nil
	default:
		return flow.OutputRef{}, fmt.Errorf("invalid output reference %q", path)
	}
}
