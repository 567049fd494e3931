//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package capability maps capability type names to factories so graph
// definitions can reference node behavior by name. The registry is an
// explicit object passed to the loader, never ambient global state, which
// keeps the engine testable with a mock registry.
package capability

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"trpc.group/trpc-go/trpc-flow-go/flow"
)

// Errors.
var (
	// ErrUnknownCapability reports a type name with no registered factory.
	ErrUnknownCapability = errors.New("unknown capability")
	// ErrAlreadyRegistered reports a duplicate registration.
	ErrAlreadyRegistered = errors.New("capability already registered")
)

// Factory builds a capability from a node's opaque parameters.
type Factory func(params map[string]any) (flow.Capability, error)

// Registry maps capability type names to factories. Safe for concurrent
// use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDefaultRegistry creates a registry with the builtin capabilities
// registered.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	// Builtins never collide in a fresh registry.
	_ = r.Register("template", NewTemplateCapability)
	_ = r.Register("http", NewHTTPCapability)
	return r
}

// Register adds a factory under a type name.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.factories[name] = factory
	return nil
}

// Create builds a capability by type name.
func (r *Registry) Create(name string, params map[string]any) (flow.Capability, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, name)
	}
	return factory(params)
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
