//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

// Package generator defines the code generation boundary of the pipeline
// and a registry the configuration layer resolves generator names through.
package generator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"trpc.group/trpc-go/trpc-scriptflow/task"
)

// CodeGenerator produces a runnable Python script for a task request.
// prior carries the bounded window of earlier failed attempts, oldest
// first; it is empty on the first attempt. Implementations must treat the
// request and the window as read-only.
type CodeGenerator interface {
	GenerateCode(ctx context.Context, req *task.Request, prior []task.ErrorRecord) (string, error)
}

// GenerationError reports that the generator infrastructure itself failed
// (backend unreachable, malformed response) after its internal retries
// were exhausted. It is terminal for the request: the failure is not
// attributable to any generated code, so there is nothing to feed back.
type GenerationError struct {
	// Generator names the failing generator.
	Generator string
	// Attempts is how many internal tries were made.
	Attempts int
	// Err is the last underlying failure.
	Err error
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("generator %s failed after %d attempts: %v", e.Generator, e.Attempts, e.Err)
}

// Unwrap returns the underlying failure.
func (e *GenerationError) Unwrap() error { return e.Err }

// Factory builds a generator from its raw configuration block. The block
// type is generator-specific; factories document what they accept.
type Factory func(cfg any) (CodeGenerator, error)

// Registry resolves generator names to factories. It is an explicit value
// the wiring layer constructs and populates; there is no ambient
// package-level registration. Construct with NewRegistry.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]Factory)}
}

// Register makes a generator constructible by name. Registering a
// duplicate name panics, as it is always a wiring bug.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.m[name]; dup {
		panic("generator: duplicate registration of " + name)
	}
	r.m[name] = factory
}

// New builds the named generator. Unknown names are an error the caller
// should surface as a configuration problem, not fall back from.
func (r *Registry) New(name string, cfg any) (CodeGenerator, error) {
	r.mu.RLock()
	factory, ok := r.m[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown generator %q (registered: %v)", name, r.Names())
	}
	return factory(cfg)
}

// Names lists the registered generator names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.m))
	for name := range r.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
