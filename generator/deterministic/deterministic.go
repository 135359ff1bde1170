//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

// Package deterministic is a model-free generator that emits canned
// scripts. It exists so the pipeline can be exercised end to end, in tests
// and demos, without a completion backend.
package deterministic

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"trpc.group/trpc-go/trpc-scriptflow/generator"
	"trpc.group/trpc-go/trpc-scriptflow/task"
)

// Name is the registry name of this generator.
const Name = "deterministic"

// Behavior selects which canned script the generator emits.
type Behavior string

// Behaviors.
const (
	// Success emits a valid script assigning results = {"value": 42}.
	Success Behavior = "success"
	// BadSyntax emits a script that cannot parse.
	BadSyntax Behavior = "syntax_error"
	// RuntimeFailure emits a script that raises at runtime.
	RuntimeFailure Behavior = "runtime_error"
	// MissingResults emits a valid script that never assigns results.
	MissingResults Behavior = "missing_results"
	// ControlWrite emits a script that writes a process variable.
	ControlWrite Behavior = "control_write"
	// ControlRead emits a script that only reads process variables.
	ControlRead Behavior = "control_read"
	// SecurityRisk emits a script that writes a process variable outside
	// any plausible facility namespace, so a configured namespace guard
	// rejects it.
	SecurityRisk Behavior = "security_risk"
	// Fail makes GenerateCode return a GenerationError.
	Fail Behavior = "generation_failure"
)

var scripts = map[Behavior]string{
	Success: `results = {"value": 42}
`,
	BadSyntax: `def broken(:
    pass
`,
	RuntimeFailure: `results = {"value": 1 / 0}
`,
	MissingResults: `x = 1 + 1
`,
	ControlWrite: `import epics

epics.caput("SR01C:MAG:QF1:SETPT", 1.25)
results = {"written": True}
`,
	ControlRead: `import epics

value = epics.caget("SR01C:BPM2:X")
results = {"x": value}
`,
	SecurityRisk: `import epics

epics.caput("ZZ99:MAG:QF1:SETPT", 9.9)
results = {"written": True}
`,
}

// Factory builds the generator from a *Config block. A nil or absent
// block yields the Success behavior.
func Factory(cfg any) (generator.CodeGenerator, error) {
	c, ok := cfg.(*Config)
	if !ok || c == nil {
		return New(Success), nil
	}
	if len(c.Codes) > 0 {
		return NewCodes(c.Codes...), nil
	}
	if len(c.Sequence) > 0 {
		if err := validateBehaviors(c.Sequence); err != nil {
			return nil, err
		}
		return New(c.Sequence...), nil
	}
	if c.Behavior != "" {
		if err := validateBehaviors([]Behavior{c.Behavior}); err != nil {
			return nil, err
		}
		return New(c.Behavior), nil
	}
	return New(Success), nil
}

func validateBehaviors(seq []Behavior) error {
	for _, b := range seq {
		if b == Fail {
			continue
		}
		if _, ok := scripts[b]; !ok {
			return fmt.Errorf("unknown behavior %q", b)
		}
	}
	return nil
}

// Config is the registry configuration block for this generator. Codes
// wins over Sequence, which wins over Behavior.
type Config struct {
	Behavior Behavior
	Sequence []Behavior
	// Codes steps through raw script bodies instead of canned behaviors.
	Codes []string
}

// Generator emits canned scripts. With several behaviors configured it
// steps through them call by call and repeats the last one afterwards.
type Generator struct {
	mu          sync.Mutex
	sequence    []Behavior
	codes       []string
	calls       int
	lastRequest *task.Request
	lastPrior   []task.ErrorRecord
}

// New creates a deterministic Generator stepping through the given
// behaviors.
func New(sequence ...Behavior) *Generator {
	if len(sequence) == 0 {
		sequence = []Behavior{Success}
	}
	return &Generator{sequence: sequence}
}

// NewCodes creates a Generator that steps through the given raw script
// bodies, repeating the last one once exhausted.
func NewCodes(codes ...string) *Generator {
	if len(codes) == 0 {
		return New()
	}
	return &Generator{codes: codes}
}

// GenerateCode implements generator.CodeGenerator.
func (g *Generator) GenerateCode(_ context.Context, req *task.Request, prior []task.ErrorRecord) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx := g.calls
	g.calls++
	g.lastRequest = req
	g.lastPrior = append([]task.ErrorRecord(nil), prior...)

	if len(g.codes) > 0 {
		if idx >= len(g.codes) {
			idx = len(g.codes) - 1
		}
		return g.codes[idx], nil
	}

	if idx >= len(g.sequence) {
		idx = len(g.sequence) - 1
	}
	behavior := g.sequence[idx]
	if behavior == Fail {
		return "", &generator.GenerationError{
			Generator: Name,
			Attempts:  1,
			Err:       errors.New("configured to fail"),
		}
	}
	script, ok := scripts[behavior]
	if !ok {
		return "", fmt.Errorf("unknown behavior %q", behavior)
	}
	return script, nil
}

// Calls reports how many times GenerateCode ran.
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// LastRequest returns the request of the most recent call.
func (g *Generator) LastRequest() *task.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastRequest
}

// LastPrior returns the error window passed to the most recent call.
func (g *Generator) LastPrior() []task.ErrorRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]task.ErrorRecord(nil), g.lastPrior...)
}
