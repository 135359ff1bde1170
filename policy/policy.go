//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

// Package policy decides how analyzed code may be executed and whether a
// human must approve it first. Decisions are a deterministic function of
// the analysis result and the engine configuration.
package policy

import (
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-scriptflow/analyzer"
)

// ExecutionMode is the sandbox capability class granted to one attempt.
type ExecutionMode string

// Execution modes in increasing order of capability.
const (
	// ModeReadOnly grants no write, network or hardware-write capability.
	ModeReadOnly ExecutionMode = "read_only"
	// ModeWriteEnabled grants file/network/database side effects inside
	// the sandbox.
	ModeWriteEnabled ExecutionMode = "write_enabled"
	// ModeControlWrite grants hardware-write bindings. Always gated on
	// human approval.
	ModeControlWrite ExecutionMode = "control_write"
)

// Decision is the policy verdict for one attempt. Immutable once produced.
type Decision struct {
	// Mode is the execution mode the sandbox must enforce.
	Mode ExecutionMode
	// RequiresApproval is true when a human must approve before the code
	// may run.
	RequiresApproval bool
	// Reasoning is free text retained for audit.
	Reasoning string
}

// SecurityRejectionError is returned when a domain analyzer hard-blocks
// the code independent of any approval flow. It is terminal: the rejection
// is a judgment on the action, not a defect the generator can fix blindly.
type SecurityRejectionError struct {
	// Analyzer names the domain analyzer that blocked.
	Analyzer string
	// Reason explains the block.
	Reason string
}

// Error implements the error interface.
func (e *SecurityRejectionError) Error() string {
	return fmt.Sprintf("security rejection by %s: %s", e.Analyzer, e.Reason)
}

// DomainFinding is the verdict of one facility-specific analyzer.
// Domain analyzers may only tighten the outcome: force approval or block.
// They can never clear the approval floor of step 1 of the decision table.
type DomainFinding struct {
	// ForceApproval requires human approval regardless of the table
	// outcome.
	ForceApproval bool
	// Block rejects the code outright (SecurityRejection).
	Block bool
	// Reason explains the finding for audit.
	Reason string
}

// DomainAnalyzer adds facility-specific review on top of the generic
// pattern detectors, e.g. PV address boundary checks.
type DomainAnalyzer interface {
	// Name identifies the analyzer for audit and error reporting.
	Name() string
	// Review inspects the code and its analysis result.
	Review(code string, res analyzer.Result) DomainFinding
}

// Engine evaluates the decision table.
type Engine struct {
	writeRequiresApproval bool
	domain                []DomainAnalyzer
}

// Option configures an Engine.
type Option func(*Engine)

// WithWriteApproval sets whether WRITE_ENABLED mode requires approval.
// The CONTROL_WRITE approval floor is not configurable.
func WithWriteApproval(required bool) Option {
	return func(e *Engine) {
		e.writeRequiresApproval = required
	}
}

// WithDomainAnalyzer registers a facility-specific analyzer. Analyzers are
// consulted in registration order.
func WithDomainAnalyzer(d DomainAnalyzer) Option {
	return func(e *Engine) {
		e.domain = append(e.domain, d)
	}
}

// NewEngine creates an Engine. By default WRITE_ENABLED mode requires
// approval.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{writeRequiresApproval: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide evaluates the decision table over the analysis result. Domain
// analyzers run first and may force approval or hard-block; the table then
// assigns the execution mode by precedence:
//
//  1. CONTROL_WRITE present: mode CONTROL_WRITE, approval mandatory.
//  2. FILE_IO/DATABASE/SUBPROCESS/NETWORK present: mode WRITE_ENABLED,
//     approval per configuration (default required).
//  3. CONTROL_READ only: mode READ_ONLY, no approval.
//  4. Nothing flagged: mode READ_ONLY, no approval.
//
// A *SecurityRejectionError is returned when a domain analyzer blocks.
func (e *Engine) Decide(code string, res analyzer.Result) (Decision, error) {
	var forced []string
	for _, d := range e.domain {
		finding := d.Review(code, res)
		if finding.Block {
			return Decision{}, &SecurityRejectionError{
				Analyzer: d.Name(),
				Reason:   finding.Reason,
			}
		}
		if finding.ForceApproval {
			forced = append(forced, fmt.Sprintf("%s: %s", d.Name(), finding.Reason))
		}
	}

	dec := e.tableDecision(res)
	if len(forced) > 0 && !dec.RequiresApproval {
		dec.RequiresApproval = true
		dec.Reasoning += "; approval forced by " + strings.Join(forced, "; ")
	}
	return dec, nil
}

func (e *Engine) tableDecision(res analyzer.Result) Decision {
	switch {
	case res.Has(analyzer.PatternControlWrite):
		// Non-overridable safety floor.
		return Decision{
			Mode:             ModeControlWrite,
			RequiresApproval: true,
			Reasoning: "control-system write detected (" +
				locations(res, analyzer.PatternControlWrite) + "); approval is mandatory",
		}
	case res.Has(analyzer.PatternFileIO) || res.Has(analyzer.PatternDatabase) ||
		res.Has(analyzer.PatternSubprocess) || res.Has(analyzer.PatternNetwork):
		return Decision{
			Mode:             ModeWriteEnabled,
			RequiresApproval: e.writeRequiresApproval,
			Reasoning: "side-effecting patterns detected: " +
				writeTagSummary(res),
		}
	case res.Has(analyzer.PatternControlRead):
		return Decision{
			Mode:             ModeReadOnly,
			RequiresApproval: false,
			Reasoning:        "control-system reads only",
		}
	default:
		return Decision{
			Mode:             ModeReadOnly,
			RequiresApproval: false,
			Reasoning:        "no flagged patterns",
		}
	}
}

func writeTagSummary(res analyzer.Result) string {
	var parts []string
	for _, tag := range []analyzer.PatternTag{
		analyzer.PatternFileIO, analyzer.PatternDatabase,
		analyzer.PatternSubprocess, analyzer.PatternNetwork,
	} {
		if res.Has(tag) {
			parts = append(parts, string(tag)+" at "+locations(res, tag))
		}
	}
	return strings.Join(parts, ", ")
}

func locations(res analyzer.Result, tag analyzer.PatternTag) string {
	locs := res.Patterns[tag]
	parts := make([]string, 0, len(locs))
	for _, pos := range locs {
		parts = append(parts, pos.String())
	}
	return strings.Join(parts, ", ")
}
