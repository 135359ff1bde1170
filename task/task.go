//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

// Package task defines the value types that flow through the script
// pipeline: the execution request, the per-attempt error records and the
// final execution outcome. All types are treated as immutable once created;
// the chain is append-only.
package task

import (
	"fmt"
	"strings"
	"time"
)

// Request describes one unit of pipeline work. It is created by the caller
// before the pipeline starts and never mutated inside it.
type Request struct {
	// UserQuery is the raw natural-language request from the operator.
	UserQuery string
	// TaskObjective is the planner's distilled objective for this run.
	TaskObjective string
	// ExecutionFolder identifies the isolated workspace for this request.
	// Every sandbox attempt for the request lives under it.
	ExecutionFolder string
	// CapabilityPrompts carries ordered domain guidance. Order is
	// significant: later entries may override the framing of earlier ones.
	CapabilityPrompts []string
	// ExpectedResults optionally sketches the structure of the results
	// mapping the generated code should populate.
	ExpectedResults map[string]any
	// CapabilityContext optionally carries structured context data the
	// generator may embed into its prompt.
	CapabilityContext map[string]any
}

// ErrorKind classifies a failed attempt or a failed run.
type ErrorKind string

// Error kinds recorded on the chain and reported on outcomes.
const (
	// ErrorKindSyntax marks code the analyzer could not parse.
	ErrorKindSyntax ErrorKind = "syntax_error"
	// ErrorKindRuntime marks an exception raised during the sandboxed run.
	ErrorKindRuntime ErrorKind = "runtime_error"
	// ErrorKindTimeout marks a run that exceeded its wall-clock budget.
	ErrorKindTimeout ErrorKind = "timeout_error"
	// ErrorKindValidation marks a run that finished without populating the
	// required results mapping.
	ErrorKindValidation ErrorKind = "validation_error"
	// ErrorKindSecurity marks code hard-blocked by a domain analyzer.
	ErrorKindSecurity ErrorKind = "security_rejection"
)

// Retryable reports whether an error of this kind feeds the retry loop.
// Security rejections are terminal; everything else is a code-quality
// defect the generator may fix on the next attempt.
func (k ErrorKind) Retryable() bool {
	return k != ErrorKindSecurity
}

// ErrorRecord captures one failed attempt. Records are appended to the
// chain by the orchestrator and never removed.
type ErrorRecord struct {
	// Attempt is the 1-based attempt index that produced this record.
	Attempt int
	// Code is the snippet that failed.
	Code string
	// Kind classifies the failure.
	Kind ErrorKind
	// Message is the short failure description.
	Message string
	// Traceback optionally carries the full interpreter traceback.
	Traceback string
	// AnalysisNote optionally carries a human-readable diagnosis.
	AnalysisNote string
}

// String renders a one-line summary suitable for logs and final reports.
func (r ErrorRecord) String() string {
	return fmt.Sprintf("attempt %d: %s: %s", r.Attempt, r.Kind, r.Message)
}

// Chain is the append-only sequence of error records for one request.
// The zero value is ready to use.
type Chain []ErrorRecord

// Append returns a new chain with rec added. The receiver is not mutated,
// so earlier views of the chain stay valid.
func (c Chain) Append(rec ErrorRecord) Chain {
	out := make(Chain, len(c), len(c)+1)
	copy(out, c)
	return append(out, rec)
}

// Window returns the most recent n records in chronological order. The
// full chain is retained for reporting; generators see only this bounded
// view to keep prompts small.
func (c Chain) Window(n int) []ErrorRecord {
	if n <= 0 || len(c) == 0 {
		return nil
	}
	if n > len(c) {
		n = len(c)
	}
	out := make([]ErrorRecord, n)
	copy(out, c[len(c)-n:])
	return out
}

// Summary renders the whole chain, one record per line.
func (c Chain) Summary() string {
	if len(c) == 0 {
		return "no failed attempts"
	}
	lines := make([]string, 0, len(c))
	for _, r := range c {
		lines = append(lines, r.String())
	}
	return strings.Join(lines, "\n")
}

// ExecError describes the failure of a single sandbox run, using the same
// taxonomy as ErrorRecord.
type ExecError struct {
	Kind      ErrorKind
	Message   string
	Traceback string
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Artifact is a file the executed script produced under the workspace
// output directory. The pipeline does not interpret artifact contents.
type Artifact struct {
	// Name is the path relative to the workspace output directory.
	Name string
	// Path is the host path the artifact was collected from.
	Path string
	// MIMEType is the sniffed content type.
	MIMEType string
}

// Outcome is the result of one sandbox run.
type Outcome struct {
	// Success is true when the run finished and honored the results
	// contract.
	Success bool
	// Results is the mapping the executed code assigned to its results
	// variable. Keys and values are JSON-serializable by contract.
	Results map[string]any
	// Stdout is the captured standard output of the run.
	Stdout string
	// Error describes the failure when Success is false.
	Error *ExecError
	// Artifacts lists files collected from the workspace output directory.
	Artifacts []Artifact
	// Duration is the wall-clock time of the run.
	Duration time.Duration
}
