//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

// Package sandbox provides the executor contract for running policed
// scripts in isolated workspaces, plus the shared plumbing both backends
// use: the results harness, run evaluation and code block extraction.
package sandbox

import (
	"context"
	"regexp"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-scriptflow/policy"
	"trpc.group/trpc-go/trpc-scriptflow/task"
)

// RunSpec describes one sandbox run.
type RunSpec struct {
	// ExecutionFolder identifies the isolated workspace of the request.
	ExecutionFolder string
	// Attempt is the 1-based attempt index. Each attempt gets a fresh
	// workspace directory; state never leaks between attempts.
	Attempt int
	// Code is the script to run, results harness not yet applied.
	Code string
	// Mode is the capability class the environment must enforce.
	Mode policy.ExecutionMode
	// Timeout is the wall-clock budget. Zero selects the executor default.
	Timeout time.Duration
}

// Executor runs approved or auto-cleared code. The returned error is
// reserved for infrastructure faults (workspace creation, missing
// interpreter, runtime unavailable); failures of the code itself are
// reported through Outcome.Error so the orchestrator can classify and
// retry them.
type Executor interface {
	Run(ctx context.Context, spec RunSpec) (task.Outcome, error)
}

// Span names and attribute keys for sandbox tracing.
const (
	SpanWorkspaceCreate  = "workspace.create"
	SpanWorkspaceCleanup = "workspace.cleanup"
	SpanWorkspaceCollect = "workspace.collect"
	SpanRun              = "sandbox.run"

	AttrExecID   = "exec_id"
	AttrAttempt  = "attempt"
	AttrPath     = "path"
	AttrMode     = "mode"
	AttrExitCode = "exit_code"
	AttrTimedOut = "timed_out"
	AttrCount    = "count"
)

// CodeBlock represents a single block of code extracted from model output.
type CodeBlock struct {
	Code     string
	Language string
}

// CodeBlockDelimiter defines the start and end delimiters for code blocks.
type CodeBlockDelimiter struct {
	Start string
	End   string
}

// DefaultDelimiter is the markdown fence delimiter models emit by default.
var DefaultDelimiter = CodeBlockDelimiter{Start: "```", End: "```"}

// ExtractCodeBlock extracts code blocks from the input string using regex.
// It returns a slice of CodeBlock containing the extracted code and
// language, e.g. "```python\nprint('hi')\n```" yields one block with
// language "python".
func ExtractCodeBlock(input string, delimiter CodeBlockDelimiter) []CodeBlock {
	var blocks []CodeBlock

	startDelim := regexp.QuoteMeta(delimiter.Start)
	endDelim := regexp.QuoteMeta(delimiter.End)

	pattern := regexp.MustCompile(`(?s)` + startDelim + `([^\n]*)\n(.*?)` + endDelim)
	matches := pattern.FindAllStringSubmatch(input, -1)

	for _, match := range matches {
		if len(match) >= 3 {
			language := strings.TrimSpace(match[1])
			code := match[2]
			blocks = append(blocks, CodeBlock{
				Code:     code,
				Language: language,
			})
		}
	}

	return blocks
}

// StripFences returns the script body of the model output: the first
// python (or unlabeled) fenced block when present, otherwise the trimmed
// input itself.
func StripFences(output string) string {
	blocks := ExtractCodeBlock(output, DefaultDelimiter)
	for _, b := range blocks {
		switch strings.ToLower(b.Language) {
		case "python", "py", "python3", "":
			return strings.TrimSpace(b.Code)
		}
	}
	return strings.TrimSpace(output)
}
