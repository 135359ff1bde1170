//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

// Package local runs scripts as plain host processes. It offers no
// containment beyond the workspace directory and the mode guard harness,
// so it is meant for development and trusted facility hosts, not for
// untrusted multi-tenant use.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-scriptflow/log"
	"trpc.group/trpc-go/trpc-scriptflow/sandbox"
	"trpc.group/trpc-go/trpc-scriptflow/task"
	atrace "trpc.group/trpc-go/trpc-scriptflow/telemetry/trace"
)

// DefaultTimeout bounds a run when the RunSpec carries no budget.
const DefaultTimeout = 60 * time.Second

// Executor runs scripts with a host Python interpreter.
type Executor struct {
	root          string
	python        string
	timeout       time.Duration
	keepFailed    bool
	artifactGlobs []string
}

// Option configures the Executor.
type Option func(*Executor)

// WithRoot sets the directory workspaces are created under.
func WithRoot(root string) Option {
	return func(e *Executor) { e.root = root }
}

// WithPython sets the interpreter binary. Default "python3".
func WithPython(python string) Option {
	return func(e *Executor) { e.python = python }
}

// WithTimeout sets the default wall-clock budget per run.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithKeepFailed keeps the workspace of failed runs on disk for
// post-mortem inspection. Successful runs are always cleaned up.
func WithKeepFailed(keep bool) Option {
	return func(e *Executor) { e.keepFailed = keep }
}

// WithArtifactGlobs overrides the patterns used to collect artifacts.
func WithArtifactGlobs(globs ...string) Option {
	return func(e *Executor) { e.artifactGlobs = globs }
}

// New creates a local Executor. The workspace root defaults to a
// directory under the system temp dir.
func New(opts ...Option) *Executor {
	e := &Executor{
		root:    filepath.Join(os.TempDir(), "scriptflow"),
		python:  "python3",
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run implements sandbox.Executor. The returned error covers
// infrastructure faults only; script failures come back in Outcome.Error.
func (e *Executor) Run(ctx context.Context, spec sandbox.RunSpec) (task.Outcome, error) {
	ctx, span := atrace.Tracer.Start(ctx, sandbox.SpanRun)
	defer span.End()
	span.SetAttributes(
		attribute.String(sandbox.AttrExecID, spec.ExecutionFolder),
		attribute.Int(sandbox.AttrAttempt, spec.Attempt),
		attribute.String(sandbox.AttrMode, string(spec.Mode)),
	)

	if _, err := exec.LookPath(e.python); err != nil {
		return task.Outcome{}, fmt.Errorf("python interpreter %q not found: %w", e.python, err)
	}

	ws, err := sandbox.CreateWorkspace(ctx, e.root, spec.ExecutionFolder, spec.Attempt)
	if err != nil {
		return task.Outcome{}, err
	}

	script := sandbox.BuildScript(spec.Code, spec.Mode)
	scriptPath, err := ws.WriteScript(script)
	if err != nil {
		e.discard(ctx, ws)
		return task.Outcome{}, err
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(tctx, e.python, scriptPath)
	cmd.Dir = ws.Path
	cmd.Env = append(os.Environ(),
		sandbox.EnvMode+"="+string(spec.Mode),
		sandbox.EnvWorkspaceDir+"="+ws.Path,
		sandbox.EnvOutputDir+"="+filepath.Join(ws.Path, sandbox.DirOut),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	info := sandbox.RunInfo{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		TimedOut: errors.Is(tctx.Err(), context.DeadlineExceeded),
		Budget:   timeout,
	}
	if runErr != nil && !info.TimedOut {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			info.ExitCode = exitErr.ExitCode()
		} else {
			e.discard(ctx, ws)
			return task.Outcome{}, fmt.Errorf("start interpreter: %w", runErr)
		}
	}
	span.SetAttributes(
		attribute.Int(sandbox.AttrExitCode, info.ExitCode),
		attribute.Bool(sandbox.AttrTimedOut, info.TimedOut),
	)

	outcome := sandbox.EvaluateRun(ctx, ws, info)
	switch {
	case outcome.Success && len(outcome.Artifacts) > 0:
		// Artifact paths point into the workspace; leave it on disk.
		log.Debugf("keeping workspace %s: %d artifacts", ws.Path, len(outcome.Artifacts))
	case !outcome.Success && e.keepFailed:
		log.Infof("keeping failed workspace %s for inspection", ws.Path)
	default:
		e.discard(ctx, ws)
	}
	return outcome, nil
}

func (e *Executor) discard(ctx context.Context, ws sandbox.Workspace) {
	if err := ws.Cleanup(ctx); err != nil {
		log.Warnf("workspace cleanup: %v", err)
	}
}
