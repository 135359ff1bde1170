//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

// Package container runs scripts inside throwaway Docker containers. The
// workspace is bind-mounted so the results contract and artifact
// collection work exactly as with the local backend, while the container
// supplies the actual isolation: no host filesystem beyond the mount, a
// memory/CPU ceiling, and no network at all in read-only mode.
package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-scriptflow/log"
	"trpc.group/trpc-go/trpc-scriptflow/policy"
	"trpc.group/trpc-go/trpc-scriptflow/sandbox"
	"trpc.group/trpc-go/trpc-scriptflow/task"
	atrace "trpc.group/trpc-go/trpc-scriptflow/telemetry/trace"
)

// Defaults for container resource limits.
const (
	DefaultImage   = "python:3-slim"
	DefaultMemory  = "256m"
	DefaultCPUs    = "1.0"
	DefaultTimeout = 60 * time.Second

	workdir = "/workspace"
)

// Executor runs scripts in one-shot Docker containers via the docker CLI.
type Executor struct {
	root    string
	image   string
	memory  string
	cpus    string
	timeout time.Duration
	network string
}

// Option configures the Executor.
type Option func(*Executor)

// WithRoot sets the host directory workspaces are created under.
func WithRoot(root string) Option {
	return func(e *Executor) { e.root = root }
}

// WithImage sets the container image. Default python:3-slim.
func WithImage(image string) Option {
	return func(e *Executor) { e.image = image }
}

// WithMemoryLimit sets the container memory ceiling, docker syntax
// ("256m", "1g").
func WithMemoryLimit(limit string) Option {
	return func(e *Executor) { e.memory = limit }
}

// WithCPULimit sets the container CPU share ("1.0", "0.5").
func WithCPULimit(cpus string) Option {
	return func(e *Executor) { e.cpus = cpus }
}

// WithTimeout sets the default wall-clock budget per run.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithNetwork sets the docker network for modes that get one. Read-only
// runs always use --network none regardless of this setting.
func WithNetwork(network string) Option {
	return func(e *Executor) { e.network = network }
}

// New creates a container Executor. It fails when the docker CLI is not
// available, so misconfiguration surfaces at wiring time rather than on
// the first attempt.
func New(opts ...Option) (*Executor, error) {
	e := &Executor{
		root:    "workspaces",
		image:   DefaultImage,
		memory:  DefaultMemory,
		cpus:    DefaultCPUs,
		timeout: DefaultTimeout,
		network: "bridge",
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := dockerAvailable(); err != nil {
		return nil, err
	}
	return e, nil
}

func dockerAvailable() error {
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("docker CLI not found: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if out, err := exec.CommandContext(ctx, "docker", "info").CombinedOutput(); err != nil {
		return fmt.Errorf("docker daemon not reachable: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// Run implements sandbox.Executor.
func (e *Executor) Run(ctx context.Context, spec sandbox.RunSpec) (task.Outcome, error) {
	ctx, span := atrace.Tracer.Start(ctx, sandbox.SpanRun)
	defer span.End()
	span.SetAttributes(
		attribute.String(sandbox.AttrExecID, spec.ExecutionFolder),
		attribute.Int(sandbox.AttrAttempt, spec.Attempt),
		attribute.String(sandbox.AttrMode, string(spec.Mode)),
	)

	ws, err := sandbox.CreateWorkspace(ctx, e.root, spec.ExecutionFolder, spec.Attempt)
	if err != nil {
		return task.Outcome{}, err
	}

	script := sandbox.BuildScript(spec.Code, spec.Mode)
	if _, err := ws.WriteScript(script); err != nil {
		e.discard(ctx, ws)
		return task.Outcome{}, err
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name := "scriptflow-" + uuid.NewString()
	args := []string{
		"run", "--rm",
		"--name", name,
		"-v", ws.Path + ":" + workdir,
		"-w", workdir,
		"--memory", e.memory,
		"--cpus", e.cpus,
		"--network", e.networkFor(spec.Mode),
		"-e", sandbox.EnvMode + "=" + string(spec.Mode),
		"-e", sandbox.EnvWorkspaceDir + "=" + workdir,
		"-e", sandbox.EnvOutputDir + "=" + workdir + "/" + sandbox.DirOut,
		e.image,
		"python3", sandbox.ScriptFileName,
	}
	cmd := exec.CommandContext(tctx, "docker", args...)
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
	if info.TimedOut {
		// CommandContext kills the docker client; the container itself
		// must be stopped separately or it keeps running detached.
		e.kill(name)
	}
	if runErr != nil && !info.TimedOut {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			info.ExitCode = exitErr.ExitCode()
		} else {
			e.discard(ctx, ws)
			return task.Outcome{}, fmt.Errorf("run container: %w", runErr)
		}
	}
	span.SetAttributes(
		attribute.Int(sandbox.AttrExitCode, info.ExitCode),
		attribute.Bool(sandbox.AttrTimedOut, info.TimedOut),
	)

	outcome := sandbox.EvaluateRun(ctx, ws, info)
	if outcome.Success && len(outcome.Artifacts) > 0 {
		log.Debugf("keeping workspace %s: %d artifacts", ws.Path, len(outcome.Artifacts))
	} else {
		e.discard(ctx, ws)
	}
	return outcome, nil
}

// networkFor maps an execution mode to a docker network. Read-only runs
// are fully offline; write-enabled and control-write runs use the
// configured network so they can reach databases and the control system.
func (e *Executor) networkFor(mode policy.ExecutionMode) string {
	if mode == policy.ModeReadOnly {
		return "none"
	}
	return e.network
}

func (e *Executor) kill(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if out, err := exec.CommandContext(ctx, "docker", "kill", name).CombinedOutput(); err != nil {
		log.Warnf("kill container %s: %v (%s)", name, err, strings.TrimSpace(string(out)))
	}
}

func (e *Executor) discard(ctx context.Context, ws sandbox.Workspace) {
	if err := ws.Cleanup(ctx); err != nil {
		log.Warnf("workspace cleanup: %v", err)
	}
}
