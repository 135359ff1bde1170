//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

package config

import (
	"os"

	"trpc.group/trpc-go/trpc-scriptflow/analyzer"
	"trpc.group/trpc-go/trpc-scriptflow/approval"
	"trpc.group/trpc-go/trpc-scriptflow/audit"
	"trpc.group/trpc-go/trpc-scriptflow/generator"
	"trpc.group/trpc-go/trpc-scriptflow/generator/agentic"
	"trpc.group/trpc-go/trpc-scriptflow/generator/deterministic"
	"trpc.group/trpc-go/trpc-scriptflow/generator/singlepass"
	"trpc.group/trpc-go/trpc-scriptflow/model"
	"trpc.group/trpc-go/trpc-scriptflow/model/openai"
	"trpc.group/trpc-go/trpc-scriptflow/pipeline"
	"trpc.group/trpc-go/trpc-scriptflow/policy"
	"trpc.group/trpc-go/trpc-scriptflow/sandbox"
	"trpc.group/trpc-go/trpc-scriptflow/sandbox/container"
	"trpc.group/trpc-go/trpc-scriptflow/sandbox/local"
)

// Build assembles a ready-to-run Orchestrator from the configuration. The
// approver is passed in by the caller because the approval surface (chat,
// console, control-room panel) lives outside this module.
func Build(cfg Config, approver approval.Approver) (*pipeline.Orchestrator, func(), error) {
	gen, err := buildGenerator(cfg)
	if err != nil {
		return nil, nil, err
	}
	executor, err := buildExecutor(cfg.Sandbox)
	if err != nil {
		return nil, nil, err
	}

	var engineOpts []policy.Option
	if cfg.Policy.WriteRequiresApproval != nil {
		engineOpts = append(engineOpts, policy.WithWriteApproval(*cfg.Policy.WriteRequiresApproval))
	}
	if len(cfg.Policy.AllowedPVPrefixes) > 0 {
		engineOpts = append(engineOpts,
			policy.WithDomainAnalyzer(policy.NewPVGuard(cfg.Policy.AllowedPVPrefixes...)))
	}

	recorder := audit.Recorder(audit.Nop{})
	cleanup := func() {}
	if cfg.Audit.Path != "" {
		store, err := audit.OpenSQLite(cfg.Audit.Path)
		if err != nil {
			return nil, nil, err
		}
		recorder = store
		cleanup = func() { store.Close() }
	}

	orch := pipeline.New(gen, analyzer.New(), policy.NewEngine(engineOpts...), executor,
		pipeline.WithMaxAttempts(cfg.MaxAttempts),
		pipeline.WithErrorWindow(cfg.ErrorWindow),
		pipeline.WithApprover(approver),
		pipeline.WithRecorder(recorder),
		pipeline.WithApprovalTimeoutApproves(cfg.Policy.TimeoutApproves),
	)
	return orch, cleanup, nil
}

func buildGenerator(cfg Config) (generator.CodeGenerator, error) {
	name := cfg.Generator.Name
	if name == "" {
		name = singlepass.Name
	}

	var block any
	switch name {
	case singlepass.Name:
		m, err := buildModel(cfg.Model)
		if err != nil {
			return nil, err
		}
		block = &singlepass.Config{Model: m, InfraRetries: cfg.Generator.InfraRetries}
	case agentic.Name:
		m, err := buildModel(cfg.Model)
		if err != nil {
			return nil, err
		}
		block = &agentic.Config{
			Model:    m,
			Profile:  agentic.Profile(cfg.Generator.Profile),
			MaxTurns: cfg.Generator.MaxTurns,
		}
	case deterministic.Name:
		dc := &deterministic.Config{
			Behavior: deterministic.Behavior(cfg.Generator.Behavior),
			Codes:    cfg.Generator.Codes,
		}
		for _, b := range cfg.Generator.Sequence {
			dc.Sequence = append(dc.Sequence, deterministic.Behavior(b))
		}
		block = dc
	}

	gen, err := newRegistry().New(name, block)
	if err != nil {
		return nil, &ConfigurationError{Field: "generator.name", Reason: err.Error()}
	}
	return gen, nil
}

// newRegistry constructs the registry of generators this module ships.
// Embedding applications that need more variants assemble their own
// pipeline instead of going through Build.
func newRegistry() *generator.Registry {
	reg := generator.NewRegistry()
	reg.Register(singlepass.Name, singlepass.Factory)
	reg.Register(agentic.Name, agentic.Factory)
	reg.Register(deterministic.Name, deterministic.Factory)
	return reg
}

func buildModel(cfg ModelConfig) (model.Model, error) {
	if cfg.Name == "" {
		return nil, &ConfigurationError{Field: "model.name", Reason: "required for model-backed generators"}
	}
	var opts []openai.Option
	if cfg.APIKeyEnv != "" {
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, &ConfigurationError{Field: "model.api_key_env", Reason: cfg.APIKeyEnv + " is not set"}
		}
		opts = append(opts, openai.WithAPIKey(key))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	return openai.New(cfg.Name, opts...), nil
}

func buildExecutor(cfg SandboxConfig) (sandbox.Executor, error) {
	switch cfg.Backend {
	case BackendContainer:
		var opts []container.Option
		if cfg.Root != "" {
			opts = append(opts, container.WithRoot(cfg.Root))
		}
		if cfg.Image != "" {
			opts = append(opts, container.WithImage(cfg.Image))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, container.WithTimeout(cfg.Timeout.Std()))
		}
		exec, err := container.New(opts...)
		if err != nil {
			return nil, &ConfigurationError{Field: "sandbox.backend", Reason: err.Error()}
		}
		return exec, nil
	default:
		var opts []local.Option
		if cfg.Root != "" {
			opts = append(opts, local.WithRoot(cfg.Root))
		}
		if cfg.Python != "" {
			opts = append(opts, local.WithPython(cfg.Python))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, local.WithTimeout(cfg.Timeout.Std()))
		}
		opts = append(opts, local.WithKeepFailed(cfg.KeepFailed))
		return local.New(opts...), nil
	}
}
