//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

// Package config loads and validates pipeline configuration from YAML and
// wires the configured components together.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigurationError reports an invalid or inconsistent configuration.
// It is terminal: a misconfigured pipeline never starts a run.
type ConfigurationError struct {
	// Field is the offending configuration key.
	Field string
	// Reason explains what is wrong.
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// Duration wraps time.Duration with YAML support for values like "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Sandbox backends.
const (
	BackendLocal     = "local"
	BackendContainer = "container"
)

// Config is the root configuration document.
type Config struct {
	// MaxAttempts is the pipeline attempt ceiling.
	MaxAttempts int `yaml:"max_attempts"`
	// ErrorWindow is how many recent failures feed back into generation.
	ErrorWindow int `yaml:"error_window"`

	Model     ModelConfig     `yaml:"model"`
	Generator GeneratorConfig `yaml:"generator"`
	Policy    PolicyConfig    `yaml:"policy"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Audit     AuditConfig     `yaml:"audit"`
}

// ModelConfig selects and authenticates the completion backend.
type ModelConfig struct {
	// Name is the model identifier, e.g. "gpt-4o-mini".
	Name string `yaml:"name"`
	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never appears in the file.
	APIKeyEnv string `yaml:"api_key_env"`
	// BaseURL optionally points at an OpenAI-compatible endpoint.
	BaseURL string `yaml:"base_url"`
}

// GeneratorConfig selects the code generator.
type GeneratorConfig struct {
	// Name is the registered generator name. Default "single_pass".
	Name string `yaml:"name"`
	// InfraRetries is the single-pass backend fault budget.
	InfraRetries int `yaml:"infra_retries"`
	// Profile is the agentic cost/quality profile ("fast" or "robust").
	Profile string `yaml:"profile"`
	// MaxTurns caps agentic model turns per generation.
	MaxTurns int `yaml:"max_turns"`
	// Behavior selects the deterministic generator's canned script.
	Behavior string `yaml:"behavior"`
	// Sequence steps the deterministic generator through canned scripts,
	// one per call, repeating the last.
	Sequence []string `yaml:"sequence"`
	// Codes steps the deterministic generator through raw script bodies.
	Codes []string `yaml:"codes"`
}

// PolicyConfig tunes the decision engine.
type PolicyConfig struct {
	// WriteRequiresApproval gates WRITE_ENABLED mode on human approval.
	// The CONTROL_WRITE approval floor is not configurable.
	WriteRequiresApproval *bool `yaml:"write_requires_approval"`
	// TimeoutApproves makes an approval timeout count as approval.
	TimeoutApproves bool `yaml:"timeout_approves"`
	// AllowedPVPrefixes confines PV addresses to a namespace; empty
	// disables the guard.
	AllowedPVPrefixes []string `yaml:"allowed_pv_prefixes"`
}

// SandboxConfig selects and tunes the execution backend.
type SandboxConfig struct {
	// Backend is "local" or "container".
	Backend string `yaml:"backend"`
	// Root is the workspace root directory.
	Root string `yaml:"root"`
	// Timeout is the per-run wall-clock budget.
	Timeout Duration `yaml:"timeout"`
	// Python is the interpreter binary for the local backend.
	Python string `yaml:"python"`
	// Image is the container image for the container backend.
	Image string `yaml:"image"`
	// KeepFailed keeps failed local workspaces for inspection.
	KeepFailed bool `yaml:"keep_failed"`
}

// AuditConfig selects the audit sink.
type AuditConfig struct {
	// Path is the SQLite database file; empty disables persistence.
	Path string `yaml:"path"`
}

// Default returns the configuration used when a field is absent.
func Default() Config {
	return Config{
		MaxAttempts: 3,
		ErrorWindow: 2,
		Generator:   GeneratorConfig{Name: "single_pass"},
		Sandbox: SandboxConfig{
			Backend: BackendLocal,
			Timeout: Duration(60 * time.Second),
			Python:  "python3",
		},
	}
}

// Load reads and validates the YAML file at path, filling unset fields
// with defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse validates raw YAML configuration, filling unset fields with
// defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &ConfigurationError{Field: "(document)", Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks internal consistency.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return &ConfigurationError{Field: "max_attempts", Reason: "must be at least 1"}
	}
	if c.ErrorWindow < 1 {
		return &ConfigurationError{Field: "error_window", Reason: "must be at least 1"}
	}
	switch c.Sandbox.Backend {
	case BackendLocal, BackendContainer:
	default:
		return &ConfigurationError{
			Field:  "sandbox.backend",
			Reason: fmt.Sprintf("unknown backend %q", c.Sandbox.Backend),
		}
	}
	if c.Sandbox.Timeout < 0 {
		return &ConfigurationError{Field: "sandbox.timeout", Reason: "must not be negative"}
	}
	return nil
}
