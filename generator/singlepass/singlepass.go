//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

// Package singlepass is the default code generator: one model completion
// per pipeline attempt, with a small internal retry budget for backend
// faults.
package singlepass

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-scriptflow/generator"
	"trpc.group/trpc-go/trpc-scriptflow/log"
	"trpc.group/trpc-go/trpc-scriptflow/model"
	"trpc.group/trpc-go/trpc-scriptflow/sandbox"
	"trpc.group/trpc-go/trpc-scriptflow/task"
)

// Name is the registry name of this generator.
const Name = "single_pass"

// Defaults for the generator knobs.
const (
	DefaultInfraRetries = 2
	DefaultMaxTokens    = 4096
	defaultRetryBackoff = 500 * time.Millisecond
)

// Factory builds the generator from a *Config block.
func Factory(cfg any) (generator.CodeGenerator, error) {
	c, ok := cfg.(*Config)
	if !ok || c == nil {
		return nil, errors.New("single_pass: config must be *singlepass.Config with a Model")
	}
	if c.Model == nil {
		return nil, errors.New("single_pass: Model is required")
	}
	var opts []Option
	if c.InfraRetries > 0 {
		opts = append(opts, WithInfraRetries(c.InfraRetries))
	}
	if c.MaxTokens > 0 {
		opts = append(opts, WithMaxTokens(c.MaxTokens))
	}
	if c.Temperature != nil {
		opts = append(opts, WithTemperature(*c.Temperature))
	}
	return New(c.Model, opts...), nil
}

// Config is the registry configuration block for this generator.
type Config struct {
	Model        model.Model
	InfraRetries int
	MaxTokens    int
	Temperature  *float64
}

// Generator produces code with one completion per attempt.
type Generator struct {
	model        model.Model
	infraRetries int
	maxTokens    int
	temperature  *float64
	backoff      time.Duration
}

// Option configures the Generator.
type Option func(*Generator)

// WithInfraRetries sets how many extra tries a backend fault gets before
// it is promoted to a terminal GenerationError.
func WithInfraRetries(n int) Option {
	return func(g *Generator) { g.infraRetries = n }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = &t }
}

// New creates a single-pass Generator backed by the given model.
func New(m model.Model, opts ...Option) *Generator {
	g := &Generator{
		model:        m,
		infraRetries: DefaultInfraRetries,
		maxTokens:    DefaultMaxTokens,
		backoff:      defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateCode implements generator.CodeGenerator.
func (g *Generator) GenerateCode(ctx context.Context, req *task.Request, prior []task.ErrorRecord) (string, error) {
	mreq := &model.Request{
		Messages: []model.Message{
			model.NewSystemMessage(generator.SystemPrompt(req)),
			model.NewUserMessage(generator.UserPrompt(req, prior)),
		},
		GenerationConfig: model.GenerationConfig{
			MaxTokens:   g.maxTokens,
			Temperature: g.temperature,
		},
	}

	tries := g.infraRetries + 1
	var lastErr error
	for i := 0; i < tries; i++ {
		if i > 0 {
			log.Warnf("generation retry %d/%d after: %v", i, g.infraRetries, lastErr)
			select {
			case <-ctx.Done():
				return "", &generator.GenerationError{Generator: Name, Attempts: i, Err: ctx.Err()}
			case <-time.After(g.backoff):
			}
		}
		text, err := g.complete(ctx, mreq)
		if err == nil {
			code := sandbox.StripFences(text)
			if strings.TrimSpace(code) == "" {
				lastErr = errors.New("model returned no code")
				continue
			}
			return code, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", &generator.GenerationError{Generator: Name, Attempts: tries, Err: lastErr}
}

func (g *Generator) complete(ctx context.Context, req *model.Request) (string, error) {
	ch, err := g.model.GenerateContent(ctx, req)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for rsp := range ch {
		if rsp.Error != nil {
			return "", fmt.Errorf("%s: %s", rsp.Error.Type, rsp.Error.Message)
		}
		for _, choice := range rsp.Choices {
			b.WriteString(choice.Message.Content)
		}
		if rsp.Done {
			break
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return b.String(), nil
}
