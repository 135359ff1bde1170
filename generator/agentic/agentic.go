//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

// Package agentic is the multi-turn code generator: the model first plans
// the approach, then drafts the script, then reviews its own draft. Slower
// and more expensive than single-pass, but noticeably better on tasks with
// several interacting constraints.
package agentic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-scriptflow/generator"
	"trpc.group/trpc-go/trpc-scriptflow/log"
	"trpc.group/trpc-go/trpc-scriptflow/model"
	"trpc.group/trpc-go/trpc-scriptflow/sandbox"
	"trpc.group/trpc-go/trpc-scriptflow/task"
)

// Name is the registry name of this generator.
const Name = "agentic"

// Profile selects a cost/quality tradeoff.
type Profile string

// Profiles.
const (
	// ProfileFast skips the planning turn: draft then one review.
	ProfileFast Profile = "fast"
	// ProfileRobust plans first and reviews until the model is satisfied
	// or the turn budget runs out.
	ProfileRobust Profile = "robust"
)

// Default knobs.
const (
	DefaultMaxTurns  = 6
	DefaultMaxTokens = 4096
)

// doneMarker is what the review turn answers when the draft needs no
// further changes.
const doneMarker = "LOOKS_GOOD"

// Factory builds the generator from a *Config block.
func Factory(cfg any) (generator.CodeGenerator, error) {
	c, ok := cfg.(*Config)
	if !ok || c == nil {
		return nil, errors.New("agentic: config must be *agentic.Config with a Model")
	}
	if c.Model == nil {
		return nil, errors.New("agentic: Model is required")
	}
	var opts []Option
	if c.Profile != "" {
		opts = append(opts, WithProfile(c.Profile))
	}
	if c.MaxTurns > 0 {
		opts = append(opts, WithMaxTurns(c.MaxTurns))
	}
	return New(c.Model, opts...), nil
}

// Config is the registry configuration block for this generator.
type Config struct {
	Model    model.Model
	Profile  Profile
	MaxTurns int
}

// Generator produces code over several model turns.
type Generator struct {
	model     model.Model
	profile   Profile
	maxTurns  int
	maxTokens int
}

// Option configures the Generator.
type Option func(*Generator)

// WithProfile selects the cost/quality profile. Default robust.
func WithProfile(p Profile) Option {
	return func(g *Generator) { g.profile = p }
}

// WithMaxTurns caps the total model turns per generation, planning and
// review included.
func WithMaxTurns(n int) Option {
	return func(g *Generator) { g.maxTurns = n }
}

// New creates an agentic Generator backed by the given model.
func New(m model.Model, opts ...Option) *Generator {
	g := &Generator{
		model:     m,
		profile:   ProfileRobust,
		maxTurns:  DefaultMaxTurns,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateCode implements generator.CodeGenerator.
func (g *Generator) GenerateCode(ctx context.Context, req *task.Request, prior []task.ErrorRecord) (string, error) {
	messages := []model.Message{
		model.NewSystemMessage(generator.SystemPrompt(req)),
		model.NewUserMessage(generator.UserPrompt(req, prior)),
	}
	turns := 0

	if g.profile == ProfileRobust {
		plan, err := g.turn(ctx, &messages, &turns,
			"Before writing code, outline the approach: the steps, the modules involved, and what goes into the results dict. Do not write code yet.")
		if err != nil {
			return "", g.fail(turns, err)
		}
		log.Debugf("agentic plan (%d chars)", len(plan))
	}

	draft, err := g.turn(ctx, &messages, &turns,
		"Now write the complete Python script. Output only the script in a single code block.")
	if err != nil {
		return "", g.fail(turns, err)
	}
	code := sandbox.StripFences(draft)

	for turns < g.maxTurns {
		review, err := g.turn(ctx, &messages, &turns,
			"Review your script for bugs, missing results keys, and anything that would fail at runtime. If it is correct, reply exactly "+
				doneMarker+". Otherwise output the corrected script in a single code block.")
		if err != nil {
			// The draft already exists; a failed review turn is not worth
			// discarding it over.
			log.Warnf("agentic review turn failed, keeping draft: %v", err)
			break
		}
		if strings.Contains(review, doneMarker) && !strings.Contains(review, "```") {
			break
		}
		if revised := sandbox.StripFences(review); strings.TrimSpace(revised) != "" {
			code = revised
		}
		if g.profile == ProfileFast {
			break
		}
	}

	if strings.TrimSpace(code) == "" {
		return "", g.fail(turns, errors.New("model produced no code"))
	}
	return code, nil
}

func (g *Generator) fail(turns int, err error) error {
	return &generator.GenerationError{Generator: Name, Attempts: turns, Err: err}
}

// turn appends a user instruction, runs one completion, and appends the
// assistant reply to the transcript.
func (g *Generator) turn(ctx context.Context, messages *[]model.Message, turns *int, instruction string) (string, error) {
	if *turns >= g.maxTurns {
		return "", fmt.Errorf("turn budget of %d exhausted", g.maxTurns)
	}
	*turns++
	*messages = append(*messages, model.NewUserMessage(instruction))
	ch, err := g.model.GenerateContent(ctx, &model.Request{
		Messages:         *messages,
		GenerationConfig: model.GenerationConfig{MaxTokens: g.maxTokens},
	})
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
	reply := b.String()
	*messages = append(*messages, model.NewAssistantMessage(reply))
	return reply, nil
}
