//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

package deterministic_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-scriptflow/analyzer"
	"trpc.group/trpc-go/trpc-scriptflow/generator"
	"trpc.group/trpc-go/trpc-scriptflow/generator/deterministic"
	"trpc.group/trpc-go/trpc-scriptflow/policy"
	"trpc.group/trpc-go/trpc-scriptflow/task"
)

func TestBehaviorsMatchTheirClassification(t *testing.T) {
	a := analyzer.New()
	tests := []struct {
		behavior    deterministic.Behavior
		syntaxValid bool
		wantTag     analyzer.PatternTag
	}{
		{behavior: deterministic.Success, syntaxValid: true},
		{behavior: deterministic.BadSyntax, syntaxValid: false},
		{behavior: deterministic.RuntimeFailure, syntaxValid: true},
		{behavior: deterministic.MissingResults, syntaxValid: true},
		{behavior: deterministic.ControlWrite, syntaxValid: true, wantTag: analyzer.PatternControlWrite},
		{behavior: deterministic.ControlRead, syntaxValid: true, wantTag: analyzer.PatternControlRead},
		{behavior: deterministic.SecurityRisk, syntaxValid: true, wantTag: analyzer.PatternControlWrite},
	}
	for _, tt := range tests {
		t.Run(string(tt.behavior), func(t *testing.T) {
			gen := deterministic.New(tt.behavior)
			code, err := gen.GenerateCode(context.Background(), &task.Request{}, nil)
			require.NoError(t, err)

			res := a.Analyze(code)
			assert.Equal(t, tt.syntaxValid, res.SyntaxValid)
			if tt.wantTag != "" {
				assert.True(t, res.Has(tt.wantTag), "expected %s", tt.wantTag)
			}
		})
	}
}

func TestSequenceStepsAndRepeatsLast(t *testing.T) {
	gen := deterministic.New(deterministic.BadSyntax, deterministic.Success)
	ctx := context.Background()

	first, err := gen.GenerateCode(ctx, &task.Request{}, nil)
	require.NoError(t, err)
	second, err := gen.GenerateCode(ctx, &task.Request{}, nil)
	require.NoError(t, err)
	third, err := gen.GenerateCode(ctx, &task.Request{}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, second, third, "last behavior repeats")
	assert.Equal(t, 3, gen.Calls())
}

func TestSecurityRiskBlockedByNamespaceGuard(t *testing.T) {
	gen := deterministic.New(deterministic.SecurityRisk)
	code, err := gen.GenerateCode(context.Background(), &task.Request{}, nil)
	require.NoError(t, err)

	res := analyzer.New().Analyze(code)
	require.True(t, res.SyntaxValid)

	engine := policy.NewEngine(policy.WithDomainAnalyzer(policy.NewPVGuard("SR01C:")))
	_, err = engine.Decide(code, res)
	require.Error(t, err)

	var rejection *policy.SecurityRejectionError
	assert.ErrorAs(t, err, &rejection)
}

func TestFailBehaviorReturnsGenerationError(t *testing.T) {
	gen := deterministic.New(deterministic.Fail)
	_, err := gen.GenerateCode(context.Background(), &task.Request{}, nil)
	require.Error(t, err)

	var genErr *generator.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, deterministic.Name, genErr.Generator)
}

func TestRecordsLastPrior(t *testing.T) {
	gen := deterministic.New(deterministic.Success)
	prior := []task.ErrorRecord{{Attempt: 1, Kind: task.ErrorKindRuntime, Message: "boom"}}
	_, err := gen.GenerateCode(context.Background(), &task.Request{UserQuery: "q"}, prior)
	require.NoError(t, err)

	got := gen.LastPrior()
	require.Len(t, got, 1)
	assert.Equal(t, "boom", got[0].Message)
	require.NotNil(t, gen.LastRequest())
	assert.Equal(t, "q", gen.LastRequest().UserQuery)
}

func TestRawCodeSequenceStepsAndRepeatsLast(t *testing.T) {
	gen := deterministic.NewCodes("results = 1/0", "results = {'value': 42}")
	ctx := context.Background()

	first, err := gen.GenerateCode(ctx, &task.Request{}, nil)
	require.NoError(t, err)
	second, err := gen.GenerateCode(ctx, &task.Request{}, nil)
	require.NoError(t, err)
	third, err := gen.GenerateCode(ctx, &task.Request{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "results = 1/0", first)
	assert.Equal(t, "results = {'value': 42}", second)
	assert.Equal(t, second, third, "last script repeats")
	assert.Equal(t, 3, gen.Calls())
}

func TestFactoryConstructsFromConfig(t *testing.T) {
	reg := generator.NewRegistry()
	reg.Register(deterministic.Name, deterministic.Factory)

	gen, err := reg.New(deterministic.Name, &deterministic.Config{
		Sequence: []deterministic.Behavior{deterministic.RuntimeFailure, deterministic.Success},
	})
	require.NoError(t, err)

	code, err := gen.GenerateCode(context.Background(), &task.Request{}, nil)
	require.NoError(t, err)
	assert.Contains(t, code, "1 / 0")
}

func TestFactoryPrefersRawCodes(t *testing.T) {
	gen, err := deterministic.Factory(&deterministic.Config{
		Behavior: deterministic.RuntimeFailure,
		Codes:    []string{"results = {'raw': True}"},
	})
	require.NoError(t, err)

	code, err := gen.GenerateCode(context.Background(), &task.Request{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "results = {'raw': True}", code)
}

func TestFactoryRejectsUnknownBehavior(t *testing.T) {
	_, err := deterministic.Factory(&deterministic.Config{Behavior: "explode"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown behavior")
}
