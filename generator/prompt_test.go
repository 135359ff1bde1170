//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

package generator_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-scriptflow/generator"
	"trpc.group/trpc-go/trpc-scriptflow/task"
)

func TestSystemPromptIncludesCapabilityPromptsInOrder(t *testing.T) {
	req := &task.Request{
		UserQuery: "read the beam current",
		CapabilityPrompts: []string{
			"Use pyepics for channel access.",
			"Prefix every PV with SR01C:.",
		},
	}
	prompt := generator.SystemPrompt(req)

	first := strings.Index(prompt, "Use pyepics")
	second := strings.Index(prompt, "Prefix every PV")
	require.Greater(t, first, 0)
	require.Greater(t, second, 0)
	assert.Less(t, first, second, "capability prompt order must be preserved")
	assert.Contains(t, prompt, "results")
}

func TestUserPromptFirstAttempt(t *testing.T) {
	req := &task.Request{
		UserQuery:     "read the beam current",
		TaskObjective: "single caget of the DCCT",
		ExpectedResults: map[string]any{
			"current_ma": "beam current in mA",
		},
	}
	prompt := generator.UserPrompt(req, nil)

	assert.Contains(t, prompt, "read the beam current")
	assert.Contains(t, prompt, "single caget of the DCCT")
	assert.Contains(t, prompt, "current_ma")
	assert.NotContains(t, prompt, "Previous attempts failed")
}

func TestUserPromptReplaysFailuresInOrder(t *testing.T) {
	req := &task.Request{UserQuery: "compute"}
	prior := []task.ErrorRecord{
		{Attempt: 1, Kind: task.ErrorKindSyntax, Message: "line 1: '(' was never closed", Code: "broken("},
		{Attempt: 2, Kind: task.ErrorKindRuntime, Message: "NameError: x", Traceback: "Traceback...\nNameError: x"},
	}
	prompt := generator.UserPrompt(req, prior)

	assert.Contains(t, prompt, "Previous attempts failed")
	first := strings.Index(prompt, "attempt 1")
	second := strings.Index(prompt, "attempt 2")
	require.Greater(t, first, 0)
	require.Greater(t, second, 0)
	assert.Less(t, first, second, "most recent failure must come last")
	assert.Contains(t, prompt, "broken(")
	assert.Contains(t, prompt, "NameError: x")
}

func TestUserPromptTruncatesLongTracebacks(t *testing.T) {
	long := strings.Repeat("frame line\n", 1000) + "ValueError: tail"
	prompt := generator.UserPrompt(&task.Request{UserQuery: "q"}, []task.ErrorRecord{
		{Attempt: 1, Kind: task.ErrorKindRuntime, Message: "ValueError: tail", Traceback: long},
	})

	assert.Contains(t, prompt, "truncated")
	assert.Contains(t, prompt, "ValueError: tail", "the exception line must survive truncation")
	assert.Less(t, len(prompt), len(long), "prompt must not embed the full traceback")
}
