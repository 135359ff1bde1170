//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

package agentic_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-scriptflow/generator/agentic"
	"trpc.group/trpc-go/trpc-scriptflow/model"
	"trpc.group/trpc-go/trpc-scriptflow/task"
)

type fakeModel struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (f *fakeModel) Info() model.Info { return model.Info{Name: "fake"} }

func (f *fakeModel) GenerateContent(_ context.Context, _ *model.Request) (<-chan *model.Response, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.mu.Unlock()
	if idx >= len(f.replies) {
		idx = len(f.replies) - 1
	}
	ch := make(chan *model.Response, 1)
	ch <- &model.Response{
		Choices: []model.Choice{{Message: model.NewAssistantMessage(f.replies[idx])}},
		Done:    true,
	}
	close(ch)
	return ch, nil
}

func (f *fakeModel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRobustProfilePlansDraftsReviews(t *testing.T) {
	m := &fakeModel{replies: []string{
		"1. read the PV\n2. assign results",
		"```python\nresults = {\"v\": 1}\n```",
		"LOOKS_GOOD",
	}}
	gen := agentic.New(m, agentic.WithProfile(agentic.ProfileRobust))

	code, err := gen.GenerateCode(context.Background(), &task.Request{UserQuery: "q"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "results = {\"v\": 1}", code)
	assert.Equal(t, 3, m.count(), "plan, draft, review")
}

func TestReviewRevisesDraft(t *testing.T) {
	m := &fakeModel{replies: []string{
		"plan",
		"```python\nresults = {\"v\": 1}\n```",
		"```python\nresults = {\"v\": 2}\n```",
		"LOOKS_GOOD",
	}}
	gen := agentic.New(m)

	code, err := gen.GenerateCode(context.Background(), &task.Request{UserQuery: "q"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "results = {\"v\": 2}", code)
}

func TestFastProfileSkipsPlanning(t *testing.T) {
	m := &fakeModel{replies: []string{
		"```python\nresults = {}\n```",
		"LOOKS_GOOD",
	}}
	gen := agentic.New(m, agentic.WithProfile(agentic.ProfileFast))

	code, err := gen.GenerateCode(context.Background(), &task.Request{UserQuery: "q"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "results = {}", code)
	assert.Equal(t, 2, m.count(), "draft and one review, no planning turn")
}

func TestTurnBudgetBoundsReviewLoop(t *testing.T) {
	// The model never says the draft is done; the budget must stop it.
	m := &fakeModel{replies: []string{
		"plan",
		"```python\nresults = {\"v\": 1}\n```",
		"```python\nresults = {\"v\": 2}\n```",
	}}
	gen := agentic.New(m, agentic.WithMaxTurns(5))

	code, err := gen.GenerateCode(context.Background(), &task.Request{UserQuery: "q"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "results = {\"v\": 2}", code)
	assert.LessOrEqual(t, m.count(), 5)
}
