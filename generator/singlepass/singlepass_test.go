//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

package singlepass_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-scriptflow/generator"
	"trpc.group/trpc-go/trpc-scriptflow/generator/singlepass"
	"trpc.group/trpc-go/trpc-scriptflow/model"
	"trpc.group/trpc-go/trpc-scriptflow/task"
)

// fakeModel replays scripted replies; an empty reply means a transport
// error for that call.
type fakeModel struct {
	mu       sync.Mutex
	replies  []string
	calls    int
	requests []*model.Request
}

func (f *fakeModel) Info() model.Info { return model.Info{Name: "fake"} }

func (f *fakeModel) GenerateContent(_ context.Context, req *model.Request) (<-chan *model.Response, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if idx >= len(f.replies) {
		idx = len(f.replies) - 1
	}
	reply := f.replies[idx]
	ch := make(chan *model.Response, 1)
	if reply == "" {
		ch <- &model.Response{
			Error: &model.ResponseError{Type: model.ErrorTypeAPIError, Message: "backend unavailable"},
			Done:  true,
		}
	} else {
		ch <- &model.Response{
			Choices: []model.Choice{{Message: model.NewAssistantMessage(reply)}},
			Done:    true,
		}
	}
	close(ch)
	return ch, nil
}

func TestGenerateCodeStripsFences(t *testing.T) {
	m := &fakeModel{replies: []string{"```python\nresults = {\"v\": 1}\n```"}}
	gen := singlepass.New(m)

	code, err := gen.GenerateCode(context.Background(), &task.Request{UserQuery: "q"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "results = {\"v\": 1}", code)
}

func TestGenerateCodeSendsFeedback(t *testing.T) {
	m := &fakeModel{replies: []string{"```python\nresults = {}\n```"}}
	gen := singlepass.New(m)

	prior := []task.ErrorRecord{
		{Attempt: 1, Kind: task.ErrorKindRuntime, Message: "NameError: data"},
	}
	_, err := gen.GenerateCode(context.Background(), &task.Request{UserQuery: "q"}, prior)
	require.NoError(t, err)

	require.Len(t, m.requests, 1)
	require.Len(t, m.requests[0].Messages, 2)
	assert.Contains(t, m.requests[0].Messages[1].Content, "NameError: data")
}

func TestGenerateCodeRetriesBackendFaults(t *testing.T) {
	m := &fakeModel{replies: []string{"", "```python\nresults = {}\n```"}}
	gen := singlepass.New(m, singlepass.WithInfraRetries(2))

	code, err := gen.GenerateCode(context.Background(), &task.Request{UserQuery: "q"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "results = {}", code)
	assert.Equal(t, 2, m.calls)
}

func TestGenerateCodeExhaustsRetries(t *testing.T) {
	m := &fakeModel{replies: []string{""}}
	gen := singlepass.New(m, singlepass.WithInfraRetries(1))

	_, err := gen.GenerateCode(context.Background(), &task.Request{UserQuery: "q"}, nil)
	require.Error(t, err)

	var genErr *generator.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, singlepass.Name, genErr.Generator)
	assert.Equal(t, 2, genErr.Attempts)
	assert.Equal(t, 2, m.calls)
}

func TestGenerateCodeRejectsEmptyCompletion(t *testing.T) {
	m := &fakeModel{replies: []string{"   \n"}}
	gen := singlepass.New(m, singlepass.WithInfraRetries(0))

	_, err := gen.GenerateCode(context.Background(), &task.Request{UserQuery: "q"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no code")
}

func TestFactoryConstructsSinglePass(t *testing.T) {
	reg := generator.NewRegistry()
	reg.Register(singlepass.Name, singlepass.Factory)

	gen, err := reg.New(singlepass.Name, &singlepass.Config{
		Model: &fakeModel{replies: []string{"```python\nresults = {}\n```"}},
	})
	require.NoError(t, err)

	code, err := gen.GenerateCode(context.Background(), &task.Request{UserQuery: "q"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "results = {}", code)
}

func TestFactoryRejectsMissingModel(t *testing.T) {
	_, err := singlepass.Factory(&singlepass.Config{})
	assert.Error(t, err)
}
