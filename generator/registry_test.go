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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-scriptflow/generator"
	"trpc.group/trpc-go/trpc-scriptflow/task"
)

type staticGenerator struct{ code string }

func (g staticGenerator) GenerateCode(context.Context, *task.Request, []task.ErrorRecord) (string, error) {
	return g.code, nil
}

func staticFactory(code string) generator.Factory {
	return func(any) (generator.CodeGenerator, error) {
		return staticGenerator{code: code}, nil
	}
}

func TestRegistryResolvesByName(t *testing.T) {
	reg := generator.NewRegistry()
	reg.Register("b", staticFactory("from b"))
	reg.Register("a", staticFactory("from a"))

	gen, err := reg.New("a", nil)
	require.NoError(t, err)
	code, err := gen.GenerateCode(context.Background(), &task.Request{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "from a", code)

	assert.Equal(t, []string{"a", "b"}, reg.Names())
}

func TestRegistryRejectsUnknownName(t *testing.T) {
	reg := generator.NewRegistry()
	reg.Register("known", staticFactory(""))

	_, err := reg.New("no_such_generator", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown generator")
	assert.Contains(t, err.Error(), "known")
}

func TestRegistryDuplicateRegistrationPanics(t *testing.T) {
	reg := generator.NewRegistry()
	reg.Register("dup", staticFactory(""))
	assert.Panics(t, func() { reg.Register("dup", staticFactory("")) })
}

func TestRegistriesAreIndependent(t *testing.T) {
	first := generator.NewRegistry()
	first.Register("only_here", staticFactory(""))

	second := generator.NewRegistry()
	_, err := second.New("only_here", nil)
	assert.Error(t, err, "registration must not leak between registries")
}
