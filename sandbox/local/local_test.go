//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

package local_test

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-scriptflow/policy"
	"trpc.group/trpc-go/trpc-scriptflow/sandbox"
	"trpc.group/trpc-go/trpc-scriptflow/sandbox/local"
	"trpc.group/trpc-go/trpc-scriptflow/task"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not on PATH")
	}
}

func newExecutor(t *testing.T, opts ...local.Option) *local.Executor {
	t.Helper()
	return local.New(append([]local.Option{
		local.WithRoot(t.TempDir()),
		local.WithTimeout(30 * time.Second),
	}, opts...)...)
}

func TestRunSuccess(t *testing.T) {
	requirePython(t)
	e := newExecutor(t)

	out, err := e.Run(context.Background(), sandbox.RunSpec{
		ExecutionFolder: "ok",
		Attempt:         1,
		Code:            "results = {\"value\": 42}\n",
		Mode:            policy.ModeReadOnly,
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, float64(42), out.Results["value"])
}

func TestRunRuntimeError(t *testing.T) {
	requirePython(t)
	e := newExecutor(t)

	out, err := e.Run(context.Background(), sandbox.RunSpec{
		ExecutionFolder: "boom",
		Attempt:         1,
		Code:            "results = {\"value\": 1 / 0}\n",
		Mode:            policy.ModeReadOnly,
	})
	require.NoError(t, err, "a script exception is not an executor error")
	assert.False(t, out.Success)
	require.NotNil(t, out.Error)
	assert.Equal(t, task.ErrorKindRuntime, out.Error.Kind)
	assert.Contains(t, out.Error.Message, "ZeroDivisionError")
	assert.Contains(t, out.Error.Traceback, "Traceback")
}

func TestRunMissingResults(t *testing.T) {
	requirePython(t)
	e := newExecutor(t)

	out, err := e.Run(context.Background(), sandbox.RunSpec{
		ExecutionFolder: "no-results",
		Attempt:         1,
		Code:            "x = 1 + 1\n",
		Mode:            policy.ModeReadOnly,
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	require.NotNil(t, out.Error)
	assert.Equal(t, task.ErrorKindValidation, out.Error.Kind)
}

func TestRunUnserializableResults(t *testing.T) {
	requirePython(t)
	e := newExecutor(t)

	out, err := e.Run(context.Background(), sandbox.RunSpec{
		ExecutionFolder: "bad-results",
		Attempt:         1,
		Code:            "results = {\"fn\": lambda x: x}\n",
		Mode:            policy.ModeReadOnly,
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	require.NotNil(t, out.Error)
	assert.Equal(t, task.ErrorKindValidation, out.Error.Kind)
}

func TestRunTimeout(t *testing.T) {
	requirePython(t)
	e := newExecutor(t, local.WithTimeout(2*time.Second))

	out, err := e.Run(context.Background(), sandbox.RunSpec{
		ExecutionFolder: "slow",
		Attempt:         1,
		Code:            "import time\ntime.sleep(60)\nresults = {}\n",
		Mode:            policy.ModeReadOnly,
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	require.NotNil(t, out.Error)
	assert.Equal(t, task.ErrorKindTimeout, out.Error.Kind)
	assert.Contains(t, out.Error.Message, "2s budget")
}

func TestRunCapturesStdout(t *testing.T) {
	requirePython(t)
	e := newExecutor(t)

	out, err := e.Run(context.Background(), sandbox.RunSpec{
		ExecutionFolder: "stdout",
		Attempt:         1,
		Code:            "print(\"measuring\")\nresults = {\"ok\": True}\n",
		Mode:            policy.ModeReadOnly,
	})
	require.NoError(t, err)
	assert.Contains(t, out.Stdout, "measuring")
}

func TestRunMissingInterpreterIsExecutorError(t *testing.T) {
	e := newExecutor(t, local.WithPython("definitely-not-a-python"))

	_, err := e.Run(context.Background(), sandbox.RunSpec{
		ExecutionFolder: "no-python",
		Attempt:         1,
		Code:            "results = {}\n",
		Mode:            policy.ModeReadOnly,
	})
	assert.Error(t, err)
}
