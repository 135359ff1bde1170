//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-scriptflow/policy"
	"trpc.group/trpc-go/trpc-scriptflow/task"
)

// Well-known names inside a workspace.
const (
	// ScriptFileName is the file the executors write the harnessed code to.
	ScriptFileName = "script.py"
	// ResultsFileName is where the harness serializes the results mapping.
	ResultsFileName = "_scriptflow_results.json"
	// DirOut is the workspace subdirectory scripts write artifacts to.
	DirOut = "out"

	// EnvMode exposes the granted execution mode to the script.
	EnvMode = "SCRIPTFLOW_MODE"
	// EnvWorkspaceDir points to the workspace root.
	EnvWorkspaceDir = "WORKSPACE_DIR"
	// EnvOutputDir points to the artifact output directory.
	EnvOutputDir = "OUTPUT_DIR"
)

// serializationSentinel is written by the harness when the results mapping
// exists but is not JSON-serializable; the evaluator maps it to a
// validation error instead of silently coercing values.
const serializationSentinel = "__scriptflow_unserializable__"

// resultsEpilogue serializes the results mapping after the user code ran.
// It is appended verbatim; everything it defines is underscore-prefixed so
// it cannot collide with reasonable user code.
const resultsEpilogue = `

# --- results harness (appended) ---
import json as _sf_json
try:
    _sf_value = results
except NameError:
    _sf_value = None
try:
    _sf_payload = _sf_json.dumps(_sf_value)
except (TypeError, ValueError) as _sf_err:
    _sf_payload = _sf_json.dumps({"` + serializationSentinel + `": str(_sf_err)})
with open("` + ResultsFileName + `", "w") as _sf_out:
    _sf_out.write(_sf_payload)
`

// writeGuardPrelude removes hardware-write bindings from control-system
// modules as they are imported. Prepended for every mode below
// CONTROL_WRITE.
const writeGuardPrelude = `# --- mode guard (prepended) ---
import builtins as _sf_builtins
_sf_real_import = _sf_builtins.__import__
def _sf_guarded_import(name, *args, **kwargs):
    _sf_mod = _sf_real_import(name, *args, **kwargs)
    if name.split(".")[0] in ("epics", "pyepics", "cothread", "caproto"):
        def _sf_deny(*_a, **_k):
            raise PermissionError("hardware writes are not permitted in this execution mode")
        for _sf_attr in ("caput", "caput_many"):
            if hasattr(_sf_mod, _sf_attr):
                setattr(_sf_mod, _sf_attr, _sf_deny)
        _sf_pv = getattr(_sf_mod, "PV", None)
        if _sf_pv is not None and hasattr(_sf_pv, "put"):
            try:
                _sf_pv.put = _sf_deny
            except (AttributeError, TypeError):
                pass
    return _sf_mod
_sf_builtins.__import__ = _sf_guarded_import
# --- end mode guard ---

`

// BuildScript wraps user code with the results harness and, for modes
// below CONTROL_WRITE, the hardware write guard.
func BuildScript(code string, mode policy.ExecutionMode) string {
	var b strings.Builder
	if mode != policy.ModeControlWrite {
		b.WriteString(writeGuardPrelude)
	}
	b.WriteString(code)
	b.WriteString(resultsEpilogue)
	return b.String()
}

// RunInfo carries the raw observable facts of one interpreter run.
type RunInfo struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
	// Budget is the configured wall-clock limit the run was held to.
	Budget time.Duration
}

// EvaluateRun turns a finished interpreter run into an Outcome: timeouts
// and exceptions are classified, the results contract is enforced and
// artifacts are collected from the workspace output directory.
func EvaluateRun(
	ctx context.Context, ws Workspace, info RunInfo,
) task.Outcome {
	out := task.Outcome{Stdout: info.Stdout, Duration: info.Duration}
	if info.TimedOut {
		msg := "execution exceeded its wall-clock budget"
		if info.Budget > 0 {
			msg = fmt.Sprintf("execution exceeded its %s budget", info.Budget)
		}
		out.Error = &task.ExecError{
			Kind:    task.ErrorKindTimeout,
			Message: msg,
		}
		return out
	}
	if info.ExitCode != 0 {
		name, msg := classifyTraceback(info.Stderr)
		out.Error = &task.ExecError{
			Kind:      task.ErrorKindRuntime,
			Message:   exceptionMessage(name, msg, info.ExitCode),
			Traceback: info.Stderr,
		}
		return out
	}

	results, verr := readResults(ws)
	if verr != nil {
		out.Error = &task.ExecError{
			Kind:    task.ErrorKindValidation,
			Message: verr.Error(),
		}
		return out
	}

	artifacts, err := ws.CollectArtifacts(ctx, []string{DirOut + "/**"})
	if err == nil {
		out.Artifacts = artifacts
	}
	out.Success = true
	out.Results = results
	return out
}

func readResults(ws Workspace) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(ws.Path, ResultsFileName))
	if err != nil {
		return nil, errors.New("code finished without writing the results mapping")
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("results mapping is not valid JSON: %w", err)
	}
	if value == nil {
		return nil, errors.New("code did not assign a results mapping")
	}
	mapped, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("results must be a mapping, got %T", value)
	}
	if msg, found := mapped[serializationSentinel]; found {
		return nil, fmt.Errorf("results mapping is not JSON-serializable: %v", msg)
	}
	return mapped, nil
}

// classifyTraceback extracts the exception name and message from the last
// line of a Python traceback.
func classifyTraceback(stderr string) (name, message string) {
	lines := strings.Split(strings.TrimRight(stderr, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "File ") {
			continue
		}
		if idx := strings.Index(line, ": "); idx > 0 && !strings.Contains(line[:idx], " ") {
			return line[:idx], line[idx+2:]
		}
		return line, ""
	}
	return "", ""
}

func exceptionMessage(name, msg string, exitCode int) string {
	switch {
	case name != "" && msg != "":
		return fmt.Sprintf("%s: %s", name, msg)
	case name != "":
		return name
	default:
		return fmt.Sprintf("interpreter exited with code %d", exitCode)
	}
}
