//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

package generator

import (
	"fmt"
	"sort"
	"strings"

	"trpc.group/trpc-go/trpc-scriptflow/task"
)

// maxTracebackChars bounds how much of a traceback is replayed into a
// prompt; the tail carries the exception line, so truncation keeps it.
const maxTracebackChars = 2000

// SystemPrompt renders the fixed instructions plus the request's
// capability prompts, in their configured order.
func SystemPrompt(req *task.Request) string {
	var b strings.Builder
	b.WriteString(`You write Python scripts for an accelerator facility.
Rules:
- Produce one complete, runnable Python script and nothing else.
- Assign the final outcome to a top-level dict named results with JSON-serializable values.
- Save any files you produce under the directory named by the OUTPUT_DIR environment variable.
- Do not prompt for input; the script runs unattended.`)
	for _, p := range req.CapabilityPrompts {
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(p))
	}
	return b.String()
}

// UserPrompt renders the task itself plus, on retries, the failures of the
// prior attempts in chronological order so the most recent failure is the
// last thing the model reads.
func UserPrompt(req *task.Request, prior []task.ErrorRecord) string {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(strings.TrimSpace(req.UserQuery))
	if req.TaskObjective != "" {
		b.WriteString("\n\nObjective: ")
		b.WriteString(strings.TrimSpace(req.TaskObjective))
	}
	if len(req.ExpectedResults) > 0 {
		b.WriteString("\n\nThe results dict must contain:")
		for _, key := range sortedKeys(req.ExpectedResults) {
			fmt.Fprintf(&b, "\n- %s: %v", key, req.ExpectedResults[key])
		}
	}
	if len(req.CapabilityContext) > 0 {
		b.WriteString("\n\nContext:")
		for _, key := range sortedKeys(req.CapabilityContext) {
			fmt.Fprintf(&b, "\n- %s: %v", key, req.CapabilityContext[key])
		}
	}
	if len(prior) > 0 {
		b.WriteString("\n\nPrevious attempts failed. Fix the underlying problem; do not repeat the same code.")
		for _, rec := range prior {
			fmt.Fprintf(&b, "\n\n--- attempt %d (%s) ---\n%s", rec.Attempt, rec.Kind, rec.Message)
			if rec.AnalysisNote != "" {
				b.WriteString("\nAnalysis: " + rec.AnalysisNote)
			}
			if rec.Traceback != "" {
				b.WriteString("\nTraceback:\n" + tail(rec.Traceback, maxTracebackChars))
			}
			if rec.Code != "" {
				b.WriteString("\nCode:\n```python\n" + rec.Code + "\n```")
			}
		}
	}
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "...(truncated)...\n" + s[len(s)-n:]
}
