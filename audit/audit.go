//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

// Package audit records what the pipeline did: every run, every failed
// attempt, every policy decision and the final outcome. In a facility
// setting this trail is what the post-incident review reads, so recording
// failures are surfaced but never allowed to abort a run.
package audit

import (
	"context"
	"time"

	"trpc.group/trpc-go/trpc-scriptflow/policy"
	"trpc.group/trpc-go/trpc-scriptflow/task"
)

// Recorder receives pipeline events keyed by execution folder.
// Implementations must be safe for concurrent use; the pool runs several
// pipelines at once.
type Recorder interface {
	// BeginRun records the start of a pipeline run.
	BeginRun(ctx context.Context, executionFolder, userQuery string) error
	// RecordError records one failed attempt.
	RecordError(ctx context.Context, executionFolder string, rec task.ErrorRecord) error
	// RecordDecision records the policy verdict for one attempt.
	RecordDecision(ctx context.Context, executionFolder string, attempt int, dec policy.Decision) error
	// RecordOutcome records the terminal state of the run.
	RecordOutcome(ctx context.Context, executionFolder, state string, attempts int, success bool) error
}

// Nop is a Recorder that discards everything.
type Nop struct{}

// BeginRun implements Recorder.
func (Nop) BeginRun(context.Context, string, string) error { return nil }

// RecordError implements Recorder.
func (Nop) RecordError(context.Context, string, task.ErrorRecord) error { return nil }

// RecordDecision implements Recorder.
func (Nop) RecordDecision(context.Context, string, int, policy.Decision) error { return nil }

// RecordOutcome implements Recorder.
func (Nop) RecordOutcome(context.Context, string, string, int, bool) error { return nil }

// now is stubbed in tests.
var now = time.Now
