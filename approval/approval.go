//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

// Package approval defines the boundary to the human-in-the-loop approval
// collaborator. The pipeline hands over the pending code and the policy
// verdict; how the request is rendered and answered (chat, web console,
// control-room panel) is the collaborator's business.
package approval

import (
	"context"

	"trpc.group/trpc-go/trpc-scriptflow/policy"
)

// Verdict is the collaborator's answer to an approval request.
type Verdict string

// Verdicts returned by an Approver.
const (
	// Approved clears the code to run.
	Approved Verdict = "approved"
	// Rejected declines the code. Terminal for the request.
	Rejected Verdict = "rejected"
	// TimedOut means the collaborator gave no answer within its own
	// budget. The pipeline treats it as Rejected unless configured
	// otherwise.
	TimedOut Verdict = "timeout"
)

// Request is the payload presented to the approval collaborator.
type Request struct {
	// ExecutionFolder identifies the pipeline run being approved.
	ExecutionFolder string
	// Mode is the execution mode the code would run under.
	Mode policy.ExecutionMode
	// Reasoning is the policy engine's audit text.
	Reasoning string
	// Code is the exact script pending execution.
	Code string
	// AnalysisSummary renders the detected patterns with locations.
	AnalysisSummary string
}

// Approver is the approval collaborator boundary. Decide blocks until a
// verdict is available or ctx is cancelled; the pipeline imposes no
// timeout of its own on this call.
type Approver interface {
	Decide(ctx context.Context, req Request) (Verdict, error)
}

// Func adapts a plain function to the Approver interface.
type Func func(ctx context.Context, req Request) (Verdict, error)

// Decide implements Approver.
func (f Func) Decide(ctx context.Context, req Request) (Verdict, error) {
	return f(ctx, req)
}

// Auto is an Approver that always returns a fixed verdict. Intended for
// tests and for deployments where a surrounding system already gates the
// pipeline.
type Auto struct {
	Verdict Verdict
}

// Decide implements Approver.
func (a Auto) Decide(_ context.Context, _ Request) (Verdict, error) {
	return a.Verdict, nil
}
