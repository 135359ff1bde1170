//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

// Package pipeline orchestrates the generate, analyze, police, execute
// loop for one task request, retrying with bounded error feedback until
// the code succeeds, the attempt ceiling is reached, or a terminal
// condition stops the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-scriptflow/analyzer"
	"trpc.group/trpc-go/trpc-scriptflow/approval"
	"trpc.group/trpc-go/trpc-scriptflow/audit"
	"trpc.group/trpc-go/trpc-scriptflow/generator"
	"trpc.group/trpc-go/trpc-scriptflow/log"
	"trpc.group/trpc-go/trpc-scriptflow/policy"
	"trpc.group/trpc-go/trpc-scriptflow/sandbox"
	"trpc.group/trpc-go/trpc-scriptflow/task"
)

// State is the lifecycle state of one pipeline run.
type State string

// Pipeline states. The terminal states are Succeeded and the Terminated*
// family; everything else is transient.
const (
	StateGenerating       State = "generating"
	StateAnalyzing        State = "analyzing"
	StatePolicyEvaluating State = "policy_evaluating"
	StateAwaitingApproval State = "awaiting_approval"
	StateExecuting        State = "executing"

	StateSucceeded State = "succeeded"
	// StateTerminatedRejected means a human rejected the code or a domain
	// analyzer hard-blocked it. No retry follows a rejection.
	StateTerminatedRejected State = "terminated_rejected"
	// StateTerminatedExhausted means the attempt ceiling was reached with
	// every attempt failing.
	StateTerminatedExhausted State = "terminated_exhausted"
	// StateTerminatedGeneration means the generator infrastructure itself
	// failed; no code was attributable for feedback.
	StateTerminatedGeneration State = "terminated_generation_failed"
	// StateTerminatedCancelled means the surrounding context was cancelled
	// before the run could finish. Attempts already made keep their chain
	// records.
	StateTerminatedCancelled State = "terminated_cancelled"
)

// Terminal reports whether the state ends the run.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateTerminatedRejected,
		StateTerminatedExhausted, StateTerminatedGeneration,
		StateTerminatedCancelled:
		return true
	}
	return false
}

// Defaults for orchestrator knobs.
const (
	DefaultMaxAttempts = 3
	DefaultErrorWindow = 2
)

// Result is the terminal report of one pipeline run.
type Result struct {
	// State is the terminal state of the run.
	State State
	// Attempts is how many generation attempts were made.
	Attempts int
	// Code is the script of the final attempt.
	Code string
	// Decision is the policy verdict of the final attempt, if one was made.
	Decision *policy.Decision
	// Outcome is the sandbox outcome of the final attempt, if it ran.
	Outcome *task.Outcome
	// Chain is the full error chain, one record per failed attempt.
	Chain task.Chain
	// Err carries the terminal error for non-success states.
	Err error
}

// Succeeded reports whether the run ended in success.
func (r *Result) Succeeded() bool { return r.State == StateSucceeded }

// Orchestrator drives the retry loop. It is stateless across runs and safe
// for concurrent use; each Run carries its own state.
type Orchestrator struct {
	gen      generator.CodeGenerator
	analyzer *analyzer.Analyzer
	engine   *policy.Engine
	executor sandbox.Executor
	approver approval.Approver
	recorder audit.Recorder

	maxAttempts     int
	errorWindow     int
	timeoutApproves bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxAttempts sets the attempt ceiling. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.maxAttempts = n
		}
	}
}

// WithErrorWindow sets how many recent failures are fed back to the
// generator. The full chain is always retained for reporting.
func WithErrorWindow(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.errorWindow = n
		}
	}
}

// WithApprover sets the approval collaborator. Without one, any attempt
// that requires approval is rejected.
func WithApprover(a approval.Approver) Option {
	return func(o *Orchestrator) { o.approver = a }
}

// WithRecorder sets the audit recorder. Default is audit.Nop.
func WithRecorder(r audit.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithApprovalTimeoutApproves makes an approval timeout count as approval
// instead of rejection. Off by default; only sensible in environments
// where a surrounding system already gates execution.
func WithApprovalTimeoutApproves(approve bool) Option {
	return func(o *Orchestrator) { o.timeoutApproves = approve }
}

// New creates an Orchestrator over the given collaborators.
func New(gen generator.CodeGenerator, an *analyzer.Analyzer, engine *policy.Engine,
	exec sandbox.Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gen:         gen,
		analyzer:    an,
		engine:      engine,
		executor:    exec,
		recorder:    audit.Nop{},
		maxAttempts: DefaultMaxAttempts,
		errorWindow: DefaultErrorWindow,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the pipeline for one request and blocks until a terminal
// state is reached. Context cancellation aborts the run; the partial chain
// is still returned.
func (o *Orchestrator) Run(ctx context.Context, req *task.Request) (*Result, error) {
	if err := o.validate(req); err != nil {
		return nil, err
	}
	if err := o.recorder.BeginRun(ctx, req.ExecutionFolder, req.UserQuery); err != nil {
		log.Warnf("audit begin: %v", err)
	}

	res := &Result{}
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		res.Attempts = attempt
		if err := ctx.Err(); err != nil {
			res.State = StateTerminatedCancelled
			res.Err = err
			return o.finish(ctx, req, res), err
		}

		done, err := o.runAttempt(ctx, req, attempt, res)
		if done {
			return o.finish(ctx, req, res), err
		}
	}

	res.State = StateTerminatedExhausted
	res.Err = fmt.Errorf("all %d attempts failed:\n%s", o.maxAttempts, res.Chain.Summary())
	return o.finish(ctx, req, res), nil
}

// runAttempt performs one full generate/analyze/police/execute cycle.
// It returns done=true when the run reached a terminal state.
func (o *Orchestrator) runAttempt(ctx context.Context, req *task.Request, attempt int, res *Result) (bool, error) {
	folder := req.ExecutionFolder

	// GENERATING: exactly one generator call per attempt.
	log.Debugf("run %s attempt %d: %s", folder, attempt, StateGenerating)
	code, err := o.gen.GenerateCode(ctx, req, res.Chain.Window(o.errorWindow))
	if err != nil {
		// Generator infrastructure failure. Terminal: there is no code to
		// attribute the failure to, so feedback cannot help.
		res.State = StateTerminatedGeneration
		res.Err = err
		return true, nil
	}
	res.Code = code

	// ANALYZING: exactly one analysis per attempt.
	log.Debugf("run %s attempt %d: %s", folder, attempt, StateAnalyzing)
	analysis := o.analyzer.Analyze(code)
	if !analysis.SyntaxValid {
		// Syntax-invalid code never reaches policy or the sandbox.
		o.record(ctx, res, task.ErrorRecord{
			Attempt: attempt,
			Code:    code,
			Kind:    task.ErrorKindSyntax,
			Message: analysis.SyntaxErr,
		}, folder)
		return false, nil
	}

	// POLICY_EVALUATING.
	log.Debugf("run %s attempt %d: %s", folder, attempt, StatePolicyEvaluating)
	decision, err := o.engine.Decide(code, analysis)
	if err != nil {
		var rejection *policy.SecurityRejectionError
		if errors.As(err, &rejection) {
			// A security block is a judgment on the action itself, not a
			// code defect. No retry.
			res.Chain = res.Chain.Append(task.ErrorRecord{
				Attempt: attempt,
				Code:    code,
				Kind:    task.ErrorKindSecurity,
				Message: rejection.Error(),
			})
			o.auditError(ctx, folder, res.Chain[len(res.Chain)-1])
			res.State = StateTerminatedRejected
			res.Err = rejection
			return true, nil
		}
		return true, err
	}
	res.Decision = &decision
	if err := o.recorder.RecordDecision(ctx, folder, attempt, decision); err != nil {
		log.Warnf("audit decision: %v", err)
	}

	// AWAITING_APPROVAL.
	if decision.RequiresApproval {
		log.Debugf("run %s attempt %d: %s (%s)", folder, attempt, StateAwaitingApproval, decision.Mode)
		verdict, err := o.decide(ctx, req, code, decision, analysis)
		if err != nil {
			// Fail closed: an unreachable approval channel never clears
			// code to run.
			res.State = StateTerminatedRejected
			res.Err = fmt.Errorf("approval channel failed: %w", err)
			return true, nil
		}
		if verdict != approval.Approved {
			res.State = StateTerminatedRejected
			res.Err = fmt.Errorf("code %s by approver", verdict)
			return true, nil
		}
	}

	// EXECUTING: at most one sandbox run per attempt.
	log.Debugf("run %s attempt %d: %s (%s)", folder, attempt, StateExecuting, decision.Mode)
	outcome, err := o.executor.Run(ctx, sandbox.RunSpec{
		ExecutionFolder: folder,
		Attempt:         attempt,
		Code:            code,
		Mode:            decision.Mode,
	})
	if err != nil {
		// Sandbox infrastructure fault. The code never ran; record it as a
		// runtime failure so the retry loop stays bounded.
		o.record(ctx, res, task.ErrorRecord{
			Attempt:      attempt,
			Code:         code,
			Kind:         task.ErrorKindRuntime,
			Message:      "sandbox failure: " + err.Error(),
			AnalysisNote: "the execution environment failed; the code itself may be fine",
		}, folder)
		return false, nil
	}
	res.Outcome = &outcome

	if outcome.Success {
		res.State = StateSucceeded
		return true, nil
	}

	rec := task.ErrorRecord{
		Attempt: attempt,
		Code:    code,
		Kind:    task.ErrorKindRuntime,
		Message: "execution failed",
	}
	if outcome.Error != nil {
		rec.Kind = outcome.Error.Kind
		rec.Message = outcome.Error.Message
		rec.Traceback = outcome.Error.Traceback
	}
	o.record(ctx, res, rec, folder)
	return false, nil
}

func (o *Orchestrator) decide(ctx context.Context, req *task.Request, code string,
	decision policy.Decision, analysis analyzer.Result) (approval.Verdict, error) {
	if o.approver == nil {
		return approval.Rejected, nil
	}
	verdict, err := o.approver.Decide(ctx, approval.Request{
		ExecutionFolder: req.ExecutionFolder,
		Mode:            decision.Mode,
		Reasoning:       decision.Reasoning,
		Code:            code,
		AnalysisSummary: analysis.Summary(),
	})
	if err != nil {
		return approval.Rejected, err
	}
	if verdict == approval.TimedOut && o.timeoutApproves {
		log.Warnf("run %s: approval timed out, configured to proceed", req.ExecutionFolder)
		return approval.Approved, nil
	}
	return verdict, nil
}

func (o *Orchestrator) record(ctx context.Context, res *Result, rec task.ErrorRecord, folder string) {
	log.Infof("run %s: %s", folder, rec.String())
	res.Chain = res.Chain.Append(rec)
	o.auditError(ctx, folder, rec)
}

func (o *Orchestrator) auditError(ctx context.Context, folder string, rec task.ErrorRecord) {
	if err := o.recorder.RecordError(ctx, folder, rec); err != nil {
		log.Warnf("audit error record: %v", err)
	}
}

func (o *Orchestrator) finish(ctx context.Context, req *task.Request, res *Result) *Result {
	log.Infof("run %s finished: %s after %d attempts", req.ExecutionFolder, res.State, res.Attempts)
	if err := o.recorder.RecordOutcome(ctx, req.ExecutionFolder,
		string(res.State), res.Attempts, res.Succeeded()); err != nil {
		log.Warnf("audit outcome: %v", err)
	}
	return res
}

func (o *Orchestrator) validate(req *task.Request) error {
	switch {
	case req == nil:
		return errors.New("nil request")
	case req.ExecutionFolder == "":
		return errors.New("request has no execution folder")
	case req.UserQuery == "":
		return errors.New("request has no user query")
	}
	return nil
}
