//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-scriptflow/task"
)

// Pool runs pipeline requests concurrently over a bounded worker pool.
// Each request still gets its own isolated workspace tree, so runs never
// interfere with each other.
type Pool struct {
	orch *Orchestrator
	pool *ants.Pool
}

// NewPool creates a Pool running at most size pipelines at once.
func NewPool(orch *Orchestrator, size int) (*Pool, error) {
	p, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Pool{orch: orch, pool: p}, nil
}

// RunResult pairs a request with its pipeline result.
type RunResult struct {
	Request *task.Request
	Result  *Result
	Err     error
}

// RunAll submits every request and blocks until all runs finish. Results
// are returned in request order.
func (p *Pool) RunAll(ctx context.Context, reqs []*task.Request) []RunResult {
	out := make([]RunResult, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		i, req := i, req
		wg.Add(1)
		submitErr := p.pool.Submit(func() {
			defer wg.Done()
			res, err := p.orch.Run(ctx, req)
			out[i] = RunResult{Request: req, Result: res, Err: err}
		})
		if submitErr != nil {
			wg.Done()
			out[i] = RunResult{Request: req, Err: fmt.Errorf("submit run: %w", submitErr)}
		}
	}
	wg.Wait()
	return out
}

// Release shuts the worker pool down. Pending tasks are abandoned.
func (p *Pool) Release() {
	p.pool.Release()
}
