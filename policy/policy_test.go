//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

package policy_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-scriptflow/analyzer"
	"trpc.group/trpc-go/trpc-scriptflow/policy"
)

func analyze(t *testing.T, code string) analyzer.Result {
	t.Helper()
	res := analyzer.New().Analyze(code)
	require.True(t, res.SyntaxValid, res.SyntaxErr)
	return res
}

func TestDecideTable(t *testing.T) {
	tests := []struct {
		name         string
		code         string
		wantMode     policy.ExecutionMode
		wantApproval bool
	}{
		{
			name:         "clean code runs read only without approval",
			code:         "results = {\"value\": 42}\n",
			wantMode:     policy.ModeReadOnly,
			wantApproval: false,
		},
		{
			name:         "control reads run read only without approval",
			code:         "import epics\nresults = {\"x\": epics.caget(\"SR:BPM1:X\")}\n",
			wantMode:     policy.ModeReadOnly,
			wantApproval: false,
		},
		{
			name:         "file io selects write enabled",
			code:         "f = open(\"out.txt\", \"w\")\nresults = {}\n",
			wantMode:     policy.ModeWriteEnabled,
			wantApproval: true,
		},
		{
			name:         "network selects write enabled",
			code:         "import requests\nresults = {\"status\": requests.get(\"http://a\").status_code}\n",
			wantMode:     policy.ModeWriteEnabled,
			wantApproval: true,
		},
		{
			name:         "control write dominates everything",
			code:         "import epics\nf = open(\"log.txt\", \"w\")\nepics.caput(\"SR:MAG:Q1\", 1.5)\nresults = {}\n",
			wantMode:     policy.ModeControlWrite,
			wantApproval: true,
		},
	}
	engine := policy.NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := engine.Decide(tt.code, analyze(t, tt.code))
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, dec.Mode)
			assert.Equal(t, tt.wantApproval, dec.RequiresApproval)
			assert.NotEmpty(t, dec.Reasoning)
		})
	}
}

func TestDecideWriteApprovalConfigurable(t *testing.T) {
	code := "f = open(\"out.txt\", \"w\")\nresults = {}\n"
	res := analyze(t, code)

	relaxed := policy.NewEngine(policy.WithWriteApproval(false))
	dec, err := relaxed.Decide(code, res)
	require.NoError(t, err)
	assert.Equal(t, policy.ModeWriteEnabled, dec.Mode)
	assert.False(t, dec.RequiresApproval)
}

// Approval for hardware writes must hold under every engine configuration.
func TestControlWriteApprovalFloor(t *testing.T) {
	code := "import epics\nepics.caput(\"SR:MAG:Q1\", 1.5)\nresults = {}\n"
	res := analyze(t, code)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		engine := policy.NewEngine(policy.WithWriteApproval(rng.Intn(2) == 0))
		dec, err := engine.Decide(code, res)
		require.NoError(t, err)
		assert.Equal(t, policy.ModeControlWrite, dec.Mode)
		assert.True(t, dec.RequiresApproval, "iteration %d: approval floor violated", i)
	}
}

type fakeDomain struct {
	name    string
	finding policy.DomainFinding
	calls   int
}

func (f *fakeDomain) Name() string { return f.name }
func (f *fakeDomain) Review(string, analyzer.Result) policy.DomainFinding {
	f.calls++
	return f.finding
}

func TestDecideDomainBlock(t *testing.T) {
	blocker := &fakeDomain{
		name:    "site_rules",
		finding: policy.DomainFinding{Block: true, Reason: "forbidden subsystem"},
	}
	engine := policy.NewEngine(policy.WithDomainAnalyzer(blocker))

	code := "results = {}\n"
	_, err := engine.Decide(code, analyze(t, code))
	require.Error(t, err)

	var rejection *policy.SecurityRejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, "site_rules", rejection.Analyzer)
	assert.Contains(t, rejection.Reason, "forbidden subsystem")
}

func TestDecideDomainForceApproval(t *testing.T) {
	forcer := &fakeDomain{
		name:    "site_rules",
		finding: policy.DomainFinding{ForceApproval: true, Reason: "sensitive area"},
	}
	engine := policy.NewEngine(policy.WithDomainAnalyzer(forcer))

	code := "results = {\"value\": 42}\n"
	dec, err := engine.Decide(code, analyze(t, code))
	require.NoError(t, err)
	assert.Equal(t, policy.ModeReadOnly, dec.Mode, "forcing approval must not raise the mode")
	assert.True(t, dec.RequiresApproval)
	assert.Contains(t, dec.Reasoning, "sensitive area")
}

func TestDecideDeterministic(t *testing.T) {
	code := "import epics\nepics.caput(\"SR:MAG:Q1\", 1.5)\nresults = {}\n"
	res := analyze(t, code)
	engine := policy.NewEngine()

	first, err := engine.Decide(code, res)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := engine.Decide(code, res)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
