//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

package analyzer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-scriptflow/analyzer"
)

func TestAnalyzeSyntaxError(t *testing.T) {
	res := analyzer.New().Analyze("def broken(:\n    pass\n")
	assert.False(t, res.SyntaxValid)
	assert.NotEmpty(t, res.SyntaxErr)
	assert.Empty(t, res.Patterns, "no pattern data for unparseable code")
}

func TestAnalyzeDetectsPatterns(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		want    []analyzer.PatternTag
		wantNot []analyzer.PatternTag
	}{
		{
			name: "clean computation",
			code: "results = {\"value\": 42}\n",
			wantNot: []analyzer.PatternTag{
				analyzer.PatternFileIO, analyzer.PatternControlWrite,
			},
		},
		{
			name: "file open",
			code: "f = open(\"data.csv\")\nresults = {\"rows\": 1}\n",
			want: []analyzer.PatternTag{analyzer.PatternFileIO},
		},
		{
			name: "shutil import alone",
			code: "import shutil\nresults = {}\n",
			want: []analyzer.PatternTag{analyzer.PatternFileIO},
		},
		{
			name: "network request",
			code: "import requests\nr = requests.get(\"http://example.com\")\n",
			want: []analyzer.PatternTag{analyzer.PatternNetwork},
		},
		{
			name: "subprocess run",
			code: "import subprocess\nsubprocess.run([\"ls\"])\n",
			want: []analyzer.PatternTag{analyzer.PatternSubprocess},
		},
		{
			name: "database connect",
			code: "import sqlite3\ncon = sqlite3.connect(\"a.db\")\n",
			want: []analyzer.PatternTag{analyzer.PatternDatabase},
		},
		{
			name: "control read via caget",
			code: "import epics\nv = epics.caget(\"SR:BPM1:X\")\n",
			want:    []analyzer.PatternTag{analyzer.PatternControlRead},
			wantNot: []analyzer.PatternTag{analyzer.PatternControlWrite},
		},
		{
			name: "control write via caput",
			code: "import epics\nepics.caput(\"SR:MAG:Q1\", 1.5)\n",
			want: []analyzer.PatternTag{analyzer.PatternControlWrite},
		},
		{
			name: "control write via from-import",
			code: "from epics import caput\ncaput(\"SR:MAG:Q1\", 1.5)\n",
			want: []analyzer.PatternTag{analyzer.PatternControlWrite},
		},
		{
			name: "control write via aliased from-import",
			code: "from epics import caput as cp\ncp(\"SR:MAG:Q1\", 9.9)\n",
			want: []analyzer.PatternTag{analyzer.PatternControlWrite},
		},
		{
			name: "control read via aliased from-import",
			code: "from epics import caget as read_pv\nv = read_pv(\"SR:BPM1:X\")\n",
			want:    []analyzer.PatternTag{analyzer.PatternControlRead},
			wantNot: []analyzer.PatternTag{analyzer.PatternControlWrite},
		},
		{
			name: "control write via module alias",
			code: "import epics as e\ne.caput(\"SR:MAG:Q1\", 1.5)\n",
			want: []analyzer.PatternTag{analyzer.PatternControlWrite},
		},
		{
			name: "network call via aliased from-import",
			code: "from requests import get as fetch\nr = fetch(\"http://example.com\")\n",
			want: []analyzer.PatternTag{analyzer.PatternNetwork},
		},
		{
			name: "control write via PV method",
			code: "import epics\nepics.PV(\"SR:MAG:Q1\").put(1.5)\n",
			want: []analyzer.PatternTag{analyzer.PatternControlWrite},
		},
		{
			name: "put method without control import stays quiet",
			code: "q = queue.Queue()\nq.put(1)\n",
			wantNot: []analyzer.PatternTag{analyzer.PatternControlWrite},
		},
		{
			name: "read and write together",
			code: "import epics\nv = epics.caget(\"SR:BPM1:X\")\nepics.caput(\"SR:MAG:Q1\", v)\n",
			want: []analyzer.PatternTag{
				analyzer.PatternControlRead, analyzer.PatternControlWrite,
			},
		},
	}
	a := analyzer.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := a.Analyze(tt.code)
			require.True(t, res.SyntaxValid, res.SyntaxErr)
			for _, tag := range tt.want {
				assert.True(t, res.Has(tag), "expected %s", tag)
			}
			for _, tag := range tt.wantNot {
				assert.False(t, res.Has(tag), "did not expect %s", tag)
			}
		})
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	code := "import epics\nepics.caput(\"SR:MAG:Q1\", 1.5)\nf = open(\"log.txt\", \"w\")\n"
	a := analyzer.New()

	first := a.Analyze(code)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, a.Analyze(code), "same code must yield the same result")
	}
}

func TestAnalyzeRecordsPositions(t *testing.T) {
	res := analyzer.New().Analyze("import epics\n\nepics.caput(\"SR:MAG:Q1\", 0)\n")
	require.True(t, res.SyntaxValid)
	locs := res.Patterns[analyzer.PatternControlWrite]
	require.NotEmpty(t, locs)
	assert.Equal(t, 3, locs[0].Line)
}

func TestResultSummary(t *testing.T) {
	res := analyzer.New().Analyze("results = {}\n")
	assert.Equal(t, "no flagged patterns", res.Summary())

	res = analyzer.New().Analyze("def broken(:\n")
	assert.Contains(t, res.Summary(), "syntax invalid")
}

func TestWithoutDefaultDetectors(t *testing.T) {
	a := analyzer.New(analyzer.WithoutDefaultDetectors())
	res := a.Analyze("import epics\nepics.caput(\"SR:MAG:Q1\", 1.5)\n")
	require.True(t, res.SyntaxValid)
	assert.Empty(t, res.Patterns)
}
