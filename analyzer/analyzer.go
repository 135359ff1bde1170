//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

// Package analyzer statically classifies candidate Python scripts before
// they are allowed anywhere near a sandbox. It first validates syntax by
// parsing the code into a structural representation, then runs a set of
// independent pattern detectors over that representation. Detection never
// executes the code.
//
// Detectors are deliberately biased toward false positives: an unnecessary
// approval step is cheap, a missed hardware write is not.
package analyzer

import (
	"fmt"
	"sort"
	"strings"
)

// PatternTag classifies a construct a detector recognized.
type PatternTag string

// Pattern tags attached by the built-in detectors.
const (
	PatternFileIO       PatternTag = "FILE_IO"
	PatternNetwork      PatternTag = "NETWORK"
	PatternSubprocess   PatternTag = "SUBPROCESS"
	PatternDatabase     PatternTag = "DATABASE"
	PatternControlRead  PatternTag = "CONTROL_READ"
	PatternControlWrite PatternTag = "CONTROL_WRITE"
)

// Position is a source location, 1-based.
type Position struct {
	Line int
	Col  int
}

// String renders the position as line:col.
func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// Result is the outcome of analyzing one candidate script. It is produced
// fresh per attempt and never mutated afterward.
type Result struct {
	// SyntaxValid is false when the code could not be parsed. No pattern
	// data is produced in that case.
	SyntaxValid bool
	// SyntaxErr describes the parse failure when SyntaxValid is false.
	SyntaxErr string
	// Patterns maps each detected tag to the source positions that
	// triggered it.
	Patterns map[PatternTag][]Position
}

// Has reports whether the given tag was detected.
func (r Result) Has(tag PatternTag) bool {
	return len(r.Patterns[tag]) > 0
}

// Tags returns the detected tags in stable sorted order.
func (r Result) Tags() []PatternTag {
	tags := make([]PatternTag, 0, len(r.Patterns))
	for tag := range r.Patterns {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Summary renders the result for audit display and approval payloads.
func (r Result) Summary() string {
	if !r.SyntaxValid {
		return "syntax invalid: " + r.SyntaxErr
	}
	if len(r.Patterns) == 0 {
		return "no flagged patterns"
	}
	var b strings.Builder
	for i, tag := range r.Tags() {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(string(tag))
		b.WriteString(" at ")
		locs := r.Patterns[tag]
		for j, pos := range locs {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pos.String())
		}
	}
	return b.String()
}

// Finding is a single detector hit.
type Finding struct {
	Tag    PatternTag
	Pos    Position
	Detail string
}

// Detector recognizes one or more pattern tags over a parsed script.
// Detectors must be independent of each other and order-independent, and
// must not execute the code.
type Detector interface {
	// Name identifies the detector for logs and audit.
	Name() string
	// Tags lists the tags this detector may attach.
	Tags() []PatternTag
	// Detect returns all hits over the parsed script.
	Detect(s *Script) []Finding
}

// Analyzer runs the registered detectors over candidate code.
type Analyzer struct {
	detectors []Detector
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithDetector registers an additional detector. Facility-specific
// detectors are added this way without touching the core set.
func WithDetector(d Detector) Option {
	return func(a *Analyzer) {
		a.detectors = append(a.detectors, d)
	}
}

// WithoutDefaultDetectors drops the built-in detector set; only detectors
// added via WithDetector run. Intended for tests.
func WithoutDefaultDetectors() Option {
	return func(a *Analyzer) {
		a.detectors = nil
	}
}

// New creates an Analyzer with the built-in detectors registered.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{detectors: DefaultDetectors()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze parses the code and, when it is syntactically valid, runs every
// registered detector. Detection is deterministic: the same code always
// yields the same pattern set.
func (a *Analyzer) Analyze(code string) Result {
	script, err := Parse(code)
	if err != nil {
		return Result{SyntaxValid: false, SyntaxErr: err.Error()}
	}
	patterns := make(map[PatternTag][]Position)
	for _, d := range a.detectors {
		for _, f := range d.Detect(script) {
			patterns[f.Tag] = append(patterns[f.Tag], f.Pos)
		}
	}
	return Result{SyntaxValid: true, Patterns: patterns}
}
