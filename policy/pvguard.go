//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

package policy

import (
	"fmt"
	"regexp"
	"strings"

	"trpc.group/trpc-go/trpc-scriptflow/analyzer"
)

// pvAddressPattern matches EPICS-style process variable addresses inside
// string literals, e.g. "SR01C:BPM2:X" or "LINAC:GUN:HV.RBV".
var pvAddressPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*(:[A-Za-z0-9_.-]+)+$`)

// PVGuard is a DomainAnalyzer that keeps generated scripts inside an
// allowed process-variable namespace. Writes addressed outside the allowed
// prefixes are hard-blocked; reads outside it only force approval.
type PVGuard struct {
	allowedPrefixes []string
}

// NewPVGuard creates a guard allowing PV addresses with the given
// prefixes. With no prefixes configured the guard is inert.
func NewPVGuard(allowedPrefixes ...string) *PVGuard {
	return &PVGuard{allowedPrefixes: allowedPrefixes}
}

// Name identifies the analyzer for audit and error reporting.
func (g *PVGuard) Name() string { return "pv_guard" }

// Review scans string literals that look like PV addresses and compares
// them against the allowed namespace.
func (g *PVGuard) Review(code string, res analyzer.Result) DomainFinding {
	if len(g.allowedPrefixes) == 0 {
		return DomainFinding{}
	}
	script, err := analyzer.Parse(code)
	if err != nil {
		// The orchestrator never reaches policy with unparseable code;
		// treat it as nothing to review.
		return DomainFinding{}
	}
	var outside []string
	for _, lit := range script.Strings {
		if !pvAddressPattern.MatchString(lit.Value) {
			continue
		}
		if !g.allowed(lit.Value) {
			outside = append(outside, fmt.Sprintf("%s (line %d)", lit.Value, lit.Pos.Line))
		}
	}
	if len(outside) == 0 {
		return DomainFinding{}
	}
	reason := "PV addresses outside allowed namespace: " + strings.Join(outside, ", ")
	if res.Has(analyzer.PatternControlWrite) {
		return DomainFinding{Block: true, Reason: reason}
	}
	return DomainFinding{ForceApproval: true, Reason: reason}
}

func (g *PVGuard) allowed(addr string) bool {
	for _, prefix := range g.allowedPrefixes {
		if strings.HasPrefix(addr, prefix) {
			return true
		}
	}
	return false
}
