//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

package analyzer

import "strings"

// controlModules are the client libraries that talk to the control system.
// A method call like .put(...) is only treated as a control operation when
// one of these is imported; bare caget/caput style calls are always flagged.
var controlModules = []string{"epics", "pyepics", "cothread", "caproto", "p4p", "pvaccess"}

// DefaultDetectors returns the built-in detector set, one per pattern tag.
// Each entry is independent; facility-specific detectors are registered on
// the Analyzer alongside these.
func DefaultDetectors() []Detector {
	return []Detector{
		// File-open and filesystem-mutating calls.
		&usageDetector{name: "file_io", tag: PatternFileIO, rule: matchRule{
			modules: []string{"shutil", "tempfile"},
			calls: []string{
				"open", "io.open", "os.remove", "os.unlink", "os.rename",
				"os.makedirs", "os.mkdir", "os.rmdir", "shutil.copy",
				"shutil.copyfile", "shutil.move", "shutil.rmtree",
			},
		}},
		// Socket and HTTP client usage.
		&usageDetector{name: "network", tag: PatternNetwork, rule: matchRule{
			modules: []string{
				"socket", "requests", "urllib", "urllib3", "httpx",
				"aiohttp", "ftplib", "smtplib", "http",
			},
			calls: []string{
				"requests.get", "requests.post", "requests.put",
				"requests.delete", "socket.socket", "urllib.request.urlopen",
			},
		}},
		// Child-process and shell execution.
		&usageDetector{name: "subprocess", tag: PatternSubprocess, rule: matchRule{
			modules: []string{"subprocess", "pty"},
			calls: []string{
				"subprocess.run", "subprocess.Popen", "subprocess.call",
				"subprocess.check_call", "subprocess.check_output",
				"os.system", "os.popen", "os.execv", "os.execvp", "os.spawnl",
			},
		}},
		// Database driver usage.
		&usageDetector{name: "database", tag: PatternDatabase, rule: matchRule{
			modules: []string{
				"sqlite3", "psycopg2", "pymysql", "mysql", "sqlalchemy",
				"pymongo", "redis", "cx_Oracle",
			},
			calls: []string{
				"sqlite3.connect", "psycopg2.connect", "pymysql.connect",
			},
		}},
		// Control-system get-style operations. A PV constructor counts as
		// a read: holding a channel handle already implies monitor/get
		// traffic, and the bias is toward flagging.
		&usageDetector{name: "control_read", tag: PatternControlRead, rule: matchRule{
			calls: []string{
				"caget", "caget_many", "epics.caget", "epics.caget_many",
				"PV", "epics.PV", "cothread.catools.caget",
			},
			methods:      []string{"get", "caget"},
			controlGated: true,
		}},
		// Control-system put/set-style operations. A false negative here
		// is an analysis-soundness bug; when in doubt the detector flags.
		&usageDetector{name: "control_write", tag: PatternControlWrite, rule: matchRule{
			calls: []string{
				"caput", "caput_many", "epics.caput", "epics.caput_many",
				"cothread.catools.caput",
			},
			methods:      []string{"put", "caput", "write"},
			controlGated: true,
		}},
	}
}

// matchRule describes what a usageDetector looks for.
type matchRule struct {
	// modules flag any import of the module or a submodule.
	modules []string
	// calls flag exact dotted call targets; epics.* entries also match the
	// bare name brought in by a from-import.
	calls []string
	// methods flag attribute calls with these names, gated on a control
	// module import when controlGated is true.
	methods      []string
	controlGated bool
}

// usageDetector is the shared structural matcher behind the built-in
// detectors: it flags imports of known modules and calls of known targets.
type usageDetector struct {
	name string
	tag  PatternTag
	rule matchRule
}

func (d *usageDetector) Name() string       { return d.name }
func (d *usageDetector) Tags() []PatternTag { return []PatternTag{d.tag} }

func (d *usageDetector) Detect(s *Script) []Finding {
	var out []Finding
	for _, mod := range d.rule.modules {
		for _, imp := range s.Imports {
			if imp.Module == mod || strings.HasPrefix(imp.Module, mod+".") {
				out = append(out, Finding{
					Tag:    d.tag,
					Pos:    imp.Pos,
					Detail: "import " + imp.Module,
				})
			}
		}
	}
	gateOpen := !d.rule.controlGated || importsAnyModule(s, controlModules)
	for _, call := range canonicalCalls(s) {
		if d.matchCall(call, gateOpen) {
			out = append(out, Finding{
				Tag:    d.tag,
				Pos:    call.Pos,
				Detail: "call " + call.Name,
			})
		}
	}
	return out
}

func (d *usageDetector) matchCall(call Call, gateOpen bool) bool {
	for _, target := range d.rule.calls {
		if call.Name == target {
			return true
		}
		if idx := strings.LastIndex(target, "."); idx >= 0 &&
			call.Name == target[idx+1:] && strings.HasPrefix(target, "epics.") {
			return true
		}
	}
	if !gateOpen {
		return false
	}
	last := call.Name
	if idx := strings.LastIndex(last, "."); idx >= 0 {
		last = last[idx+1:]
	}
	for _, m := range d.rule.methods {
		if last == m {
			return true
		}
	}
	return false
}

// canonicalCalls rewrites call targets to the names the source modules
// export, so aliasing cannot hide an operation: `import epics as e` makes
// e.caput a call of epics.caput, and `from epics import caput as cp` makes
// cp a call of epics.caput.
func canonicalCalls(s *Script) []Call {
	moduleAliases := make(map[string]string)
	fromBindings := make(map[string]string)
	for _, imp := range s.Imports {
		if imp.Alias != "" {
			moduleAliases[imp.Alias] = imp.Module
		}
		for _, n := range imp.Names {
			fromBindings[n.Local] = imp.Module + "." + n.Name
		}
	}
	out := make([]Call, len(s.Calls))
	for i, c := range s.Calls {
		name := c.Name
		if idx := strings.Index(name, "."); idx >= 0 {
			if mod, ok := moduleAliases[name[:idx]]; ok {
				name = mod + name[idx:]
			}
		} else if orig, ok := fromBindings[name]; ok {
			name = orig
		}
		out[i] = Call{Name: name, Method: c.Method, Pos: c.Pos}
	}
	return out
}

func importsAnyModule(s *Script, modules []string) bool {
	for _, m := range modules {
		if s.ImportsModule(m) {
			return true
		}
	}
	return false
}
