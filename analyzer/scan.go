//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

package analyzer

import (
	"fmt"
	"strings"
)

// Script is the parsed structural representation detectors operate on:
// call targets, imports and string literals, each with source positions.
type Script struct {
	// Calls lists every call site. Name is the dotted target as written
	// ("epics.caput"). Method is true for attribute calls on an arbitrary
	// expression, e.g. the ".put" in `PV("X:Y").put(1)`.
	Calls []Call
	// Imports lists import and from-import statements.
	Imports []Import
	// Strings lists string literals.
	Strings []StringLit
}

// Call is a single call site.
type Call struct {
	Name   string
	Method bool
	Pos    Position
}

// Import is one import statement entry.
type Import struct {
	// Module is the imported module path ("epics", "os.path").
	Module string
	// Alias is the local binding for "import M as A", empty otherwise.
	Alias string
	// Names holds the imported names for from-imports.
	Names []ImportedName
	Pos   Position
}

// ImportedName is one binding of a from-import.
type ImportedName struct {
	// Name is the name inside the module.
	Name string
	// Local is the name the binding is visible under; equals Name unless
	// an "as" clause renamed it.
	Local string
}

// StringLit is a string literal with its position.
type StringLit struct {
	Value string
	Pos   Position
}

// ImportsModule reports whether the script imports the module or any of
// its submodules.
func (s *Script) ImportsModule(module string) bool {
	for _, imp := range s.Imports {
		if imp.Module == module || strings.HasPrefix(imp.Module, module+".") {
			return true
		}
	}
	return false
}

// SyntaxError describes a parse failure.
type SyntaxError struct {
	Pos Position
	Msg string
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Pos.Line, e.Msg)
}

const tabWidth = 8

type bracket struct {
	r   rune
	pos Position
}

type scanner struct {
	src  []rune
	i    int
	line int
	col  int

	script *Script

	stack        []bracket
	indents      []int
	expectIndent bool
	continuation bool

	// logical holds the current depth-0 logical line with string literals
	// blanked, used for import parsing and block detection.
	logical    strings.Builder
	logicalPos Position
	lastSig    rune
}

// Parse validates the syntax of the candidate Python code and extracts the
// structural representation used by detectors. The check is structural
// (delimiters, strings, indentation, block structure); it is intentionally
// more permissive than a full grammar but rejects everything a later
// interpreter parse would reject for those classes of error.
func Parse(code string) (*Script, error) {
	s := &scanner{
		src:     []rune(code),
		line:    1,
		col:     1,
		script:  &Script{},
		indents: []int{0},
	}
	if err := s.run(); err != nil {
		return nil, err
	}
	return s.script, nil
}

func (s *scanner) errf(pos Position, format string, args ...any) error {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (s *scanner) eof() bool { return s.i >= len(s.src) }

func (s *scanner) peek() rune {
	if s.eof() {
		return 0
	}
	return s.src[s.i]
}

func (s *scanner) peekAt(off int) rune {
	if s.i+off >= len(s.src) {
		return 0
	}
	return s.src[s.i+off]
}

func (s *scanner) advance() rune {
	r := s.src[s.i]
	s.i++
	if r == '\n' {
		s.line++
		s.col = 1
	} else {
		s.col++
	}
	return r
}

func (s *scanner) pos() Position { return Position{Line: s.line, Col: s.col} }

func (s *scanner) run() error {
	atLineStart := true
	for !s.eof() {
		if atLineStart && len(s.stack) == 0 && !s.continuation {
			skip, err := s.handleIndent()
			if err != nil {
				return err
			}
			if skip {
				atLineStart = true
				continue
			}
		}
		s.continuation = false
		atLineStart = false

		r := s.peek()
		switch {
		case r == '\n':
			s.advance()
			if len(s.stack) == 0 {
				if err := s.endLogicalLine(); err != nil {
					return err
				}
			}
			atLineStart = true
		case r == '#':
			for !s.eof() && s.peek() != '\n' {
				s.advance()
			}
		case r == '\\' && s.peekAt(1) == '\n':
			s.advance()
			s.advance()
			s.continuation = true
			atLineStart = true
		case r == '\'' || r == '"':
			if err := s.scanString(""); err != nil {
				return err
			}
		case isIdentStart(r):
			if err := s.scanIdentifier(); err != nil {
				return err
			}
		case r == '(' || r == '[' || r == '{':
			s.stack = append(s.stack, bracket{r: r, pos: s.pos()})
			s.writeLogical(r)
			s.advance()
		case r == ')' || r == ']' || r == '}':
			if err := s.closeBracket(r); err != nil {
				return err
			}
		default:
			if r != ' ' && r != '\t' && r != '\r' {
				s.writeLogical(r)
			}
			s.advance()
		}
	}
	if len(s.stack) > 0 {
		top := s.stack[len(s.stack)-1]
		return s.errf(top.pos, "'%c' was never closed", top.r)
	}
	if err := s.endLogicalLine(); err != nil {
		return err
	}
	if s.expectIndent {
		return s.errf(s.pos(), "expected an indented block")
	}
	return nil
}

// handleIndent consumes leading whitespace of a physical line and applies
// block-structure rules. It returns skip=true for blank and comment-only
// lines, which carry no indentation significance.
func (s *scanner) handleIndent() (bool, error) {
	indent := 0
	for !s.eof() {
		switch s.peek() {
		case ' ':
			indent++
			s.advance()
		case '\t':
			indent += tabWidth - indent%tabWidth
			s.advance()
		case '\r':
			s.advance()
		default:
			goto measured
		}
	}
measured:
	if s.eof() || s.peek() == '\n' || s.peek() == '#' {
		// Blank or comment-only line: consume it without indent checks.
		for !s.eof() && s.peek() != '\n' {
			s.advance()
		}
		if !s.eof() {
			s.advance()
		}
		return true, nil
	}

	top := s.indents[len(s.indents)-1]
	switch {
	case s.expectIndent:
		if indent <= top {
			return false, s.errf(s.pos(), "expected an indented block")
		}
		s.indents = append(s.indents, indent)
		s.expectIndent = false
	case indent > top:
		return false, s.errf(s.pos(), "unexpected indent")
	case indent < top:
		for len(s.indents) > 0 && s.indents[len(s.indents)-1] > indent {
			s.indents = s.indents[:len(s.indents)-1]
		}
		if len(s.indents) == 0 || s.indents[len(s.indents)-1] != indent {
			return false, s.errf(s.pos(),
				"unindent does not match any outer indentation level")
		}
	}
	if s.logical.Len() == 0 {
		s.logicalPos = s.pos()
	}
	return false, nil
}

func (s *scanner) closeBracket(r rune) error {
	if len(s.stack) == 0 {
		return s.errf(s.pos(), "unmatched '%c'", r)
	}
	top := s.stack[len(s.stack)-1]
	if opens(r) != top.r {
		return s.errf(s.pos(),
			"closing '%c' does not match opening '%c' on line %d",
			r, top.r, top.pos.Line)
	}
	s.stack = s.stack[:len(s.stack)-1]
	s.writeLogical(r)
	s.advance()
	// An attribute call directly on the closed expression, e.g.
	// PV("X:Y").put(1), is recorded as a method call.
	s.scanTrailingMethod()
	return nil
}

func opens(close rune) rune {
	switch close {
	case ')':
		return '('
	case ']':
		return '['
	case '}':
		return '{'
	}
	return 0
}

func (s *scanner) scanTrailingMethod() {
	j := s.i
	for j < len(s.src) && (s.src[j] == ' ' || s.src[j] == '\t') {
		j++
	}
	if j >= len(s.src) || s.src[j] != '.' {
		return
	}
	j++
	start := j
	for j < len(s.src) && isIdentPart(s.src[j]) {
		j++
	}
	if j == start {
		return
	}
	name := string(s.src[start:j])
	k := j
	for k < len(s.src) && (s.src[k] == ' ' || s.src[k] == '\t') {
		k++
	}
	if k < len(s.src) && s.src[k] == '(' {
		s.script.Calls = append(s.script.Calls, Call{
			Name:   name,
			Method: true,
			Pos:    s.pos(),
		})
	}
	// Consumption continues in the main loop; this is lookahead only.
}

func (s *scanner) scanIdentifier() error {
	startPos := s.pos()
	word := s.readIdent()

	// String prefixes: r"", b'', f"""...""" and two-letter combinations.
	if isStringPrefix(word) && (s.peek() == '\'' || s.peek() == '"') {
		return s.scanString(word)
	}

	// Dotted chain: ident(.ident)*
	name := word
	for {
		j := s.i
		for j < len(s.src) && (s.src[j] == ' ' || s.src[j] == '\t') {
			j++
		}
		if j >= len(s.src) || s.src[j] != '.' || !isIdentPart(s.peekAt(j-s.i+1)) {
			break
		}
		for s.i <= j {
			s.advance()
		}
		name = name + "." + s.readIdent()
	}

	s.writeLogicalWord(name)

	// A chain immediately followed by '(' is a call site.
	j := s.i
	for j < len(s.src) && (s.src[j] == ' ' || s.src[j] == '\t') {
		j++
	}
	if j < len(s.src) && s.src[j] == '(' {
		s.script.Calls = append(s.script.Calls, Call{Name: name, Pos: startPos})
	}
	return nil
}

func (s *scanner) readIdent() string {
	start := s.i
	for !s.eof() && isIdentPart(s.peek()) {
		s.advance()
	}
	return string(s.src[start:s.i])
}

func (s *scanner) scanString(prefix string) error {
	startPos := s.pos()
	quote := s.advance()
	triple := false
	if s.peek() == quote && s.peekAt(1) == quote {
		s.advance()
		s.advance()
		triple = true
	}
	raw := strings.ContainsAny(strings.ToLower(prefix), "r")
	var value strings.Builder
	for {
		if s.eof() {
			if triple {
				return s.errf(startPos, "unterminated triple-quoted string literal")
			}
			return s.errf(startPos, "unterminated string literal")
		}
		r := s.peek()
		if r == '\n' && !triple {
			return s.errf(startPos, "unterminated string literal")
		}
		if r == '\\' && !raw {
			s.advance()
			if !s.eof() {
				value.WriteRune(s.advance())
			}
			continue
		}
		if r == quote {
			if !triple {
				s.advance()
				break
			}
			if s.peekAt(1) == quote && s.peekAt(2) == quote {
				s.advance()
				s.advance()
				s.advance()
				break
			}
		}
		value.WriteRune(s.advance())
	}
	s.script.Strings = append(s.script.Strings, StringLit{
		Value: value.String(),
		Pos:   startPos,
	})
	// Strings are blanked in the logical line so import parsing and block
	// detection cannot be confused by their contents.
	s.writeLogical('\x01')
	s.scanTrailingMethod()
	return nil
}

func (s *scanner) writeLogical(r rune) {
	if len(s.stack) <= 1 {
		s.logical.WriteRune(r)
	}
	s.lastSig = r
}

func (s *scanner) writeLogicalWord(w string) {
	if len(s.stack) == 0 {
		if s.logical.Len() > 0 {
			s.logical.WriteRune(' ')
		}
		s.logical.WriteString(w)
	}
	s.lastSig = 'a'
	if w != "" {
		s.lastSig = rune(w[len(w)-1])
	}
}

func (s *scanner) endLogicalLine() error {
	text := strings.TrimSpace(s.logical.String())
	s.logical.Reset()
	if text == "" {
		return nil
	}
	if s.lastSig == ':' {
		s.expectIndent = true
	}
	if strings.HasPrefix(text, "import ") || strings.HasPrefix(text, "from ") {
		if err := s.parseImport(text, s.logicalPos); err != nil {
			return err
		}
	}
	return nil
}

func (s *scanner) parseImport(text string, pos Position) error {
	if strings.HasPrefix(text, "import ") {
		rest := strings.TrimPrefix(text, "import ")
		for _, part := range strings.Split(rest, ",") {
			fields := strings.Fields(part)
			if len(fields) == 0 {
				return s.errf(pos, "invalid import statement")
			}
			imp := Import{Module: fields[0], Pos: pos}
			// import M as A binds the module under A.
			if len(fields) == 3 && fields[1] == "as" {
				imp.Alias = fields[2]
			}
			s.script.Imports = append(s.script.Imports, imp)
		}
		return nil
	}
	// from M import a, b as c
	rest := strings.TrimPrefix(text, "from ")
	idx := strings.Index(rest, " import ")
	if idx < 0 {
		return s.errf(pos, "invalid from-import statement")
	}
	module := strings.TrimSpace(rest[:idx])
	imp := Import{Module: module, Pos: pos}
	for _, part := range strings.Split(rest[idx+len(" import "):], ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			return s.errf(pos, "invalid from-import statement")
		}
		name := ImportedName{Name: fields[0], Local: fields[0]}
		if len(fields) == 3 && fields[1] == "as" {
			name.Local = fields[2]
		}
		imp.Names = append(imp.Names, name)
	}
	s.script.Imports = append(s.script.Imports, imp)
	return nil
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}

var stringPrefixes = map[string]bool{
	"r": true, "b": true, "f": true, "u": true,
	"rb": true, "br": true, "fr": true, "rf": true,
}

func isStringPrefix(word string) bool {
	return stringPrefixes[strings.ToLower(word)]
}
