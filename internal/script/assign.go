package script

import (
	"fmt"
	"strings"
)

// preprocess rewrites kelora's `e.field = value` / `e["field"] = value` /
// `conf.field = value` / `e = ()` mutation syntax, and the bare `()` unit
// literal, into calls against the set/skip/unit builtins before handing the
// source to expr.Compile.
//
// expr-lang is a pure expression language: its parser (parser.go's
// parseSequenceExpression) only ever consumes "=" inside its own
// `let x = ...;` declaration grammar, so `e.tag = "bad"` fails to parse on
// its own, and its grouping parens (parsePrimary's "(" case) always expect a
// contained expression, so a bare `()` fails to parse too. Scripts are still
// written and documented using both forms, so both rewrites happen at the
// source-text level, ahead of parsing, rather than changing the surface
// syntax scripts use.
//
// Statements are split on top-level ';', the same separator expr-lang's own
// sequence expressions use, so nested if-blocks and predicate bodies are
// left untouched.
func preprocess(source string) (string, error) {
	source = replaceUnitLiterals(source)
	stmts := splitStatements(source)
	for i, stmt := range stmts {
		rewritten, err := rewriteAssignment(stmt)
		if err != nil {
			return "", err
		}
		stmts[i] = rewritten
	}
	return strings.Join(stmts, "; "), nil
}

// replaceUnitLiterals rewrites every bare `()` (the unit() sentinel
// literal, not a zero-arg call) into a call to the unit builtin. A `()` is
// bare unless the last non-whitespace character already written is part of
// an identifier, ')', or ']' — e.g. `now()` and `e.foo()` are left alone,
// while `e.tag = ()` and `track_sum("bytes", ())` are rewritten.
func replaceUnitLiterals(source string) string {
	var out strings.Builder
	var inStr byte
	for i := 0; i < len(source); i++ {
		c := source[i]
		if inStr != 0 {
			out.WriteByte(c)
			if c == '\\' && i+1 < len(source) {
				i++
				out.WriteByte(source[i])
				continue
			}
			if c == inStr {
				inStr = 0
			}
			continue
		}
		if c == '"' || c == '\'' || c == '`' {
			inStr = c
			out.WriteByte(c)
			continue
		}
		if c == '(' {
			j := i + 1
			for j < len(source) && isSpaceByte(source[j]) {
				j++
			}
			if j < len(source) && source[j] == ')' && !precededByCallable(out.String()) {
				out.WriteString("unit()")
				i = j
				continue
			}
		}
		out.WriteByte(c)
	}
	return out.String()
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func precededByCallable(written string) bool {
	i := len(written) - 1
	for i >= 0 && isSpaceByte(written[i]) {
		i--
	}
	if i < 0 {
		return false
	}
	c := written[i]
	return isIdentByte(c, false) || c == ')' || c == ']'
}

// splitStatements splits source on ';' that sits outside any string literal
// and outside any (), [], {} nesting.
func splitStatements(source string) []string {
	var stmts []string
	depth := 0
	start := 0
	var inStr byte
	for i := 0; i < len(source); i++ {
		c := source[i]
		if inStr != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == inStr {
				inStr = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			inStr = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ';':
			if depth == 0 {
				stmts = append(stmts, source[start:i])
				start = i + 1
			}
		}
	}
	stmts = append(stmts, source[start:])
	return stmts
}

// rewriteAssignment rewrites a single statement if it is an assignment to
// e/conf, and otherwise returns it unchanged.
func rewriteAssignment(stmt string) (string, error) {
	eq, ok := findAssignOp(stmt)
	if !ok {
		return stmt, nil
	}
	lhs := strings.TrimSpace(stmt[:eq])
	rhs := strings.TrimSpace(stmt[eq+1:])

	root, rest := splitRoot(lhs)
	if root != "e" && root != "conf" {
		return "", fmt.Errorf("assignment target %q is not mutable; only e and conf fields can be assigned", lhs)
	}

	if rest == "" {
		if root != "e" {
			return "", fmt.Errorf("conf cannot be replaced wholesale; assign conf.<field> instead")
		}
		if rhs != "unit()" {
			return "", fmt.Errorf("e = ... only supports e = () (event removal)")
		}
		return "skip()", nil
	}

	key, err := lhsKeyExpr(rest)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("set(%s, %s, %s)", root, key, rhs), nil
}

// findAssignOp finds the position of a standalone "=" in s (outside strings
// and brackets, and not part of ==, !=, <=, >=). Returns ok=false when s has
// no such assignment operator, i.e. it is a bare expression statement.
func findAssignOp(s string) (int, bool) {
	depth := 0
	var inStr byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == inStr {
				inStr = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			inStr = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '=':
			if depth != 0 {
				continue
			}
			var prev, next byte
			if i > 0 {
				prev = s[i-1]
			}
			if i+1 < len(s) {
				next = s[i+1]
			}
			if prev == '!' || prev == '<' || prev == '>' || prev == '=' || next == '=' {
				continue
			}
			return i, true
		}
	}
	return 0, false
}

// splitRoot peels the leading identifier off lhs, returning it along with
// whatever trailing ".field" or "[expr]" accessor follows.
func splitRoot(lhs string) (root, rest string) {
	lhs = strings.TrimSpace(lhs)
	i := 0
	for i < len(lhs) && isIdentByte(lhs[i], i == 0) {
		i++
	}
	return lhs[:i], lhs[i:]
}

// lhsKeyExpr turns the accessor following the root identifier into an
// expr-lang expression yielding the map key: a quoted string literal for
// ".field", or the bracketed expression verbatim for "[expr]".
func lhsKeyExpr(rest string) (string, error) {
	rest = strings.TrimSpace(rest)
	switch {
	case strings.HasPrefix(rest, "."):
		field := rest[1:]
		if !isIdentifier(field) {
			return "", fmt.Errorf("unsupported assignment target %q; only a single field name is supported", rest)
		}
		return fmt.Sprintf("%q", field), nil
	case strings.HasPrefix(rest, "[") && strings.HasSuffix(rest, "]"):
		inner := strings.TrimSpace(rest[1 : len(rest)-1])
		if inner == "" {
			return "", fmt.Errorf("empty index in assignment target %q", rest)
		}
		return "(" + inner + ")", nil
	default:
		return "", fmt.Errorf("unsupported assignment target %q", rest)
	}
}

func isIdentByte(c byte, first bool) bool {
	if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
		return true
	}
	return !first && c >= '0' && c <= '9'
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i], i == 0) {
			return false
		}
	}
	return true
}
