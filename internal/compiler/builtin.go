package compiler

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Builtin is a deterministic in-process compiler.
//
// It does not understand the source language. It normalises whitespace
// (trailing blanks and empty lines are dropped), rejects sources whose
// brackets do not balance, and prefixes a banner naming the key and target.
// The browser target also rewrites import specifiers found in the import map.
//
// Because whitespace is normalised away, whitespace-only edits produce
// byte-identical output, which is what lets dependents of a compiled file
// skip re-evaluation.
type Builtin struct{}

var _ Compiler = Builtin{}

// SyntaxError reports a source the builtin compiler cannot accept.
type SyntaxError struct {
	Key     string
	Line    int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Key, e.Line, e.Message)
}

// CompileForBrowser normalises source and resolves import specifiers
// against importMap.
func (Builtin) CompileForBrowser(ctx context.Context, source, key, toolchain string, importMap map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := checkBalanced(key, source); err != nil {
		return "", err
	}
	body := rewriteImports(normalize(source), importMap)
	return banner(key, TargetBrowser) + body, nil
}

// CompileForServer normalises source. Specifiers are left for the server
// runtime to resolve.
func (Builtin) CompileForServer(ctx context.Context, source, key, toolchain string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := checkBalanced(key, source); err != nil {
		return "", err
	}
	return banner(key, TargetServer) + normalize(source), nil
}

func banner(key string, t Target) string {
	return fmt.Sprintf("// %s (%s)\n", key, t)
}

// normalize trims trailing whitespace from each line and drops empty lines.
func normalize(source string) string {
	var sb strings.Builder
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			continue
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// importSpec matches the quoted specifier of
//
//	import x from "spec"   export * from 'spec'   import "spec"   import("spec")
var importSpec = regexp.MustCompile(`(\bfrom\s*|\bimport\s*\(?\s*)(["'])([^"'\n]+)(["'])`)

func rewriteImports(source string, importMap map[string]string) string {
	if len(importMap) == 0 {
		return source
	}
	return importSpec.ReplaceAllStringFunc(source, func(m string) string {
		sub := importSpec.FindStringSubmatch(m)
		if sub[2] != sub[4] {
			return m
		}
		target, ok := importMap[sub[3]]
		if !ok {
			return m
		}
		return sub[1] + sub[2] + target + sub[4]
	})
}

var closers = map[rune]rune{')': '(', ']': '[', '}': '{'}

// checkBalanced verifies that (), [] and {} nest properly outside string
// literals and comments.
func checkBalanced(key, source string) error {
	type open struct {
		r    rune
		line int
	}
	var (
		stack   []open
		line    = 1
		quote   rune
		escaped bool
		comment bool // line comment
		block   bool // block comment
		prev    rune
	)

	for _, r := range source {
		if r == '\n' {
			line++
			comment = false
		}

		switch {
		case comment:
		case block:
			if prev == '*' && r == '/' {
				block = false
				r = 0
			}
		case quote != 0:
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == quote:
				quote = 0
			case r == '\n' && quote != '`':
				return &SyntaxError{Key: key, Line: line - 1, Message: "unterminated string literal"}
			}
		case r == '"' || r == '\'' || r == '`':
			quote = r
		case prev == '/' && r == '/':
			comment = true
		case prev == '/' && r == '*':
			block = true
			r = 0
		case r == '(' || r == '[' || r == '{':
			stack = append(stack, open{r: r, line: line})
		case r == ')' || r == ']' || r == '}':
			if len(stack) == 0 || stack[len(stack)-1].r != closers[r] {
				return &SyntaxError{Key: key, Line: line, Message: fmt.Sprintf("unexpected %q", r)}
			}
			stack = stack[:len(stack)-1]
		}
		prev = r
	}

	switch {
	case quote != 0:
		return &SyntaxError{Key: key, Line: line, Message: "unterminated string literal"}
	case block:
		return &SyntaxError{Key: key, Line: line, Message: "unterminated comment"}
	case len(stack) > 0:
		top := stack[len(stack)-1]
		return &SyntaxError{Key: key, Line: top.line, Message: fmt.Sprintf("unclosed %q", top.r)}
	}
	return nil
}
