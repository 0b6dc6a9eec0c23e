// Package compiler provides the Compiler Adapter consumed by the derivation
// rules: pure, deterministic functions turning source text into a browser
// bundle or a server module.
//
// Two adapters are provided:
//   - Exec runs target-specific tools found under the toolchain path
//   - Builtin is a small in-process transformer used by the CLI demo mode,
//     scenarios and tests
//
// Adapters must be deterministic: identical arguments must produce identical
// output, or cached derivations become inconsistent with their inputs.
package compiler

import (
	"context"
	"fmt"
)

// Target names an execution target.
type Target string

const (
	TargetBrowser Target = "browser"
	TargetServer  Target = "server"
)

// Valid reports whether t is a known target.
func (t Target) Valid() bool {
	return t == TargetBrowser || t == TargetServer
}

// ParseTarget converts a string into a Target.
func ParseTarget(s string) (Target, error) {
	t := Target(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown target %q (want %q or %q)", s, TargetBrowser, TargetServer)
	}
	return t, nil
}

// Compiler is the external compilation collaborator.
//
// key is the logical source key (used for diagnostics and file naming),
// toolchain the toolchain path the output is produced with.
// Implementations must honour ctx cancellation.
type Compiler interface {
	CompileForBrowser(ctx context.Context, source, key, toolchain string, importMap map[string]string) (string, error)
	CompileForServer(ctx context.Context, source, key, toolchain string) (string, error)
}
