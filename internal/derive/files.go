package derive

import (
	"context"
	"fmt"

	"github.com/talves-forked/toast/internal/compiler"
	"github.com/talves-forked/toast/internal/engine"
)

// Files is the typed request API over an engine with the browser and server
// rules registered.
//
// A Files value is safe for concurrent use. It owns no state of its own:
// inputs and cached derivations live in the engine.
type Files struct {
	engine   *engine.Engine
	compiler compiler.Compiler
}

// New registers the derivation rules on e, delegating compilation to c.
// Returns an error if e already has rules with the same ids.
func New(e *engine.Engine, c compiler.Compiler) (*Files, error) {
	if e == nil {
		return nil, fmt.Errorf("derive: nil engine")
	}
	if c == nil {
		return nil, fmt.Errorf("derive: nil compiler")
	}

	fs := &Files{engine: e, compiler: c}
	if err := e.Register(RuleBrowser, fs.browserRule); err != nil {
		return nil, err
	}
	if err := e.Register(RuleServer, fs.serverRule); err != nil {
		return nil, err
	}
	return fs, nil
}

// Engine returns the underlying engine.
func (fs *Files) Engine() *engine.Engine {
	return fs.engine
}

// Write stores source content and returns the new revision.
func (fs *Files) Write(key string, content []byte) engine.Revision {
	return fs.engine.Write(key, content)
}

// Source returns the decoded text of an input without recording a
// dependency.
func (fs *Files) Source(key string) (string, error) {
	b, err := fs.engine.Read(key)
	if err != nil {
		return "", err
	}
	return decode(key, b)
}

// CompiledForBrowser returns the browser bundle for key.
func (fs *Files) CompiledForBrowser(ctx context.Context, key, toolchain string, im ImportMap) (string, error) {
	qk, err := BrowserKey(key, toolchain, im)
	if err != nil {
		return "", fmt.Errorf("browser key for %q: %w", key, err)
	}
	return fs.engine.Query(ctx, qk)
}

// CompiledForServer returns the server module for key.
func (fs *Files) CompiledForServer(ctx context.Context, key, toolchain string) (string, error) {
	qk, err := ServerKey(key, toolchain)
	if err != nil {
		return "", fmt.Errorf("server key for %q: %w", key, err)
	}
	return fs.engine.Query(ctx, qk)
}

// Compile dispatches on target.
func (fs *Files) Compile(ctx context.Context, target compiler.Target, key, toolchain string, im ImportMap) (string, error) {
	switch target {
	case compiler.TargetBrowser:
		return fs.CompiledForBrowser(ctx, key, toolchain, im)
	case compiler.TargetServer:
		return fs.CompiledForServer(ctx, key, toolchain)
	default:
		return "", fmt.Errorf("unknown target %q", target)
	}
}
