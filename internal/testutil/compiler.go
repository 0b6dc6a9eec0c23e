package testutil

import (
	"context"
	"sync/atomic"

	"github.com/talves-forked/toast/internal/compiler"
)

// CountingCompiler wraps a compiler.Compiler and counts adapter invocations.
//
// Tests use the counts to prove that a cached derivation was served without
// calling the compiler again. If Gate is non-nil every call blocks until a
// value is received from it (or the channel is closed), which lets tests
// hold an evaluation in flight.
//
// Thread-safety: safe for concurrent use.
type CountingCompiler struct {
	Inner compiler.Compiler
	Gate  <-chan struct{}

	browser atomic.Int64
	server  atomic.Int64
}

// NewCountingCompiler wraps inner. A nil inner means compiler.Builtin.
func NewCountingCompiler(inner compiler.Compiler) *CountingCompiler {
	if inner == nil {
		inner = compiler.Builtin{}
	}
	return &CountingCompiler{Inner: inner}
}

var _ compiler.Compiler = (*CountingCompiler)(nil)

// CompileForBrowser counts and delegates.
func (c *CountingCompiler) CompileForBrowser(ctx context.Context, source, key, toolchain string, importMap map[string]string) (string, error) {
	c.browser.Add(1)
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	return c.Inner.CompileForBrowser(ctx, source, key, toolchain, importMap)
}

// CompileForServer counts and delegates.
func (c *CountingCompiler) CompileForServer(ctx context.Context, source, key, toolchain string) (string, error) {
	c.server.Add(1)
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	return c.Inner.CompileForServer(ctx, source, key, toolchain)
}

func (c *CountingCompiler) wait(ctx context.Context) error {
	if c.Gate == nil {
		return nil
	}
	select {
	case <-c.Gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BrowserCalls returns the number of browser compilations requested.
func (c *CountingCompiler) BrowserCalls() int64 {
	return c.browser.Load()
}

// ServerCalls returns the number of server compilations requested.
func (c *CountingCompiler) ServerCalls() int64 {
	return c.server.Load()
}

// Calls returns the total number of compilations requested.
func (c *CountingCompiler) Calls() int64 {
	return c.browser.Load() + c.server.Load()
}

// Reset zeroes both counters.
func (c *CountingCompiler) Reset() {
	c.browser.Store(0)
	c.server.Store(0)
}
