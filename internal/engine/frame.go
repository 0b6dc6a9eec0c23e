package engine

import (
	"context"

	"github.com/talves-forked/toast/internal/ir"
)

// RuleFunc is a derivation rule body.
//
// A rule must be pure with respect to its recorded dependencies: every input
// it looks at must be read through f.Read, and every derived value through
// f.Query. Given the same dependency values it must return the same string.
type RuleFunc func(f *Frame, args ir.IRObject) (string, error)

// Frame is the dependency tracker for one in-progress rule evaluation.
//
// The engine hands a fresh Frame to each rule body invocation. Every Read
// and Query made through it appends a dependency edge to the memo entry the
// evaluation will produce, and carries the cancellation context and cycle
// bookkeeping down to nested evaluations.
//
// A Frame is not safe for concurrent use: a rule body must issue its reads
// and queries sequentially.
type Frame struct {
	ctx    context.Context
	engine *Engine
	runner *runner
	parent *Frame
	key    QueryKey
	rev    Revision

	deps []Dependency
	seen map[string]struct{}
}

func newFrame(ctx context.Context, e *Engine, r *runner, parent *Frame, key QueryKey, rev Revision) *Frame {
	return &Frame{
		ctx:    ctx,
		engine: e,
		runner: r,
		parent: parent,
		key:    key,
		rev:    rev,
	}
}

// Context returns the caller's context. Rule bodies pass it to anything
// that blocks (the compiler adapter, for instance).
func (f *Frame) Context() context.Context {
	return f.ctx
}

// Key returns the key being evaluated.
func (f *Frame) Key() QueryKey {
	return f.key
}

// Revision returns the revision the evaluation runs at.
func (f *Frame) Revision() Revision {
	return f.rev
}

// Read returns the current content of an input and records the read.
// The returned slice must not be modified.
func (f *Frame) Read(key string) ([]byte, error) {
	in, ok := f.engine.inputs.Get(key)
	if !ok {
		return nil, NewMissingInputError(key)
	}
	f.record("i\x00"+key, InputDependency(key))
	return in.Content, nil
}

// Query resolves another derivation and records the edge.
// The edge is recorded even when the derivation fails, so a rule body
// that recovers from the failure is re-validated once it succeeds.
func (f *Frame) Query(key QueryKey) (string, error) {
	f.record("q\x00"+key.ID(), QueryDependency(key))
	m, err := f.engine.fetch(f.ctx, f.runner, f, key, f.rev)
	if err != nil {
		return "", err
	}
	return m.Value, nil
}

func (f *Frame) record(id string, dep Dependency) {
	if f.seen == nil {
		f.seen = make(map[string]struct{})
	}
	if _, ok := f.seen[id]; ok {
		return
	}
	f.seen[id] = struct{}{}
	f.deps = append(f.deps, dep)
}

// chainTo returns the cycle closed by evaluating key beneath f, or nil.
// The chain starts at the frame already evaluating key and ends with key.
func (f *Frame) chainTo(key QueryKey) []QueryKey {
	var stack []QueryKey
	for fr := f; fr != nil; fr = fr.parent {
		stack = append(stack, fr.key)
		if fr.key.Equal(key) {
			chain := make([]QueryKey, 0, len(stack)+1)
			for i := len(stack) - 1; i >= 0; i-- {
				chain = append(chain, stack[i])
			}
			return append(chain, key)
		}
	}
	return nil
}

// stack returns the keys from the outermost frame down to f.
func (f *Frame) stack() []QueryKey {
	var keys []QueryKey
	for fr := f; fr != nil; fr = fr.parent {
		keys = append(keys, fr.key)
	}
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys
}
