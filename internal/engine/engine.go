package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Engine is the demand-driven memoized query engine.
//
// Callers write inputs with Write and request derived values with Query.
// Query consults the memo table, re-validates stale entries by walking
// their recorded dependencies, and runs a rule body only on a cold miss or
// when a dependency's value actually changed.
//
// Thread-safety model:
//   - Query(): safe from any goroutine; concurrent queries run in parallel
//   - Write(): safe from any goroutine; waits for in-progress queries, so a
//     query observes exactly one revision from start to finish
//   - Register(): safe from any goroutine, normally called once at startup
//
// INVARIANTS:
//   - An entry with VerifiedAt == current revision is consistent with every
//     input reachable through its dependencies
//   - At most one evaluation of a given key is in flight; duplicate callers
//     block until it completes and observe its result
//   - Failures are never cached
//
// There is no process-wide engine: construct one with New and pass it to
// every caller that needs it.
type Engine struct {
	// snapshot is held shared for the duration of each top-level Query and
	// exclusively by Write and InvalidateAll.
	snapshot sync.RWMutex

	clock   *Clock
	inputs  *InputStore
	memos   *MemoTable
	flights *flightTable

	rulesMu sync.RWMutex
	rules   map[string]RuleFunc

	observers []Observer
	stats     statCounters
	runners   atomic.Uint64
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithClock sets the revision clock.
// Default: a fresh clock starting at revision 0.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithObserver registers an observer for input and query events.
// May be given more than once; observers are called in registration order.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// New creates an Engine with no rules and no inputs.
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:   NewClock(),
		memos:   NewMemoTable(),
		flights: newFlightTable(),
		rules:   make(map[string]RuleFunc),
	}

	for _, opt := range opts {
		opt(e)
	}
	e.inputs = NewInputStore(e.clock)

	slog.Debug("engine created", "revision", e.clock.Current(), "observers", len(e.observers))
	return e
}

// Register installs the rule body for rule id.
// Returns an error if the id is empty, fn is nil, or the id is taken.
func (e *Engine) Register(rule string, fn RuleFunc) error {
	if rule == "" {
		return fmt.Errorf("register rule: empty rule id")
	}
	if fn == nil {
		return fmt.Errorf("register rule %q: nil rule func", rule)
	}

	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()

	if _, ok := e.rules[rule]; ok {
		return fmt.Errorf("register rule %q: already registered", rule)
	}
	e.rules[rule] = fn
	return nil
}

func (e *Engine) rule(id string) (RuleFunc, bool) {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	fn, ok := e.rules[id]
	return fn, ok
}

// Write stores content under key and advances the revision.
// Returns the new revision.
//
// Observers are notified before the write lock is released, so they see
// input events in revision order.
func (e *Engine) Write(key string, content []byte) Revision {
	e.snapshot.Lock()
	defer e.snapshot.Unlock()

	rev := e.inputs.Write(key, content)
	in, _ := e.inputs.Get(key)

	e.stats.writes.Add(1)
	slog.Debug("input written", "key", key, "revision", rev, "size", len(in.Content))

	ev := InputEvent{Key: key, Revision: rev, Size: len(in.Content), Content: in.Content}
	for _, o := range e.observers {
		o.InputWritten(ev)
	}
	return rev
}

// Read returns the current content of an input without recording a
// dependency. Rule bodies must use Frame.Read instead.
// The returned slice must not be modified.
func (e *Engine) Read(key string) ([]byte, error) {
	in, ok := e.inputs.Get(key)
	if !ok {
		return nil, NewMissingInputError(key)
	}
	return in.Content, nil
}

// Query returns the derived value for key, evaluating or re-validating it
// as needed.
//
// Blocking: if another goroutine is already evaluating key, Query waits for
// it without a timeout. Bound the wait with ctx. A cancelled Query leaves the
// memo table unmodified.
func (e *Engine) Query(ctx context.Context, key QueryKey) (string, error) {
	m, err := e.QueryEntry(ctx, key)
	if err != nil {
		return "", err
	}
	return m.Value, nil
}

// QueryEntry is like Query but returns the verified memo entry.
// The entry is immutable and must not be modified.
func (e *Engine) QueryEntry(ctx context.Context, key QueryKey) (*MemoEntry, error) {
	if key.ID() == "" {
		return nil, fmt.Errorf("query: zero QueryKey")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.snapshot.RLock()
	defer e.snapshot.RUnlock()

	r := &runner{id: e.runners.Add(1)}
	return e.fetch(ctx, r, nil, key, e.inputs.Revision())
}

// fetch resolves key at rev on behalf of runner r. parent is the frame
// whose rule body (or re-validation) needs the value, nil at top level.
func (e *Engine) fetch(ctx context.Context, r *runner, parent *Frame, key QueryKey, rev Revision) (*MemoEntry, error) {
	start := time.Now()

	if chain := parent.chainTo(key); chain != nil {
		err := NewCycleError(chain)
		e.resolved(key, rev, OutcomeFailed, start, err)
		return nil, err
	}

	for {
		if m, ok := e.memos.Get(key); ok && m.VerifiedAt == rev {
			e.resolved(key, rev, OutcomeHit, start, nil)
			return m, nil
		}

		f, owner, wouldCycle := e.flights.claim(key.ID(), r)
		if wouldCycle {
			err := NewCycleError(append(parent.stack(), key))
			e.resolved(key, rev, OutcomeFailed, start, err)
			return nil, err
		}

		if !owner {
			m, err := e.flights.wait(ctx, r, f)
			if errors.Is(err, errAbandoned) {
				// The owner gave up without a result; take over.
				continue
			}
			if err != nil {
				e.resolved(key, rev, failureOutcome(ctx, err), start, err)
				return nil, err
			}
			e.resolved(key, rev, OutcomeHit, start, nil)
			return m, nil
		}

		m, outcome, err := e.own(ctx, r, parent, key, rev, f)
		e.resolved(key, rev, outcome, start, err)
		return m, err
	}
}

// own runs the evaluation for a flight r has claimed and publishes the
// result to waiters. Cancellation and panics are published as abandonment
// so that waiters retry with their own context.
func (e *Engine) own(ctx context.Context, r *runner, parent *Frame, key QueryKey, rev Revision, f *flight) (*MemoEntry, Outcome, error) {
	published := false
	defer func() {
		if !published {
			e.flights.finish(key.ID(), f, nil, errAbandoned)
		}
	}()

	m, outcome, err := e.resolve(ctx, r, parent, key, rev)

	shared := err
	if outcome == OutcomeCancelled {
		shared = errAbandoned
	}
	e.flights.finish(key.ID(), f, m, shared)
	published = true

	return m, outcome, err
}

// resolve validates or re-evaluates key. Called only by the flight owner.
func (e *Engine) resolve(ctx context.Context, r *runner, parent *Frame, key QueryKey, rev Revision) (*MemoEntry, Outcome, error) {
	fn, ok := e.rule(key.Rule)
	if !ok {
		return nil, OutcomeFailed, NewUnknownRuleError(key)
	}

	// Re-read: another flight may have completed between the hot check and
	// the claim.
	old, hasOld := e.memos.Get(key)
	if hasOld && old.VerifiedAt == rev {
		return old, OutcomeHit, nil
	}

	frame := newFrame(ctx, e, r, parent, key, rev)

	if hasOld {
		changed, err := e.changedSince(frame, old)
		if err != nil {
			return nil, failureOutcome(ctx, err), err
		}
		if !changed {
			if err := ctx.Err(); err != nil {
				return nil, OutcomeCancelled, err
			}
			m := old.verified(rev)
			e.memos.Put(m)
			return m, OutcomeValidated, nil
		}
	}

	value, err := e.execute(frame, fn)
	if err != nil {
		return nil, failureOutcome(ctx, err), err
	}
	if err := ctx.Err(); err != nil {
		return nil, OutcomeCancelled, err
	}

	m := &MemoEntry{
		Key:          key,
		Value:        value,
		VerifiedAt:   rev,
		ChangedAt:    rev,
		Dependencies: frame.deps,
	}
	outcome := OutcomeExecuted
	if hasOld && old.Value == value {
		// Backdate: dependents that saw the old value need not re-run.
		m.ChangedAt = old.ChangedAt
		outcome = OutcomeUnchanged
	}
	e.memos.Put(m)
	return m, outcome, nil
}

// changedSince reports whether any dependency of old may have changed
// value after old was last verified. Query dependencies are brought up to
// date first (recursively), and the walk stops at the first change.
// A dependency that fails counts as changed; only cycles and cancellation
// are returned as errors.
func (e *Engine) changedSince(frame *Frame, old *MemoEntry) (bool, error) {
	for _, dep := range old.Dependencies {
		switch dep.Kind {
		case DependencyInput:
			in, ok := e.inputs.Get(dep.Input)
			if !ok || in.Revision > old.VerifiedAt {
				return true, nil
			}
		case DependencyQuery:
			m, err := e.fetch(frame.ctx, frame.runner, frame, dep.Query, frame.rev)
			if err != nil {
				if IsCyclicDependency(err) || (frame.ctx.Err() != nil && isContextErr(err)) {
					return false, err
				}
				// A dependency that now fails has changed. The rule body
				// sees the failure again and decides what it means.
				return true, nil
			}
			if m.ChangedAt > old.VerifiedAt {
				return true, nil
			}
		default:
			return true, nil
		}
	}
	return false, nil
}

// execute runs the rule body. Errors that are already classified pass
// through; anything else is a derivation failure of this key.
func (e *Engine) execute(frame *Frame, fn RuleFunc) (string, error) {
	value, err := fn(frame, frame.key.Args)
	if err == nil {
		return value, nil
	}

	var qe *QueryError
	if errors.As(err, &qe) {
		return "", err
	}
	if frame.ctx.Err() != nil && isContextErr(err) {
		return "", err
	}
	return "", NewDerivationError(frame.key, err)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func failureOutcome(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil && isContextErr(err) {
		return OutcomeCancelled
	}
	return OutcomeFailed
}

// resolved counts, logs and publishes one resolution.
func (e *Engine) resolved(key QueryKey, rev Revision, outcome Outcome, start time.Time, err error) {
	e.stats.count(outcome)
	d := time.Since(start)

	if err != nil {
		slog.Debug("query failed",
			"rule", key.Rule,
			"query", shortID(key.ID()),
			"revision", rev,
			"outcome", outcome,
			"error", err,
		)
	} else {
		slog.Debug("query resolved",
			"rule", key.Rule,
			"query", shortID(key.ID()),
			"revision", rev,
			"outcome", outcome,
			"duration", d,
		)
	}

	ev := QueryEvent{Key: key, Revision: rev, Outcome: outcome, Duration: d, Err: err}
	for _, o := range e.observers {
		o.QueryResolved(ev)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// Revision returns the current revision.
func (e *Engine) Revision() Revision {
	return e.inputs.Revision()
}

// Inputs returns all input keys in sorted order.
func (e *Engine) Inputs() []string {
	return e.inputs.Keys()
}

// Memo returns a copy of the stored entry for key, if any, without
// validating it. Used for introspection and tests.
func (e *Engine) Memo(key QueryKey) (MemoEntry, bool) {
	m, ok := e.memos.Get(key)
	if !ok {
		return MemoEntry{}, false
	}
	c := *m
	c.Dependencies = append([]Dependency(nil), m.Dependencies...)
	return c, true
}

// MemoCount returns the number of memo entries.
func (e *Engine) MemoCount() int {
	return e.memos.Len()
}

// MemoEntries returns every stored entry ordered by rendered key.
// Entries are immutable and must not be modified.
func (e *Engine) MemoEntries() []*MemoEntry {
	return e.memos.Entries()
}

// InvalidateAll drops every memo entry. Inputs and the revision are kept.
// Waits for in-progress queries.
func (e *Engine) InvalidateAll() {
	e.snapshot.Lock()
	defer e.snapshot.Unlock()
	e.memos.InvalidateAll()
	slog.Debug("memo table invalidated")
}

// Stats returns cumulative resolution counters.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot()
}
