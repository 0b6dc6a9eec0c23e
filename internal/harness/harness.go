package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/talves-forked/toast/internal/compiler"
	"github.com/talves-forked/toast/internal/derive"
	"github.com/talves-forked/toast/internal/engine"
	"github.com/talves-forked/toast/internal/testutil"
)

// Harness holds the per-run engine and its instrumentation.
type Harness struct {
	engine   *engine.Engine
	files    *derive.Files
	compiler *testutil.CountingCompiler
	trace    *tracer
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each run gets a fresh engine, so scenarios are isolated from each other.
// Failed expectations are collected in Result.Errors; the returned error is
// reserved for problems running the scenario at all.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness()
	if err != nil {
		return nil, err
	}

	result := NewResult()
	for i := range scenario.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h.executeStep(ctx, i, scenario, result)
	}

	actx := &AssertionContext{
		Engine:   h.engine,
		Compiler: h.compiler,
	}
	result.Trace = h.trace.since(0)
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	result.Stats = h.engine.Stats()

	return result, nil
}

func newHarness() (*Harness, error) {
	tr := &tracer{}
	eng := engine.New(engine.WithObserver(tr))
	cc := testutil.NewCountingCompiler(compiler.Builtin{})

	fs, err := derive.New(eng, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to set up rules: %w", err)
	}

	return &Harness{
		engine:   eng,
		files:    fs,
		compiler: cc,
		trace:    tr,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// executeStep runs one step and records failed expectations on result.
func (h *Harness) executeStep(ctx context.Context, i int, s *Scenario, result *Result) {
	step := &s.Steps[i]

	if step.Write != "" {
		rev := h.files.Write(step.Write, step.content())
		h.logger.Info("write step completed", "step", i, "key", step.Write, "revision", rev)
		return
	}

	toolchain := step.Toolchain
	if toolchain == "" {
		toolchain = s.Toolchain
	}
	if toolchain == "" {
		toolchain = DefaultToolchain
	}

	var (
		key    engine.QueryKey
		output string
		err    error
	)
	mark := h.trace.len()
	if step.Browser != "" {
		im := derive.ImportMap(step.ImportMap)
		key, err = derive.BrowserKey(step.Browser, toolchain, im)
		if err == nil {
			output, err = h.files.CompiledForBrowser(ctx, step.Browser, toolchain, im)
		}
	} else {
		key, err = derive.ServerKey(step.Server, toolchain)
		if err == nil {
			output, err = h.files.CompiledForServer(ctx, step.Server, toolchain)
		}
	}

	outcome := lastOutcome(h.trace.since(mark), key)
	h.logger.Info("query step completed", "step", i, "query", key.String(), "outcome", outcome, "error", err)

	if step.Expect != nil {
		for _, msg := range checkExpect(step.Expect, output, outcome, err) {
			result.AddError(fmt.Sprintf("steps[%d] %s: %s", i, key.String(), msg))
		}
	}
}

// lastOutcome finds the resolution of key among events. The top-level
// resolution is always reported after any nested ones.
func lastOutcome(events []TraceEvent, key engine.QueryKey) string {
	label := key.String()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == EventQuery && events[i].Query == label {
			return events[i].Outcome
		}
	}
	return ""
}

func checkExpect(e *Expect, output, outcome string, err error) []string {
	var msgs []string

	if e.Outcome != "" && e.Outcome != outcome {
		msgs = append(msgs, fmt.Sprintf("expected outcome %s, got %s", e.Outcome, outcome))
	}

	if e.Error != "" {
		var qe *engine.QueryError
		switch {
		case err == nil:
			msgs = append(msgs, fmt.Sprintf("expected error %s, query succeeded", e.Error))
		case !errors.As(err, &qe):
			msgs = append(msgs, fmt.Sprintf("expected error %s, got %v", e.Error, err))
		case string(qe.Code) != e.Error:
			msgs = append(msgs, fmt.Sprintf("expected error %s, got %s", e.Error, qe.Code))
		}
		return msgs
	}

	if err != nil {
		return append(msgs, fmt.Sprintf("unexpected error: %v", err))
	}
	if e.Output != nil && *e.Output != output {
		msgs = append(msgs, fmt.Sprintf("expected output %q, got %q", *e.Output, output))
	}
	for _, want := range e.Contains {
		if !strings.Contains(output, want) {
			msgs = append(msgs, fmt.Sprintf("expected output to contain %q, got %q", want, output))
		}
	}
	return msgs
}
