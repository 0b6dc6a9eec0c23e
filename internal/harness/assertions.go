package harness

import (
	"fmt"
	"strings"

	"github.com/talves-forked/toast/internal/engine"
	"github.com/talves-forked/toast/internal/testutil"
)

// AssertionContext carries the run state assertions inspect.
type AssertionContext struct {
	Engine   *engine.Engine
	Compiler *testutil.CountingCompiler
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			switch event.Type {
			case EventWrite:
				fmt.Fprintf(&buf, "  [%d] write %s @%d\n", event.Seq, event.Key, event.Revision)
			case EventQuery:
				fmt.Fprintf(&buf, "  [%d] %s %s @%d", event.Seq, event.Outcome, event.Query, event.Revision)
				if event.Error != "" {
					fmt.Fprintf(&buf, " %s", event.Error)
				}
				buf.WriteByte('\n')
			}
		}
	}

	return buf.String()
}

// assertCompilerCalls checks the adapter invocation count for a target,
// or across both targets when none is given.
func assertCompilerCalls(cc *testutil.CountingCompiler, a Assertion, trace []TraceEvent) error {
	var got int64
	what := "compiler calls"
	switch a.Target {
	case "browser":
		got = cc.BrowserCalls()
		what = "browser compiler calls"
	case "server":
		got = cc.ServerCalls()
		what = "server compiler calls"
	default:
		got = cc.Calls()
	}

	if got != a.Count {
		return &AssertionError{
			Type:     AssertCompilerCalls,
			Expected: fmt.Sprintf("%d %s", a.Count, what),
			Actual:   fmt.Sprintf("%d %s", got, what),
			Trace:    trace,
		}
	}
	return nil
}

// assertExecutions counts query resolutions that ran the rule body.
func assertExecutions(trace []TraceEvent, a Assertion) error {
	var got int64
	for _, ev := range trace {
		if ev.Type != EventQuery || (a.Rule != "" && ev.Rule != a.Rule) {
			continue
		}
		if engine.Outcome(ev.Outcome).Ran() {
			got++
		}
	}

	if got != a.Count {
		return &AssertionError{
			Type:     AssertExecutions,
			Expected: fmt.Sprintf("%d executions%s", a.Count, ruleSuffix(a.Rule)),
			Actual:   fmt.Sprintf("%d executions", got),
			Trace:    trace,
		}
	}
	return nil
}

// assertOutcomeCount counts query resolutions with the given outcome.
func assertOutcomeCount(trace []TraceEvent, a Assertion) error {
	var got int64
	for _, ev := range trace {
		if ev.Type == EventQuery && ev.Outcome == a.Outcome && (a.Rule == "" || ev.Rule == a.Rule) {
			got++
		}
	}

	if got != a.Count {
		return &AssertionError{
			Type:     AssertOutcomeCount,
			Expected: fmt.Sprintf("%d %s resolutions%s", a.Count, a.Outcome, ruleSuffix(a.Rule)),
			Actual:   fmt.Sprintf("%d %s resolutions", got, a.Outcome),
			Trace:    trace,
		}
	}
	return nil
}

func assertMemoEntries(e *engine.Engine, a Assertion) error {
	if got := int64(e.MemoCount()); got != a.Count {
		return &AssertionError{
			Type:     AssertMemoEntries,
			Expected: fmt.Sprintf("%d memo entries", a.Count),
			Actual:   fmt.Sprintf("%d memo entries", got),
		}
	}
	return nil
}

func assertRevision(e *engine.Engine, a Assertion) error {
	if got := int64(e.Revision()); got != a.Count {
		return &AssertionError{
			Type:     AssertRevision,
			Expected: fmt.Sprintf("revision %d", a.Count),
			Actual:   fmt.Sprintf("revision %d", got),
		}
	}
	return nil
}

func ruleSuffix(rule string) string {
	if rule == "" {
		return ""
	}
	return " of " + rule
}

// EvaluateAssertions runs every assertion against the result and returns
// the failure messages. An empty slice means every assertion held.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertCompilerCalls:
			err = assertCompilerCalls(actx.Compiler, a, result.Trace)
		case AssertExecutions:
			err = assertExecutions(result.Trace, a)
		case AssertOutcomeCount:
			err = assertOutcomeCount(result.Trace, a)
		case AssertMemoEntries:
			err = assertMemoEntries(actx.Engine, a)
		case AssertRevision:
			err = assertRevision(actx.Engine, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}
