package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talves-forked/toast/internal/derive"
	"github.com/talves-forked/toast/internal/engine"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Type: EventWrite, Key: "a.js", Revision: 1, Size: 4},
		{Seq: 2, Type: EventQuery, Rule: derive.RuleBrowser, Query: "b", Outcome: "executed", Revision: 1},
		{Seq: 3, Type: EventQuery, Rule: derive.RuleServer, Query: "s", Outcome: "unchanged", Revision: 1},
		{Seq: 4, Type: EventQuery, Rule: derive.RuleBrowser, Query: "b", Outcome: "hit", Revision: 1},
		{Seq: 5, Type: EventQuery, Rule: derive.RuleServer, Query: "g", Outcome: "failed", Error: "MISSING_INPUT", Revision: 1},
	}
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertExecutions,
		Expected: "2 executions",
		Actual:   "1 executions",
		Trace:    sampleTrace(),
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: executions\n")
	assert.Contains(t, msg, "  Expected: 2 executions\n")
	assert.Contains(t, msg, "  Actual: 1 executions\n")
	assert.Contains(t, msg, "  [1] write a.js @1\n")
	assert.Contains(t, msg, "  [2] executed b @1\n")
	assert.Contains(t, msg, "  [5] failed g @1 MISSING_INPUT\n")
}

func TestAssertionError_NoTrace(t *testing.T) {
	err := &AssertionError{Type: AssertRevision, Expected: "revision 2", Actual: "revision 1"}
	assert.NotContains(t, err.Error(), "Full trace")
}

func TestAssertExecutions(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertExecutions(trace, Assertion{Count: 2}))
	assert.NoError(t, assertExecutions(trace, Assertion{Rule: derive.RuleBrowser, Count: 1}))
	assert.NoError(t, assertExecutions(trace, Assertion{Rule: derive.RuleServer, Count: 1}))

	err := assertExecutions(trace, Assertion{Rule: derive.RuleBrowser, Count: 3})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "3 executions of compiled_for_browser", ae.Expected)
	assert.Equal(t, "1 executions", ae.Actual)
}

func TestAssertOutcomeCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertOutcomeCount(trace, Assertion{Outcome: "hit", Count: 1}))
	assert.NoError(t, assertOutcomeCount(trace, Assertion{Outcome: "failed", Rule: derive.RuleServer, Count: 1}))
	assert.NoError(t, assertOutcomeCount(trace, Assertion{Outcome: "validated", Count: 0}))
	assert.Error(t, assertOutcomeCount(trace, Assertion{Outcome: "hit", Rule: derive.RuleServer, Count: 1}))
}

func TestEvaluateAssertions_EngineState(t *testing.T) {
	h, err := newHarness()
	require.NoError(t, err)

	h.files.Write("a.js", []byte("x();"))
	_, err = h.files.CompiledForServer(context.Background(), "a.js", "/bin")
	require.NoError(t, err)

	result := NewResult()
	result.Trace = h.trace.since(0)
	actx := &AssertionContext{Engine: h.engine, Compiler: h.compiler}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertCompilerCalls, Target: "server", Count: 1},
		{Type: AssertCompilerCalls, Target: "browser", Count: 0},
		{Type: AssertCompilerCalls, Count: 1},
		{Type: AssertMemoEntries, Count: 1},
		{Type: AssertRevision, Count: 1},
		{Type: AssertExecutions, Count: 1},
	}, actx)
	assert.Empty(t, errs)

	errs = EvaluateAssertions(result, []Assertion{
		{Type: AssertCompilerCalls, Target: "browser", Count: 1},
		{Type: AssertRevision, Count: 7},
		{Type: "bogus"},
	}, actx)
	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "assertions[0]")
	assert.Contains(t, errs[0], "1 browser compiler calls")
	assert.Contains(t, errs[1], "revision 7")
	assert.Contains(t, errs[2], "unknown assertion type")
}

func TestTracer_RecordsErrorCodes(t *testing.T) {
	h, err := newHarness()
	require.NoError(t, err)

	_, err = h.files.CompiledForServer(context.Background(), "ghost.js", "/bin")
	require.True(t, engine.IsMissingInput(err))

	events := h.trace.since(0)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].Seq)
	assert.Equal(t, EventQuery, events[0].Type)
	assert.Equal(t, "failed", events[0].Outcome)
	assert.Equal(t, "MISSING_INPUT", events[0].Error)
	assert.Equal(t, derive.RuleServer, events[0].Rule)
}
