package harness

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/talves-forked/toast/internal/ir"
)

// MarshalTrace renders a trace as one canonical JSON object per line.
// Durations are not part of TraceEvent, so equal runs render equal bytes.
func MarshalTrace(trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer
	for _, ev := range trace {
		line, err := ir.MarshalCanonical(ev.canonicalMap())
		if err != nil {
			return nil, fmt.Errorf("trace event %d: %w", ev.Seq, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// canonicalMap converts an event to a map for canonical JSON, dropping
// empty optional fields.
func (ev TraceEvent) canonicalMap() map[string]any {
	m := map[string]any{
		"seq":      ev.Seq,
		"type":     ev.Type,
		"revision": ev.Revision,
	}
	if ev.Key != "" {
		m["key"] = ev.Key
	}
	if ev.Type == EventWrite {
		m["size"] = ev.Size
	}
	if ev.Rule != "" {
		m["rule"] = ev.Rule
	}
	if ev.Query != "" {
		m["query"] = ev.Query
	}
	if ev.Outcome != "" {
		m["outcome"] = ev.Outcome
	}
	if ev.Error != "" {
		m["error"] = ev.Error
	}
	return m
}

// RunWithGolden executes a scenario, fails t if an expectation or
// assertion did not hold, and compares the trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
