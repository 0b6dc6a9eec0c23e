package harness

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/talves-forked/toast/internal/engine"
)

// DefaultToolchain is used when neither the scenario nor a step names one.
const DefaultToolchain = "/toolchain"

// Scenario defines a cache scenario: a sequence of writes and queries
// followed by assertions on the engine's final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Toolchain is the default toolchain path for query steps.
	Toolchain string `yaml:"toolchain,omitempty"`

	// Steps run in order on a single goroutine.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is a single write or query. Exactly one of Write, Browser and
// Server is set.
type Step struct {
	// Write names the input to write. Content or ContentBase64 supplies the bytes.
	Write         string  `yaml:"write,omitempty"`
	Content       *string `yaml:"content,omitempty"`
	ContentBase64 string  `yaml:"content_base64,omitempty"`

	// Browser and Server name the source to compile for that target.
	Browser string `yaml:"browser,omitempty"`
	Server  string `yaml:"server,omitempty"`

	// Toolchain overrides Scenario.Toolchain for this step.
	Toolchain string `yaml:"toolchain,omitempty"`

	// ImportMap is only valid on browser steps.
	ImportMap map[string]string `yaml:"import_map,omitempty"`

	// Expect checks the query result. Nil means no check.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the expected result of a query step.
type Expect struct {
	// Outcome is the engine outcome of the query (hit, validated,
	// executed, unchanged, failed, cancelled).
	Outcome string `yaml:"outcome,omitempty"`

	// Output must equal the compiled text exactly.
	Output *string `yaml:"output,omitempty"`

	// Contains lists substrings the compiled text must include.
	Contains []string `yaml:"contains,omitempty"`

	// Error is the expected error code. Empty means the query must succeed.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the engine state after the run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Target filters compiler_calls to "browser" or "server".
	Target string `yaml:"target,omitempty"`

	// Rule filters executions and outcome_count to one rule id.
	Rule string `yaml:"rule,omitempty"`

	// Outcome is the outcome counted by outcome_count.
	Outcome string `yaml:"outcome,omitempty"`

	// Count is the expected number (compiler_calls, executions,
	// outcome_count, memo_entries) or revision (revision).
	Count int64 `yaml:"count"`
}

// Assertion type constants.
const (
	AssertCompilerCalls = "compiler_calls"
	AssertExecutions    = "executions"
	AssertOutcomeCount  = "outcome_count"
	AssertMemoEntries   = "memo_entries"
	AssertRevision      = "revision"
)

var knownOutcomes = map[string]bool{
	string(engine.OutcomeHit):       true,
	string(engine.OutcomeValidated): true,
	string(engine.OutcomeExecuted):  true,
	string(engine.OutcomeUnchanged): true,
	string(engine.OutcomeFailed):    true,
	string(engine.OutcomeCancelled): true,
}

var knownCodes = map[string]bool{
	string(engine.ErrCodeMissingInput):     true,
	string(engine.ErrCodeInvalidEncoding):  true,
	string(engine.ErrCodeDerivationFailed): true,
	string(engine.ErrCodeCyclicDependency): true,
	string(engine.ErrCodeUnknownRule):      true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields, or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st *Step) error {
	set := 0
	for _, v := range []string{st.Write, st.Browser, st.Server} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of write, browser, server is required", i)
	}

	if st.Write != "" {
		if (st.Content == nil) == (st.ContentBase64 == "") {
			return fmt.Errorf("steps[%d]: write needs exactly one of content, content_base64", i)
		}
		if st.ContentBase64 != "" {
			if _, err := base64.StdEncoding.DecodeString(st.ContentBase64); err != nil {
				return fmt.Errorf("steps[%d]: content_base64: %w", i, err)
			}
		}
		if st.Expect != nil || st.Toolchain != "" || st.ImportMap != nil {
			return fmt.Errorf("steps[%d]: write takes no expect, toolchain or import_map", i)
		}
		return nil
	}

	if st.Content != nil || st.ContentBase64 != "" {
		return fmt.Errorf("steps[%d]: content is only valid on write steps", i)
	}
	if st.Server != "" && st.ImportMap != nil {
		return fmt.Errorf("steps[%d]: import_map is only valid on browser steps", i)
	}

	if e := st.Expect; e != nil {
		if e.Outcome != "" && !knownOutcomes[e.Outcome] {
			return fmt.Errorf("steps[%d].expect: unknown outcome %q", i, e.Outcome)
		}
		if e.Error != "" && !knownCodes[e.Error] {
			return fmt.Errorf("steps[%d].expect: unknown error code %q", i, e.Error)
		}
		if e.Error != "" && (e.Output != nil || len(e.Contains) > 0) {
			return fmt.Errorf("steps[%d].expect: error cannot be combined with output or contains", i)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}

	switch a.Type {
	case AssertCompilerCalls:
		if a.Target != "" && a.Target != "browser" && a.Target != "server" {
			return fmt.Errorf("assertions[%d]: target must be browser or server, got %q", index, a.Target)
		}
	case AssertExecutions, AssertMemoEntries, AssertRevision:
	case AssertOutcomeCount:
		if !knownOutcomes[a.Outcome] {
			return fmt.Errorf("assertions[%d]: outcome_count needs a known outcome, got %q", index, a.Outcome)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// content returns the bytes a write step stores.
func (st *Step) content() []byte {
	if st.Content != nil {
		return []byte(*st.Content)
	}
	b, _ := base64.StdEncoding.DecodeString(st.ContentBase64)
	return b
}
