package engine

import (
	"errors"
	"fmt"
	"strings"
)

// QueryError represents a failure surfaced by Query.
//
// Query errors include:
//   - Missing input: a rule read an input key that was never written
//   - Invalid encoding: source bytes are not well-formed text
//   - Derivation failed: a rule body (usually the compiler adapter) failed
//   - Cyclic dependency: a rule transitively queried itself
//   - Unknown rule: a key names a rule that was never registered
//
// None of these are ever cached. A later Query with the same key
// re-attempts the evaluation from scratch.
type QueryError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Input is the input key involved (missing input, invalid encoding).
	Input string

	// Query is the rendered key of the failing derivation.
	Query string

	// Chain lists the rendered keys that form a cycle, outermost first,
	// ending with the key that closed the cycle.
	Chain []string

	// Err is the underlying cause (derivation failures).
	Err error
}

// ErrorCode categorizes query errors.
type ErrorCode string

const (
	// ErrCodeMissingInput indicates a read of an input key that was never written.
	ErrCodeMissingInput ErrorCode = "MISSING_INPUT"

	// ErrCodeInvalidEncoding indicates source bytes that are not valid UTF-8.
	ErrCodeInvalidEncoding ErrorCode = "INVALID_ENCODING"

	// ErrCodeDerivationFailed indicates a rule body returned an error.
	ErrCodeDerivationFailed ErrorCode = "DERIVATION_FAILED"

	// ErrCodeCyclicDependency indicates a rule that transitively queries itself.
	ErrCodeCyclicDependency ErrorCode = "CYCLIC_DEPENDENCY"

	// ErrCodeUnknownRule indicates a query for a rule that was never registered.
	ErrCodeUnknownRule ErrorCode = "UNKNOWN_RULE"
)

// Error implements the error interface.
func (e *QueryError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	switch {
	case len(e.Chain) > 0:
		fmt.Fprintf(&b, " (chain=%s)", strings.Join(e.Chain, " -> "))
	case e.Input != "" && e.Query != "":
		fmt.Fprintf(&b, " (input=%s, query=%s)", e.Input, e.Query)
	case e.Input != "":
		fmt.Fprintf(&b, " (input=%s)", e.Input)
	case e.Query != "":
		fmt.Fprintf(&b, " (query=%s)", e.Query)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error indicates a programming error in the
// caller or in a rule (missing input, cycle, unknown rule) rather than a
// condition fixable by writing new input content.
func (e *QueryError) Fatal() bool {
	switch e.Code {
	case ErrCodeMissingInput, ErrCodeCyclicDependency, ErrCodeUnknownRule:
		return true
	}
	return false
}

// hasCode reports whether err wraps a QueryError with the given code.
func hasCode(err error, code ErrorCode) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Code == code
	}
	return false
}

// IsMissingInput returns true if the error is a missing input error.
func IsMissingInput(err error) bool {
	return hasCode(err, ErrCodeMissingInput)
}

// IsInvalidEncoding returns true if the error is an invalid encoding error.
func IsInvalidEncoding(err error) bool {
	return hasCode(err, ErrCodeInvalidEncoding)
}

// IsDerivationFailed returns true if the error is a derivation failure.
func IsDerivationFailed(err error) bool {
	return hasCode(err, ErrCodeDerivationFailed)
}

// IsCyclicDependency returns true if the error is a cycle detection error.
func IsCyclicDependency(err error) bool {
	return hasCode(err, ErrCodeCyclicDependency)
}

// IsUnknownRule returns true if the error names an unregistered rule.
func IsUnknownRule(err error) bool {
	return hasCode(err, ErrCodeUnknownRule)
}

// IsFatal returns true if the error is a QueryError flagged Fatal.
// Uses errors.As to handle wrapped errors.
func IsFatal(err error) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Fatal()
	}
	return false
}

// NewMissingInputError creates a QueryError for a read of an unknown input key.
func NewMissingInputError(key string) *QueryError {
	return &QueryError{
		Code:    ErrCodeMissingInput,
		Message: "input was never written",
		Input:   key,
	}
}

// NewInvalidEncodingError creates a QueryError for source bytes that are not
// valid UTF-8. offset is the byte offset of the first invalid sequence.
func NewInvalidEncodingError(key string, offset int) *QueryError {
	return &QueryError{
		Code:    ErrCodeInvalidEncoding,
		Message: fmt.Sprintf("source is not valid UTF-8 (first invalid byte at offset %d)", offset),
		Input:   key,
	}
}

// NewDerivationError wraps a rule-body failure for the given key.
func NewDerivationError(key QueryKey, cause error) *QueryError {
	return &QueryError{
		Code:    ErrCodeDerivationFailed,
		Message: "derivation failed",
		Query:   key.String(),
		Err:     cause,
	}
}

// NewCycleError creates a QueryError for a dependency cycle.
// chain runs from the first occurrence of the repeated key to the repeat.
func NewCycleError(chain []QueryKey) *QueryError {
	rendered := make([]string, len(chain))
	for i, k := range chain {
		rendered[i] = k.String()
	}
	e := &QueryError{
		Code:    ErrCodeCyclicDependency,
		Message: "rule transitively queries itself",
		Chain:   rendered,
	}
	if len(chain) > 0 {
		e.Query = rendered[len(rendered)-1]
	}
	return e
}

// NewUnknownRuleError creates a QueryError for an unregistered rule.
func NewUnknownRuleError(key QueryKey) *QueryError {
	return &QueryError{
		Code:    ErrCodeUnknownRule,
		Message: fmt.Sprintf("rule %q is not registered", key.Rule),
		Query:   key.String(),
	}
}
