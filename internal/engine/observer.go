package engine

import (
	"sync/atomic"
	"time"
)

// Outcome describes how a query was resolved.
type Outcome string

const (
	// OutcomeHit: the entry was already verified at the current revision.
	OutcomeHit Outcome = "hit"

	// OutcomeValidated: the entry was stale, every dependency proved
	// unchanged, and the cached value was re-stamped without running the rule.
	OutcomeValidated Outcome = "validated"

	// OutcomeExecuted: the rule body ran and produced a new value
	// (cold miss, or a dependency changed and so did the value).
	OutcomeExecuted Outcome = "executed"

	// OutcomeUnchanged: the rule body ran because a dependency changed, but
	// produced the previous value. Dependents can cut off early.
	OutcomeUnchanged Outcome = "unchanged"

	// OutcomeFailed: evaluation returned an error; nothing was cached.
	OutcomeFailed Outcome = "failed"

	// OutcomeCancelled: the caller's context ended; nothing was cached.
	OutcomeCancelled Outcome = "cancelled"
)

// Ran reports whether the rule body was invoked.
func (o Outcome) Ran() bool {
	return o == OutcomeExecuted || o == OutcomeUnchanged
}

// InputEvent is emitted after every input write.
type InputEvent struct {
	Key      string
	Revision Revision
	Size     int
	Content  []byte // read-only
}

// QueryEvent is emitted after every query resolution, nested ones included.
type QueryEvent struct {
	Key      QueryKey
	Revision Revision
	Outcome  Outcome
	Duration time.Duration
	Err      error
}

// Observer receives engine events. Implementations are called
// synchronously on the goroutine that produced the event and must be safe
// for concurrent use. They must not call back into the engine.
type Observer interface {
	InputWritten(ev InputEvent)
	QueryResolved(ev QueryEvent)
}

// Stats are cumulative resolution counters.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Validations uint64 `json:"validations"`
	Executions  uint64 `json:"executions"` // successful rule body runs, unchanged ones included
	Unchanged   uint64 `json:"unchanged"`
	Failures    uint64 `json:"failures"`
	Cancelled   uint64 `json:"cancelled"`
	Writes      uint64 `json:"writes"`
}

type statCounters struct {
	hits, validations, executions, unchanged, failures, cancelled, writes atomic.Uint64
}

func (c *statCounters) count(o Outcome) {
	switch o {
	case OutcomeHit:
		c.hits.Add(1)
	case OutcomeValidated:
		c.validations.Add(1)
	case OutcomeExecuted:
		c.executions.Add(1)
	case OutcomeUnchanged:
		c.executions.Add(1)
		c.unchanged.Add(1)
	case OutcomeFailed:
		c.failures.Add(1)
	case OutcomeCancelled:
		c.cancelled.Add(1)
	}
}

func (c *statCounters) snapshot() Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Validations: c.validations.Load(),
		Executions:  c.executions.Load(),
		Unchanged:   c.unchanged.Load(),
		Failures:    c.failures.Load(),
		Cancelled:   c.cancelled.Load(),
		Writes:      c.writes.Load(),
	}
}
