package harness

import (
	"errors"
	"sync"

	"github.com/talves-forked/toast/internal/engine"
)

// Trace event types.
const (
	EventWrite = "write"
	EventQuery = "query"
)

// TraceEvent is one engine event observed during a run.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Type     string `json:"type"`
	Revision int64  `json:"revision"`

	// write events
	Key  string `json:"key,omitempty"`
	Size int    `json:"size,omitempty"`

	// query events
	Rule    string `json:"rule,omitempty"`
	Query   string `json:"query,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"` // error code
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds every input write and query resolution in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds the failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Stats are the engine counters at the end of the run.
	Stats engine.Stats `json:"stats"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// tracer is the engine.Observer that builds the trace.
type tracer struct {
	mu     sync.Mutex
	seq    int64
	events []TraceEvent
}

var _ engine.Observer = (*tracer)(nil)

func (t *tracer) InputWritten(ev engine.InputEvent) {
	t.add(TraceEvent{
		Type:     EventWrite,
		Revision: int64(ev.Revision),
		Key:      ev.Key,
		Size:     ev.Size,
	})
}

func (t *tracer) QueryResolved(ev engine.QueryEvent) {
	te := TraceEvent{
		Type:     EventQuery,
		Revision: int64(ev.Revision),
		Rule:     ev.Key.Rule,
		Query:    ev.Key.String(),
		Outcome:  string(ev.Outcome),
	}
	var qe *engine.QueryError
	if errors.As(ev.Err, &qe) {
		te.Error = string(qe.Code)
	}
	t.add(te)
}

func (t *tracer) add(ev TraceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	ev.Seq = t.seq
	t.events = append(t.events, ev)
}

// since returns the events recorded after position n.
func (t *tracer) since(n int) []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TraceEvent(nil), t.events[n:]...)
}

func (t *tracer) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}
