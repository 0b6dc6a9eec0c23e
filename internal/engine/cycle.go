package engine

import (
	"context"
	"errors"
	"sync"
)

// errAbandoned is delivered to waiters when the owner of an evaluation gave
// up without a result (cancelled or panicked). Waiters retry on their own.
var errAbandoned = errors.New("in-flight evaluation abandoned")

// runner identifies one top-level Query call and everything it evaluates on
// its goroutine. Every frame of the call shares the runner.
type runner struct {
	id uint64
}

// flight is one in-progress evaluation of a query key.
type flight struct {
	owner *runner
	done  chan struct{}

	// Set before done is closed.
	memo *MemoEntry
	err  error
}

// flightTable enforces at most one in-flight evaluation per query key and
// detects cycles that span goroutines.
//
// Cycles on a single call stack are caught by Frame.chainTo before a flight
// is ever claimed. A cycle can also close across goroutines:
//
//	runner A evaluates X, which queries Y
//	runner B evaluates Y, which queries X
//	A waits for B's flight of Y, B waits for A's flight of X  <- DEADLOCK
//
// The table keeps a wait-for graph (runner -> runner it is blocked on).
// Each runner blocks on at most one flight at a time, so the graph is a set
// of chains. Before blocking, claim walks the chain from the flight's owner;
// reaching the claimant means the wait would close a cycle, which is reported
// instead of deadlocking.
type flightTable struct {
	mu      sync.Mutex
	flights map[string]*flight
	waits   map[*runner]*runner
}

func newFlightTable() *flightTable {
	return &flightTable{
		flights: make(map[string]*flight),
		waits:   make(map[*runner]*runner),
	}
}

// claim either registers r as the owner of a new flight for id (owner=true),
// or returns the existing flight and records that r is about to wait on it.
// Returns wouldCycle=true, without recording anything, if waiting would
// deadlock.
func (t *flightTable) claim(id string, r *runner) (f *flight, owner, wouldCycle bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.flights[id]; ok {
		for o := existing.owner; o != nil; o = t.waits[o] {
			if o == r {
				return nil, false, true
			}
		}
		t.waits[r] = existing.owner
		return existing, false, false
	}

	f = &flight{owner: r, done: make(chan struct{})}
	t.flights[id] = f
	return f, true, false
}

// wait blocks until f completes or ctx is done. It always clears r's
// wait-for edge before returning.
func (t *flightTable) wait(ctx context.Context, r *runner, f *flight) (*MemoEntry, error) {
	defer func() {
		t.mu.Lock()
		delete(t.waits, r)
		t.mu.Unlock()
	}()

	select {
	case <-f.done:
		return f.memo, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finish publishes the outcome of f to its waiters and releases id.
func (t *flightTable) finish(id string, f *flight, m *MemoEntry, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.flights[id] == f {
		delete(t.flights, id)
	}
	f.memo = m
	f.err = err
	close(f.done)
}

// inFlight returns the number of evaluations currently running.
// Used for testing and introspection.
func (t *flightTable) inFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flights)
}
