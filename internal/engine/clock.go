package engine

import "sync/atomic"

// Revision identifies a state of the world: the set of input contents as of
// a particular write. Revisions are totally ordered and never reused.
// Revision 0 is the empty world before any write.
type Revision int64

// Clock is the monotonic revision counter.
//
// The clock advances exactly once per input write and never decreases.
// Wall-clock time plays no part in validity: every cache decision compares
// revisions.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// The InputStore advances it under its own write lock so that the new
// revision and the new content become visible together.
type Clock struct {
	rev atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific revision.
// Used by tests that want revisions from a known offset.
func NewClockAt(start Revision) *Clock {
	c := &Clock{}
	c.rev.Store(int64(start))
	return c
}

// Next advances the clock and returns the new revision.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() Revision {
	return Revision(c.rev.Add(1))
}

// Current returns the current revision without advancing.
func (c *Clock) Current() Revision {
	return Revision(c.rev.Load())
}
