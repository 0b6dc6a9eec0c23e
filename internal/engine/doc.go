// Package engine implements the demand-driven memoized query engine behind
// the compilation cache.
//
// The engine answers "what is the derived value for this key right now?"
// while doing as little work as possible. Inputs (raw source bytes) are
// written into the InputStore; each write advances the revision clock.
// Derived values are produced by rule bodies and cached in the MemoTable
// together with the list of inputs and other queries they read.
//
// ARCHITECTURE:
//
// Revisions, not timestamps:
// Every cache decision compares revisions. A memo entry records the revision
// at which it was last verified and the revision at which its value last
// changed. An input records the revision of its last write.
//
// Query resolution:
//  1. Hot hit: entry verified at the current revision -> return it
//  2. Stale entry: walk recorded dependencies in order. Inputs compare their
//     revision against the entry's VerifiedAt; query dependencies are
//     resolved recursively and compare their ChangedAt. If nothing changed,
//     re-stamp the entry and return it without running the rule (early cutoff)
//  3. Cold miss or changed dependency: run the rule body with a Frame that
//     records every read, then replace the entry. If the new value equals the
//     old one the entry keeps its old ChangedAt (backdating), so dependents
//     cut off early too
//
// Concurrency:
// Queries run in parallel and hold a shared snapshot lock; writes take it
// exclusively, so a query never mixes contents from two revisions. At most
// one evaluation per key is in flight; duplicate callers block on it and
// observe its result. Cycles are detected both on a single call stack and
// across goroutines (wait-for graph) and reported as CYCLIC_DEPENDENCY.
//
// Failure policy:
// Only successful evaluations are stored. Errors (missing input, invalid
// encoding, derivation failure, cycle, cancellation) propagate to the direct
// caller and the next identical query starts from scratch.
package engine
