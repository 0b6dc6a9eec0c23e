// Package store provides the SQLite session journal.
//
// The journal is an audit trail of one engine's life: every input write and
// every query resolution, tagged with a session id. It is written through
// Recorder, which implements engine.Observer, and read back by the CLI.
// Cached values are never reloaded from it.
//
// Tables:
//   - sessions: one row per engine process (UUIDv7 id)
//   - input_writes: key, revision, content hash and size of each write
//   - query_events: rule, query fingerprint, outcome, error and duration of
//     each resolution, nested ones included
//
// # Ordering
//
// Rows of a session share one logical sequence. All reads order by
// seq ASC, never by wall-clock time, so two journals of the same scenario
// list events identically.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Content hashes are computed with ir.ContentHash (domain-separated SHA-256).
package store
