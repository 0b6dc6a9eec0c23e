// Package harness runs YAML cache scenarios against the real query engine.
//
// A scenario writes source inputs, queries the browser and server
// derivations, and asserts on what the engine did: which outcome each
// query had, how often the compiler ran, how many memo entries exist.
// The compiler is compiler.Builtin behind a call counter, so runs are
// deterministic and traces can be compared against golden files.
//
// # Scenario Format
//
//	name: edit_invalidates
//	description: "An edit re-runs both derivations once"
//	toolchain: /opt/toolchain
//	steps:
//	  - write: a.js
//	    content: "export const x = 1;"
//	  - browser: a.js
//	    import_map: { react: /vendor/react.js }
//	    expect:
//	      outcome: executed
//	      contains: ["export const x = 1;"]
//	  - server: ghost.js
//	    expect:
//	      error: MISSING_INPUT
//	assertions:
//	  - type: compiler_calls
//	    target: browser
//	    count: 1
//	  - type: memo_entries
//	    count: 1
//
// Inputs that are not valid UTF-8 are written with content_base64.
//
// # Assertion Types
//
//   - compiler_calls: adapter invocations, per target or in total
//   - executions: rule bodies run (executed or unchanged), optionally per rule
//   - outcome_count: query resolutions with a given outcome, optionally per rule
//   - memo_entries: entries in the memo table at the end of the run
//   - revision: the engine's current revision at the end of the run
//
// # Golden Files
//
// RunWithGolden renders the trace as one canonical JSON object per line
// and compares it with testdata/golden/<name>.golden. Durations are left
// out so the rendering is stable. Regenerate with:
//
//	go test ./internal/harness -update
package harness
