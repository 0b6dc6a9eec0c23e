// Package ir provides the canonical value types used to identify cached
// derivations.
//
// Query arguments (source keys, toolchain paths, import maps) are expressed as
// IRValue trees and fingerprinted through RFC 8785 canonical JSON, so two
// argument sets that are structurally equal always produce the same identity
// regardless of map insertion order.
//
// This package imports nothing internal. Every other internal package may
// import ir; ir remains the foundational layer.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers
//   - NO null values - an absent argument is simply not present
//   - All object keys ordered by UTF-16 code units when serialised
package ir
