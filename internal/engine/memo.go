package engine

import (
	"slices"
	"strings"
	"sync"
)

// DependencyKind distinguishes input reads from nested queries.
type DependencyKind uint8

const (
	// DependencyInput is a read of an InputStore entry.
	DependencyInput DependencyKind = iota + 1

	// DependencyQuery is a nested Query of another derivation.
	DependencyQuery
)

// Dependency is one recorded read made while evaluating a rule body.
type Dependency struct {
	Kind  DependencyKind
	Input string   // set for DependencyInput
	Query QueryKey // set for DependencyQuery
}

// InputDependency builds a Dependency on an input key.
func InputDependency(key string) Dependency {
	return Dependency{Kind: DependencyInput, Input: key}
}

// QueryDependency builds a Dependency on another derivation.
func QueryDependency(key QueryKey) Dependency {
	return Dependency{Kind: DependencyQuery, Query: key}
}

// String renders the dependency for logs.
func (d Dependency) String() string {
	if d.Kind == DependencyInput {
		return "input:" + d.Input
	}
	return "query:" + d.Query.String()
}

// MemoEntry is the cached result of one QueryKey.
//
// Entries are immutable once stored. Re-validation installs a copy with a
// newer VerifiedAt, and re-evaluation installs a fresh entry, so a reader
// holding an entry never observes it change.
type MemoEntry struct {
	Key   QueryKey
	Value string

	// VerifiedAt is the latest revision at which Value was known to be
	// consistent with every input reachable through Dependencies.
	VerifiedAt Revision

	// ChangedAt is the revision at which Value last took its current
	// contents. A re-evaluation producing an identical value keeps the
	// previous ChangedAt, which is what lets dependents cut off early.
	ChangedAt Revision

	// Dependencies in the order the rule body read them, deduplicated.
	Dependencies []Dependency
}

// verified returns a copy of m re-stamped as valid at rev.
func (m *MemoEntry) verified(rev Revision) *MemoEntry {
	c := *m
	c.VerifiedAt = rev
	return &c
}

// MemoTable maps QueryKeys to MemoEntries by structural key equality.
//
// Thread-safety: all methods are safe for concurrent use. Put replaces an
// entry atomically; readers see either the old or the new entry in full.
type MemoTable struct {
	mu      sync.RWMutex
	entries map[string]*MemoEntry
}

// NewMemoTable creates an empty table.
func NewMemoTable() *MemoTable {
	return &MemoTable{entries: make(map[string]*MemoEntry)}
}

// Get returns the entry for key, if any.
func (t *MemoTable) Get(key QueryKey) (*MemoEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.entries[key.ID()]
	return m, ok
}

// Put installs entry, replacing (not merging with) any previous entry for
// the same key.
func (t *MemoTable) Put(entry *MemoEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[entry.Key.ID()] = entry
}

// InvalidateAll drops every entry. Used for tests and full resets.
func (t *MemoTable) InvalidateAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*MemoEntry)
}

// Len returns the number of entries.
func (t *MemoTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Entries returns all entries ordered by rendered key.
func (t *MemoTable) Entries() []*MemoEntry {
	t.mu.RLock()
	out := make([]*MemoEntry, 0, len(t.entries))
	for _, m := range t.entries {
		out = append(out, m)
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b *MemoEntry) int {
		return strings.Compare(a.Key.String(), b.Key.String())
	})
	return out
}
