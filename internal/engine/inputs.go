package engine

import (
	"bytes"
	"slices"
	"sync"
)

// InputEntry is the current content of one source artifact.
//
// Content is shared with every reader and must be treated as read-only.
// A subsequent write never mutates it; it installs a new entry.
type InputEntry struct {
	Key      string
	Content  []byte
	Revision Revision // revision of the write that installed this content
}

// InputStore holds raw source artifacts keyed by logical key.
// It is the only component that advances the revision clock.
//
// Entries are never deleted during a session.
//
// Thread-safety: all methods are safe for concurrent use. Write advances the
// clock and installs the entry under the same lock, so no reader can observe
// a revision whose content is not yet visible.
type InputStore struct {
	mu      sync.RWMutex
	clock   *Clock
	entries map[string]*InputEntry
}

// NewInputStore creates an empty store driven by clock.
func NewInputStore(clock *Clock) *InputStore {
	return &InputStore{
		clock:   clock,
		entries: make(map[string]*InputEntry),
	}
}

// Write stores a private copy of content under key, advances the clock by
// one tick and stamps the entry with the new revision.
//
// Every write advances the clock, including a write of identical bytes:
// dependents re-validate, and early cutoff keeps the cost to one re-check.
func (s *InputStore) Write(key string, content []byte) Revision {
	buf := bytes.Clone(content)
	if buf == nil {
		buf = []byte{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rev := s.clock.Next()
	s.entries[key] = &InputEntry{Key: key, Content: buf, Revision: rev}
	return rev
}

// Get returns the current entry for key.
func (s *InputStore) Get(key string) (InputEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return InputEntry{}, false
	}
	return *e, true
}

// Revision returns the clock value consistent with the store contents.
func (s *InputStore) Revision() Revision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock.Current()
}

// Keys returns all input keys in sorted order.
func (s *InputStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of inputs.
func (s *InputStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
