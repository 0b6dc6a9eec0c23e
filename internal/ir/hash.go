package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainQuery   = "toast/query/v1"
	DomainContent = "toast/content/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// QueryID computes the identity of a derivation call.
// Two calls share an id iff the rule ids are equal and the argument objects
// are structurally equal (key order is irrelevant).
func QueryID(rule string, args IRObject) (string, error) {
	if rule == "" {
		return "", fmt.Errorf("QueryID: rule is required")
	}
	if args == nil {
		args = IRObject{}
	}
	canonical, err := MarshalCanonical(IRObject{
		"rule": IRString(rule),
		"args": args,
	})
	if err != nil {
		return "", fmt.Errorf("QueryID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainQuery, canonical), nil
}

// ContentHash computes the content-addressed id of raw source bytes.
// Used by the journal; the engine itself tracks revisions, not hashes.
func ContentHash(content []byte) string {
	return hashWithDomain(DomainContent, content)
}

// MustQueryID is like QueryID but panics on error.
// Use only in tests or when arguments are known to be valid.
func MustQueryID(rule string, args IRObject) string {
	id, err := QueryID(rule, args)
	if err != nil {
		panic(err)
	}
	return id
}
