package engine

import (
	"fmt"

	"github.com/talves-forked/toast/internal/ir"
)

// QueryKey identifies one derivation call: a rule id plus its arguments.
//
// Two keys are equal iff their rule ids are equal and their arguments are
// structurally equal. Equality is decided by a canonical fingerprint computed
// once at construction, so map-valued arguments (import maps) compare by
// content, not by identity or insertion order.
//
// The Args object must not be mutated after the key is built.
type QueryKey struct {
	Rule string
	Args ir.IRObject

	id string
}

// NewQueryKey builds a QueryKey and computes its fingerprint.
// Returns an error if the rule is empty or the arguments cannot be
// canonically marshaled (floats, invalid UTF-8).
func NewQueryKey(rule string, args ir.IRObject) (QueryKey, error) {
	if args == nil {
		args = ir.IRObject{}
	}
	id, err := ir.QueryID(rule, args)
	if err != nil {
		return QueryKey{}, err
	}
	return QueryKey{Rule: rule, Args: args, id: id}, nil
}

// MustQueryKey is like NewQueryKey but panics on error.
// Use only in tests or when arguments are known to be valid.
func MustQueryKey(rule string, args ir.IRObject) QueryKey {
	k, err := NewQueryKey(rule, args)
	if err != nil {
		panic(err)
	}
	return k
}

// ID returns the canonical fingerprint. Empty for the zero QueryKey.
func (k QueryKey) ID() string {
	return k.id
}

// Equal reports whether two keys identify the same derivation call.
func (k QueryKey) Equal(other QueryKey) bool {
	return k.id != "" && k.id == other.id
}

// String renders the key for logs and error chains, e.g.
// compiled_for_server{"key":"a.js","toolchain":"/bin"}.
func (k QueryKey) String() string {
	args, err := ir.MarshalCanonical(k.Args)
	if err != nil {
		return fmt.Sprintf("%s{<%v>}", k.Rule, err)
	}
	return k.Rule + string(args)
}
