// Copyright 2025 Aura Project
//
// Package journal implements the per-account CRDT journal: a join-semilattice
// of facts under fact-key union with a deterministic per-key tiebreak, and a
// meet-semilattice of capabilities under refinement. Grounded on the
// teacher's pkg/ledger/store.go (KV-key-prefix record layout, sentinel
// not-found errors) and pkg/commitment/commitment.go (canonical JSON
// hashing), generalized from Accumulate ledger records to typed domain
// facts.

package journal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aura-network/aura/pkg/ids"
)

// ErrReducerRejected is returned by Reduce when no registered reducer
// accepts the binding (wrong context, malformed bytes, unknown sub-type).
var ErrReducerRejected = errors.New("journal: no reducer accepted this fact")

// FactKey identifies one slot in the journal's fact map.
type FactKey string

// RelationalBinding is what a fact contributes once reduced: the relation
// it establishes.
type RelationalBinding struct {
	Type      string `json:"type"`
	ContextID ids.ContextId `json:"context_id"`
	Data      []byte `json:"data"`
}

// FactValue is the journal's stored record for one FactKey: a typed domain
// payload plus the metadata the tiebreak rule needs.
type FactValue struct {
	TypeID        string            `json:"type_id"`
	SchemaVersion uint32            `json:"schema_version"`
	ContextID     ids.ContextId     `json:"context_id"`
	SubType       string            `json:"sub_type"`
	Encoding      []byte            `json:"encoding"`
	Actor         ids.AuthorityId   `json:"actor"`
	Timestamp     int64             `json:"timestamp"` // unix nanoseconds
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ValueHash is the canonical content hash used as the final tiebreak
// component: (timestamp, actor, value_hash) lex order.
func (v FactValue) ValueHash() ids.Hash32 {
	b, _ := CanonicalEncode(v)
	return ids.HashBytes(b)
}

// less implements the journal's deterministic tiebreak: greatest timestamp
// wins; ties broken by byte-lex of (actor_id, value_hash).
func (v FactValue) less(o FactValue) bool {
	if v.Timestamp != o.Timestamp {
		return v.Timestamp < o.Timestamp
	}
	if c := compareBytes(v.Actor[:], o.Actor[:]); c != 0 {
		return c < 0
	}
	vh, oh := v.ValueHash(), o.ValueHash()
	return vh.Compare(oh) < 0
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// FactReducer validates and translates a domain fact's bytes into a
// RelationalBinding. Reducers are pure functions: no I/O, no side effects.
type FactReducer func(contextID ids.ContextId, value FactValue) (*RelationalBinding, error)

// FactReducerRegistry maps a fact's type_id to its validating reducer.
// Spec.md requires "a registered FactReducer" per type_id but does not name
// the registry; this is that registry.
type FactReducerRegistry struct {
	reducers map[string]FactReducer
}

// NewFactReducerRegistry creates an empty registry.
func NewFactReducerRegistry() *FactReducerRegistry {
	return &FactReducerRegistry{reducers: make(map[string]FactReducer)}
}

// Register installs the reducer for typeID. Re-registering the same
// typeID overwrites the previous reducer — callers own ordering.
func (r *FactReducerRegistry) Register(typeID string, reducer FactReducer) {
	r.reducers[typeID] = reducer
}

// Reduce delegates to the registered reducer for value.TypeID. It returns
// ErrReducerRejected (wrapped) if no reducer is registered, the reducer
// itself rejects the binding, or the fact's context_id does not match the
// context_id supplied at reduce time (spec §4.2 invariant).
func (r *FactReducerRegistry) Reduce(contextID ids.ContextId, value FactValue) (*RelationalBinding, error) {
	if value.ContextID != contextID {
		return nil, fmt.Errorf("%w: context_id mismatch: fact=%s outer=%s",
			ErrReducerRejected, value.ContextID, contextID)
	}
	reducer, ok := r.reducers[value.TypeID]
	if !ok {
		return nil, fmt.Errorf("%w: no reducer registered for type_id %q", ErrReducerRejected, value.TypeID)
	}
	binding, err := reducer(contextID, value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReducerRejected, err)
	}
	if binding == nil {
		return nil, ErrReducerRejected
	}
	return binding, nil
}

// CanonicalEncode serializes v into the deterministic byte form used for
// hashing and round-trip tests, mirroring the teacher's
// commitment.CanonicalizeJSON sorted-key approach.
func CanonicalEncode(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("journal: marshaling for canonical encode: %w", err)
	}
	return CanonicalizeJSON(raw)
}
