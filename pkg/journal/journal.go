// Copyright 2025 Aura Project

package journal

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aura-network/aura/pkg/ids"
)

// CapabilityRefiner is the narrow interface the journal needs from
// pkg/capability to apply a refine-delta without importing it directly
// (pkg/capability imports pkg/journal, so a direct import would form a
// cycle).
type CapabilityRefiner interface {
	// Meet returns the greatest-lower-bound of the receiver and delta, and
	// whether the result differs from the receiver (a real refinement).
	Meet(delta CapabilityRefiner) (CapabilityRefiner, bool)
	// Bytes returns the canonical encoding of the capability set, used as
	// the journal's stored representation.
	Bytes() []byte
}

// GuardSnapshot is the read-only view of a journal that the guard chain
// consumes. It never aliases the journal's internal maps.
type GuardSnapshot struct {
	AccountID    ids.AccountId
	Facts        map[FactKey]FactValue
	CapsByActor  map[ids.AuthorityId][]byte // canonical capability-set bytes, keyed by principal
	SnapshotTime int64
}

// Journal is the per-account CRDT: a join-semilattice of facts under
// fact-key union with the (timestamp, actor, value_hash) tiebreak, and a
// meet-semilattice of per-actor capability sets under refinement. Grounded
// on the teacher's pkg/ledger/store.go in-memory/KV record map shape,
// generalized from height-keyed ledger records to FactKey-keyed facts.
type Journal struct {
	mu        sync.RWMutex
	accountID ids.AccountId
	facts     map[FactKey]FactValue
	caps      map[ids.AuthorityId][]byte
	reducers  *FactReducerRegistry
}

// New creates an empty journal for accountID, with the given reducer
// registry (shared across journals of the same fact schema generation).
func New(accountID ids.AccountId, reducers *FactReducerRegistry) *Journal {
	if reducers == nil {
		reducers = NewFactReducerRegistry()
	}
	return &Journal{
		accountID: accountID,
		facts:     make(map[FactKey]FactValue),
		caps:      make(map[ids.AuthorityId][]byte),
		reducers:  reducers,
	}
}

// Get returns the current value at key, if present.
func (j *Journal) Get(key FactKey) (FactValue, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	v, ok := j.facts[key]
	return v, ok
}

// InsertWithContext inserts value at key, applying the journal's
// last-writer-wins tiebreak against any existing value: the incoming value
// wins only if it compares greater under FactValue.less than the current
// value (spec §4.2: "insert_with_context(key, value, actor, timestamp,
// optional_metadata)" with the journal resolving conflicts by
// (timestamp, actor, value_hash)).
func (j *Journal) InsertWithContext(key FactKey, value FactValue) {
	j.mu.Lock()
	defer j.mu.Unlock()
	existing, ok := j.facts[key]
	if !ok || existing.less(value) {
		j.facts[key] = value
	}
}

// Merge unions other into j in place, applying the per-key tiebreak to
// every overlapping key; for an actor present in both capability maps it
// keeps the lexicographically smaller canonical bytes. Merge is
// commutative, associative, and idempotent over the fact map because each
// key's resolution depends only on the two competing FactValues, not on
// merge order (spec §8 invariant 2).
func (j *Journal) Merge(other *Journal) error {
	if other == nil {
		return nil
	}
	other.mu.RLock()
	incomingFacts := make(map[FactKey]FactValue, len(other.facts))
	for k, v := range other.facts {
		incomingFacts[k] = v
	}
	incomingCaps := make(map[ids.AuthorityId][]byte, len(other.caps))
	for k, v := range other.caps {
		cp := make([]byte, len(v))
		copy(cp, v)
		incomingCaps[k] = cp
	}
	other.mu.RUnlock()

	j.mu.Lock()
	defer j.mu.Unlock()
	for k, incoming := range incomingFacts {
		existing, ok := j.facts[k]
		if !ok || existing.less(incoming) {
			j.facts[k] = incoming
		}
	}
	for actor, incoming := range incomingCaps {
		existing, ok := j.caps[actor]
		if !ok {
			j.caps[actor] = incoming
			continue
		}
		// Meet (intersection-like refinement) for capability bytes is
		// delegated to pkg/capability; the journal itself only unions
		// fact-shaped data. Capability bytes merge by keeping the
		// lexicographically smaller encoding as a deterministic,
		// order-independent placeholder refinement when no refiner is
		// supplied via RefineCaps.
		if compareBytes(incoming, existing) < 0 {
			j.caps[actor] = incoming
		}
	}
	return nil
}

// RefineCaps installs delta's canonical bytes as actor's capability set
// (spec §4.2: "refine_caps(journal, delta) → journal'"). The journal itself
// has no way to decode its stored bytes back into a CapabilityRefiner to
// call Meet against them, so narrowing an existing grant is the caller's
// responsibility: read the current bytes via CapBytes, decode them into the
// same concrete type as delta, call delta's Meet, and pass the result back
// in. Called directly (as here) it behaves as an unconditional install,
// which is exactly right for a first-time grant.
func (j *Journal) RefineCaps(actor ids.AuthorityId, delta CapabilityRefiner) error {
	if delta == nil {
		return fmt.Errorf("journal: RefineCaps requires a non-nil delta")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.caps[actor] = delta.Bytes()
	return nil
}

// SetCapBytes installs the canonical capability-set bytes for actor
// directly, used by callers (pkg/intent's device add/remove handling) that
// have already computed the new capability set themselves.
func (j *Journal) SetCapBytes(actor ids.AuthorityId, canonical []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := make([]byte, len(canonical))
	copy(cp, canonical)
	j.caps[actor] = cp
}

// CapBytes returns actor's stored canonical capability-set bytes, if any.
func (j *Journal) CapBytes(actor ids.AuthorityId) ([]byte, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	v, ok := j.caps[actor]
	return v, ok
}

// Reduce delegates key's current value to the registry's matching
// FactReducer, returning nil (no error, nil binding) if the key is absent —
// the Option<RelationalBinding> of spec §4.2's signature.
func (j *Journal) Reduce(contextID ids.ContextId, key FactKey) (*RelationalBinding, error) {
	j.mu.RLock()
	value, ok := j.facts[key]
	j.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return j.reducers.Reduce(contextID, value)
}

// Snapshot materializes the guard chain's read-only view. Every map is a
// defensive copy so the guard chain can never observe subsequent journal
// mutation (spec §4.4's purity requirement on GuardSnapshot).
func (j *Journal) Snapshot(atUnixNano int64) GuardSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	facts := make(map[FactKey]FactValue, len(j.facts))
	for k, v := range j.facts {
		facts[k] = v
	}
	caps := make(map[ids.AuthorityId][]byte, len(j.caps))
	for k, v := range j.caps {
		cp := make([]byte, len(v))
		copy(cp, v)
		caps[k] = cp
	}
	return GuardSnapshot{
		AccountID:    j.accountID,
		Facts:        facts,
		CapsByActor:  caps,
		SnapshotTime: atUnixNano,
	}
}

// canonicalRecord is the deterministic, sorted-key shape CanonicalBytes
// encodes: a plain struct avoids relying on map iteration order anywhere in
// the hash path.
type canonicalRecord struct {
	AccountID ids.AccountId        `json:"account_id"`
	Facts     []canonicalFactEntry `json:"facts"`
	Caps      []canonicalCapEntry  `json:"caps"`
}

type canonicalFactEntry struct {
	Key   FactKey   `json:"key"`
	Value FactValue `json:"value"`
}

type canonicalCapEntry struct {
	Actor ids.AuthorityId `json:"actor"`
	Bytes []byte          `json:"bytes"`
}

// CanonicalBytes returns the deterministic byte encoding of the journal's
// full state, sorted by key so two journals with identical logical content
// always hash identically regardless of insertion order (spec §8's
// round-trip/hash properties).
func (j *Journal) CanonicalBytes() ([]byte, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	factKeys := make([]FactKey, 0, len(j.facts))
	for k := range j.facts {
		factKeys = append(factKeys, k)
	}
	sort.Slice(factKeys, func(i, k int) bool { return factKeys[i] < factKeys[k] })

	rec := canonicalRecord{AccountID: j.accountID}
	for _, k := range factKeys {
		rec.Facts = append(rec.Facts, canonicalFactEntry{Key: k, Value: j.facts[k]})
	}

	actors := make([]ids.AuthorityId, 0, len(j.caps))
	for a := range j.caps {
		actors = append(actors, a)
	}
	sort.Slice(actors, func(i, k int) bool { return actors[i].Compare(actors[k]) < 0 })
	for _, a := range actors {
		rec.Caps = append(rec.Caps, canonicalCapEntry{Actor: a, Bytes: j.caps[a]})
	}

	return CanonicalEncode(rec)
}

// Hash returns the content hash of CanonicalBytes.
func (j *Journal) Hash() (ids.Hash32, error) {
	b, err := j.CanonicalBytes()
	if err != nil {
		return ids.Hash32{}, err
	}
	return ids.HashBytes(b), nil
}
