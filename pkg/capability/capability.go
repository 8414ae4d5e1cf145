// Copyright 2025 Aura Project
//
// Package capability implements signed capability tokens, the
// meet-semilattice of capability sets under refinement, and delegation
// chains. Grounded on the teacher's pkg/attestation/strategy/interface.go
// (scheme-tagged signer model, ThresholdConfig weight math) and
// pkg/crypto/bls/key_manager.go's root-key-rotation precedent for the
// RootKeyRing.

package capability

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aura-network/aura/pkg/ids"
	"github.com/aura-network/aura/pkg/journal"
)

// ErrExpired is returned when a token's expiry has passed.
var ErrExpired = errors.New("capability: token expired")

// ErrDepthExceeded is returned when a delegation chain exceeds its
// declared maximum depth.
var ErrDepthExceeded = errors.New("capability: delegation depth exceeded")

// ErrSignatureInvalid is returned when a token or delegation link fails
// signature verification.
var ErrSignatureInvalid = errors.New("capability: signature invalid")

// ErrNotRefinement is returned when a delegated token attempts to grant
// actions its parent does not hold (widening rather than narrowing).
var ErrNotRefinement = errors.New("capability: delegated token is not a refinement of its parent")

// Action names one grantable operation. Kept as an open string type (like
// the teacher's AttestationScheme) rather than a closed enum, since
// higher-level packages (guard, recovery, intent) each contribute their
// own action vocabulary.
type Action string

// CapabilitySet is a finite set of Actions, scoped to a ContextId, forming
// the meet-semilattice spec.md's data model requires: Meet/Refine only ever
// shrink the set.
type CapabilitySet struct {
	ContextID ids.ContextId `json:"context_id"`
	Actions   []Action      `json:"actions"`
}

// NewCapabilitySet builds a set with deduplicated, sorted actions so its
// canonical encoding is order-independent.
func NewCapabilitySet(contextID ids.ContextId, actions ...Action) CapabilitySet {
	cs := CapabilitySet{ContextID: contextID, Actions: dedupSortActions(actions)}
	return cs
}

func dedupSortActions(actions []Action) []Action {
	seen := make(map[Action]struct{}, len(actions))
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Slice(out, func(i, k int) bool { return out[i] < out[k] })
	return out
}

// Has reports whether the set grants action.
func (c CapabilitySet) Has(action Action) bool {
	for _, a := range c.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// MeetSet computes the greatest-lower-bound of c and other: the
// intersection of their actions, scoped to the narrower (matching)
// ContextId. Sets from different contexts meet to the empty set in that
// context, since no action can be validly held in two contexts at once.
func (c CapabilitySet) MeetSet(other CapabilitySet) CapabilitySet {
	if c.ContextID != other.ContextID {
		return CapabilitySet{ContextID: c.ContextID}
	}
	otherSet := make(map[Action]struct{}, len(other.Actions))
	for _, a := range other.Actions {
		otherSet[a] = struct{}{}
	}
	var out []Action
	for _, a := range c.Actions {
		if _, ok := otherSet[a]; ok {
			out = append(out, a)
		}
	}
	return NewCapabilitySet(c.ContextID, out...)
}

// Refine narrows c by delta, returning the meet and whether the result
// differs from c (i.e. delta was a real, non-trivial refinement). This is
// the concrete Meet/Refine pair spec.md's data model promises but leaves
// unnamed (SPEC_FULL module addition #3).
func (c CapabilitySet) Refine(delta CapabilitySet) (CapabilitySet, bool) {
	result := c.MeetSet(delta)
	return result, !actionsEqual(result.Actions, c.Actions)
}

func actionsEqual(a, b []Action) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Bytes returns the canonical, order-independent encoding of the set,
// satisfying journal.CapabilityRefiner.
func (c CapabilitySet) Bytes() []byte {
	b, _ := journal.CanonicalEncode(c)
	return b
}

// Meet implements journal.CapabilityRefiner, adapting a
// journal.CapabilityRefiner delta (itself expected to be a CapabilitySet)
// into the typed MeetSet/Refine above.
func (c CapabilitySet) Meet(delta journal.CapabilityRefiner) (journal.CapabilityRefiner, bool) {
	other, ok := delta.(CapabilitySet)
	if !ok {
		return c, false
	}
	refined, changed := c.Refine(other)
	return refined, changed
}

var _ journal.CapabilityRefiner = CapabilitySet{}

// Token is a signed capability grant: a principal attests that holder may
// exercise grant within a delegation chain no deeper than MaxDepth, expiring
// at Expiry.
type Token struct {
	Holder    ids.AuthorityId `json:"holder"`
	Issuer    ids.AuthorityId `json:"issuer"`
	Grant     CapabilitySet   `json:"grant"`
	IssuedAt  int64           `json:"issued_at"`  // unix nanoseconds
	Expiry    int64           `json:"expiry"`      // unix nanoseconds; 0 means no expiry
	Depth     int             `json:"depth"`       // number of delegation hops from the root
	MaxDepth  int             `json:"max_depth"`
	Parent    *Token          `json:"parent,omitempty"`
	Signature []byte          `json:"signature"`
}

// signingBytes returns the bytes the issuer signs over: everything except
// the signature itself and the parent pointer (the parent's own signature
// already commits to its content; re-signing it here would be redundant
// and would break if the parent's representation changes).
func (t Token) signingBytes() ([]byte, error) {
	cp := t
	cp.Signature = nil
	cp.Parent = nil
	return journal.CanonicalEncode(cp)
}

// Issue creates a root token (Depth 0) signed by issuerKey.
func Issue(issuer ids.AuthorityId, issuerKey ed25519.PrivateKey, holder ids.AuthorityId, grant CapabilitySet, issuedAt, expiry int64, maxDepth int) (Token, error) {
	t := Token{
		Holder:   holder,
		Issuer:   issuer,
		Grant:    grant,
		IssuedAt: issuedAt,
		Expiry:   expiry,
		Depth:    0,
		MaxDepth: maxDepth,
	}
	msg, err := t.signingBytes()
	if err != nil {
		return Token{}, fmt.Errorf("capability: encoding token for signing: %w", err)
	}
	t.Signature = ed25519.Sign(issuerKey, msg)
	return t, nil
}

// Delegate creates a child token narrowing parent's grant to a subset,
// signed by the parent holder's key (who becomes the child's issuer). The
// child's grant must be a refinement of the parent's (never wider), and the
// resulting depth must not exceed parent.MaxDepth.
func Delegate(parent Token, parentHolderKey ed25519.PrivateKey, newHolder ids.AuthorityId, grant CapabilitySet, issuedAt, expiry int64) (Token, error) {
	if parent.Depth+1 > parent.MaxDepth {
		return Token{}, ErrDepthExceeded
	}
	if !capabilitySubset(grant, parent.Grant) {
		return Token{}, ErrNotRefinement
	}
	child := Token{
		Holder:   newHolder,
		Issuer:   parent.Holder,
		Grant:    grant,
		IssuedAt: issuedAt,
		Expiry:   expiry,
		Depth:    parent.Depth + 1,
		MaxDepth: parent.MaxDepth,
		Parent:   &parent,
	}
	msg, err := child.signingBytes()
	if err != nil {
		return Token{}, fmt.Errorf("capability: encoding delegated token for signing: %w", err)
	}
	child.Signature = ed25519.Sign(parentHolderKey, msg)
	return child, nil
}

func capabilitySubset(child, parent CapabilitySet) bool {
	if child.ContextID != parent.ContextID {
		return false
	}
	for _, a := range child.Actions {
		if !parent.Has(a) {
			return false
		}
	}
	return true
}

// Verify checks that the token has not expired as of now (a token is
// expired at and after Expiry), checks its own signature against
// issuerKey, and — if it has a parent — checks that its grant refines the
// parent's and that its depth is the parent's plus one. The parent's own
// signature and expiry, and any further ancestors, are not verified.
func (t Token) Verify(issuerKey ed25519.PublicKey, now int64) error {
	if t.Expiry != 0 && now >= t.Expiry {
		return ErrExpired
	}
	msg, err := t.signingBytes()
	if err != nil {
		return fmt.Errorf("capability: encoding token for verification: %w", err)
	}
	if !ed25519.Verify(issuerKey, msg, t.Signature) {
		return ErrSignatureInvalid
	}
	if t.Parent != nil {
		if !capabilitySubset(t.Grant, t.Parent.Grant) {
			return ErrNotRefinement
		}
		if t.Depth != t.Parent.Depth+1 {
			return fmt.Errorf("capability: depth discontinuity: token depth %d, parent depth %d", t.Depth, t.Parent.Depth)
		}
	}
	return nil
}

// RootKeyRing tracks the set of currently-valid root issuer public keys,
// supporting rotation the way the teacher's pkg/crypto/bls/key_manager.go
// rotates BLS keys: old keys remain valid for verification until explicitly
// retired, new keys become the signing default immediately.
type RootKeyRing struct {
	active  ed25519.PublicKey
	retired map[string]ed25519.PublicKey
}

// NewRootKeyRing creates a ring with activeKey as the current signing key.
func NewRootKeyRing(activeKey ed25519.PublicKey) *RootKeyRing {
	return &RootKeyRing{active: activeKey, retired: make(map[string]ed25519.PublicKey)}
}

// Rotate retires the current active key (kept for verification only) and
// installs newKey as active.
func (r *RootKeyRing) Rotate(newKey ed25519.PublicKey) {
	r.retired[string(r.active)] = r.active
	r.active = newKey
}

// Active returns the current signing key.
func (r *RootKeyRing) Active() ed25519.PublicKey { return r.active }

// CanVerify reports whether key is either the active key or a retired key
// still accepted for verifying previously issued tokens.
func (r *RootKeyRing) CanVerify(key ed25519.PublicKey) bool {
	if string(key) == string(r.active) {
		return true
	}
	_, ok := r.retired[string(key)]
	return ok
}

// expiryOrZero is a small helper kept for readability at call sites that
// compute a relative expiry from a duration.
func expiryOrZero(now int64, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now + int64(ttl)
}
