// Copyright 2025 Aura Project
//
// Package ids defines the opaque 32-byte fingerprint identifiers shared
// across the core: authorities, devices, accounts, contexts, ceremonies,
// and the generic content digest they are derived from.

package ids

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash32 is a 32-byte content digest.
type Hash32 [32]byte

// HashBytes returns the SHA-256 digest of data as a Hash32.
func HashBytes(data ...[]byte) Hash32 {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	var out Hash32
	copy(out[:], h.Sum(nil))
	return out
}

func (h Hash32) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero digest.
func (h Hash32) IsZero() bool { return h == Hash32{} }

// Compare gives a total byte-lex order over Hash32, used by the journal's
// tiebreak rule.
func (h Hash32) Compare(o Hash32) int { return bytes.Compare(h[:], o[:]) }

// fingerprint is the common representation behind every opaque identifier
// type below: either a random 32-byte value (entropy-derived) or a content
// hash (content-addressed). Both are indistinguishable once minted.
type fingerprint = Hash32

// AuthorityId identifies any entity — device, guardian, account principal —
// that can originate a signed intent.
type AuthorityId fingerprint

// DeviceId identifies a single user-owned device.
type DeviceId fingerprint

// AccountId identifies an Aura account: the journal's unit of ownership.
type AccountId fingerprint

// ContextId identifies an isolation boundary for authorization, leakage
// accounting, and fact scoping.
type ContextId fingerprint

// CeremonyId identifies a single threshold-gated coordination event.
type CeremonyId fingerprint

func (a AuthorityId) String() string { return Hash32(a).String() }
func (d DeviceId) String() string    { return Hash32(d).String() }
func (a AccountId) String() string   { return Hash32(a).String() }
func (c ContextId) String() string   { return Hash32(c).String() }
func (c CeremonyId) String() string  { return Hash32(c).String() }

func (a AuthorityId) IsZero() bool { return Hash32(a).IsZero() }
func (d DeviceId) IsZero() bool    { return Hash32(d).IsZero() }
func (a AccountId) IsZero() bool   { return Hash32(a).IsZero() }
func (c ContextId) IsZero() bool   { return Hash32(c).IsZero() }
func (c CeremonyId) IsZero() bool  { return Hash32(c).IsZero() }

func (a AuthorityId) Compare(o AuthorityId) int { return Hash32(a).Compare(Hash32(o)) }
func (d DeviceId) Compare(o DeviceId) int       { return Hash32(d).Compare(Hash32(o)) }
func (a AccountId) Compare(o AccountId) int     { return Hash32(a).Compare(Hash32(o)) }
func (c ContextId) Compare(o ContextId) int     { return Hash32(c).Compare(Hash32(o)) }
func (c CeremonyId) Compare(o CeremonyId) int   { return Hash32(c).Compare(Hash32(o)) }

// NewRandom mints an entropy-derived identifier of the requested kind using
// crypto/rand. Used for identifiers with no natural content to hash (e.g. a
// freshly registered device's own DeviceId).
func NewRandom() (Hash32, error) {
	var h Hash32
	if _, err := rand.Read(h[:]); err != nil {
		return Hash32{}, fmt.Errorf("ids: reading random bytes: %w", err)
	}
	return h, nil
}

// MustNewRandom panics on entropy failure. Reserved for paths (tests,
// simulation handlers) where a failing CSPRNG is already fatal.
func MustNewRandom() Hash32 {
	h, err := NewRandom()
	if err != nil {
		panic(err)
	}
	return h
}

// DeriveAccountId content-addresses an account from its genesis device set
// and creation time, so two peers independently bootstrapping the same
// genesis material converge on the same AccountId.
func DeriveAccountId(genesisDeviceIds []DeviceId, createdAtUnixNano int64) AccountId {
	h := sha256.New()
	for _, d := range genesisDeviceIds {
		h.Write(d[:])
	}
	var nanoBuf [8]byte
	putUint64(nanoBuf[:], uint64(createdAtUnixNano))
	h.Write(nanoBuf[:])
	var out AccountId
	copy(out[:], h.Sum(nil))
	return out
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}
