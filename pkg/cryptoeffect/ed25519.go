// Copyright 2025 Aura Project
//
// Package cryptoeffect implements the production Crypto effect handler and
// the guardian-recovery cryptographic primitives: device/guardian
// signatures (ed25519), threshold signing and Feldman verifiable secret
// sharing over bls12-381 (gnark-crypto), and share encryption
// (golang.org/x/crypto hkdf + chacha20poly1305). Grounded on the
// teacher's pkg/attestation/strategy/ed25519_strategy.go and
// pkg/crypto/bls/bls.go.

package cryptoeffect

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/aura-network/aura/pkg/effectcore"
)

// Ed25519Handler is the production Crypto effect handler backing device and
// guardian signatures with stdlib ed25519, the scheme the teacher's
// ed25519_strategy.go wraps for non-BLS chains.
type Ed25519Handler struct {
	mode effectcore.ExecutionMode
}

// NewEd25519Handler creates a production-mode handler.
func NewEd25519Handler() *Ed25519Handler {
	return &Ed25519Handler{mode: effectcore.ModeProduction}
}

func (h *Ed25519Handler) Capabilities() []effectcore.EffectFamily {
	return []effectcore.EffectFamily{effectcore.FamilyCrypto}
}
func (h *Ed25519Handler) Mode() effectcore.ExecutionMode { return h.mode }

// Sign expects key to be a 64-byte ed25519.PrivateKey seed+pub encoding.
func (h *Ed25519Handler) Sign(_ context.Context, key []byte, message []byte) ([]byte, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, effectcore.NewError(effectcore.KindInvalid,
			fmt.Sprintf("ed25519 private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(key)), nil)
	}
	return ed25519.Sign(ed25519.PrivateKey(key), message), nil
}

func (h *Ed25519Handler) Verify(_ context.Context, pubKey, message, signature []byte) (bool, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return false, effectcore.NewError(effectcore.KindInvalid,
			fmt.Sprintf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pubKey)), nil)
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), message, signature), nil
}

// Hash returns the SHA-256 digest, the same hash pkg/ids uses for
// content addressing.
func (h *Ed25519Handler) Hash(_ context.Context, data []byte) ([]byte, error) {
	sum := sha256.Sum256(data)
	return sum[:], nil
}
