// Copyright 2025 Aura Project
//
// ThresholdHandler is the production effectcore.ThresholdCrypto handler,
// adapting shareenc.go's HKDF/AEAD primitives and threshold.go's
// partial-signature combination to the byte-oriented effect interface so
// pkg/recovery never calls a concrete crypto backend directly.

package cryptoeffect

import (
	"context"
	"fmt"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"

	"github.com/aura-network/aura/pkg/effectcore"
)

// ThresholdHandler backs effectcore.ThresholdCrypto with this package's
// bls12-381 threshold math and chacha20poly1305/hkdf share sealing.
type ThresholdHandler struct {
	mode effectcore.ExecutionMode
}

// NewThresholdHandler creates a production-mode handler.
func NewThresholdHandler() *ThresholdHandler {
	return &ThresholdHandler{mode: effectcore.ModeProduction}
}

// NewThresholdHandlerForMode creates a handler pinned to mode, used by
// simulation/test dispatchers that mix it with a non-production
// SecureStorage handler (effectcore.Dispatcher refuses to register
// handlers of differing modes).
func NewThresholdHandlerForMode(mode effectcore.ExecutionMode) *ThresholdHandler {
	return &ThresholdHandler{mode: mode}
}

func (h *ThresholdHandler) Capabilities() []effectcore.EffectFamily {
	return []effectcore.EffectFamily{effectcore.FamilyThreshold}
}
func (h *ThresholdHandler) Mode() effectcore.ExecutionMode { return h.mode }

func (h *ThresholdHandler) DeriveShareKey(_ context.Context, deviceSecret, accountContext []byte) ([]byte, error) {
	return DeriveShareKey(deviceSecret, accountContext)
}

func (h *ThresholdHandler) SealShare(_ context.Context, key, plaintext, additionalData []byte) ([]byte, error) {
	return SealShare(key, plaintext, additionalData)
}

func (h *ThresholdHandler) OpenShare(_ context.Context, key, sealed, additionalData []byte) ([]byte, error) {
	return OpenShare(key, sealed, additionalData)
}

// CombinePartialSignatures parses each partial as a compressed G1 point
// paired positionally with indices, reconstructs the group signature, and
// returns its compressed encoding.
func (h *ThresholdHandler) CombinePartialSignatures(_ context.Context, partials [][]byte, indices []int, threshold int) ([]byte, error) {
	if len(partials) != len(indices) {
		return nil, fmt.Errorf("cryptoeffect: partials/indices length mismatch: %d vs %d", len(partials), len(indices))
	}
	shares := make([]PartialSignature, len(partials))
	for i, raw := range partials {
		var pt bls12381.G1Affine
		if _, err := pt.SetBytes(raw); err != nil {
			return nil, fmt.Errorf("cryptoeffect: parsing partial signature %d: %w", i, err)
		}
		shares[i] = PartialSignature{Index: indices[i], Point: pt}
	}
	combined, err := CombinePartialSignatures(shares, threshold)
	if err != nil {
		return nil, err
	}
	b := combined.Bytes()
	return b[:], nil
}

func (h *ThresholdHandler) VerifyThresholdSignature(_ context.Context, groupPubKey, signature, message []byte) (bool, error) {
	pub, err := GroupPublicKeyFromBytes(groupPubKey)
	if err != nil {
		return false, err
	}
	var sig bls12381.G1Affine
	if _, err := sig.SetBytes(signature); err != nil {
		return false, fmt.Errorf("cryptoeffect: parsing combined signature: %w", err)
	}
	return VerifyThresholdSignature(pub, &sig, message), nil
}

var _ effectcore.ThresholdCrypto = (*ThresholdHandler)(nil)
