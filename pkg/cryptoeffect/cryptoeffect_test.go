// Copyright 2025 Aura Project

package cryptoeffect

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

func TestEd25519Handler_SignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	h := NewEd25519Handler()
	sig, err := h.Sign(context.Background(), priv, []byte("aura-message"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	ok, err := h.Verify(context.Background(), pub, []byte("aura-message"), sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify")
	}
}

func TestEd25519Handler_RejectsWrongKeySize(t *testing.T) {
	h := NewEd25519Handler()
	if _, err := h.Sign(context.Background(), []byte("too-short"), []byte("m")); err == nil {
		t.Fatalf("expected error for undersized key")
	}
}

func TestEd25519Handler_VerifyFailsOnTamperedMessage(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	h := NewEd25519Handler()
	sig, _ := h.Sign(context.Background(), priv, []byte("original"))
	ok, err := h.Verify(context.Background(), pub, []byte("tampered"), sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("expected verification to fail for tampered message")
	}
}

func mustSecret(t *testing.T) fr.Element {
	t.Helper()
	s, err := RandomScalar()
	if err != nil {
		t.Fatalf("random scalar: %v", err)
	}
	return s
}

func TestDealerSplit_ThresholdReconstructionVerifiesAgainstCommitments(t *testing.T) {
	secret := mustSecret(t)
	shares, commitments, err := DealerSplit(secret, 3, 5)
	if err != nil {
		t.Fatalf("dealer split: %v", err)
	}
	if len(shares) != 5 {
		t.Fatalf("expected 5 shares, got %d", len(shares))
	}
	for _, s := range shares {
		if !VerifyShare(s, commitments) {
			t.Errorf("share for guardian %d failed Feldman verification", s.Index)
		}
	}
}

func TestVerifyShare_RejectsTamperedShare(t *testing.T) {
	secret := mustSecret(t)
	shares, commitments, err := DealerSplit(secret, 2, 3)
	if err != nil {
		t.Fatalf("dealer split: %v", err)
	}
	tampered := shares[0]
	var one fr.Element
	one.SetOne()
	tampered.Value.Add(&tampered.Value, &one)
	if VerifyShare(tampered, commitments) {
		t.Fatalf("expected tampered share to fail verification")
	}
}

func TestMarshalUnmarshalShare_RoundTrip(t *testing.T) {
	secret := mustSecret(t)
	shares, _, err := DealerSplit(secret, 2, 3)
	if err != nil {
		t.Fatalf("dealer split: %v", err)
	}
	encoded, err := MarshalShare(shares[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := UnmarshalShare(shares[0].Index, encoded)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Value.Equal(&shares[0].Value) {
		t.Fatalf("round-tripped share does not match original")
	}
}

func TestDealerSplit_RejectsInvalidThreshold(t *testing.T) {
	secret := mustSecret(t)
	if _, _, err := DealerSplit(secret, 4, 3); err == nil {
		t.Fatalf("expected error when k > n")
	}
}

func TestShareEncryption_SealOpenRoundTrip(t *testing.T) {
	key, err := DeriveShareKey([]byte("device-secret-material"), []byte("account-context"))
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	plaintext := []byte("guardian-share-bytes")
	sealed, err := SealShare(key, plaintext, []byte("aad"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	opened, err := OpenShare(key, sealed, []byte("aad"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("opened plaintext does not match original")
	}
}

func TestShareEncryption_OpenFailsWithWrongKey(t *testing.T) {
	key1, _ := DeriveShareKey([]byte("device-a"), []byte("account"))
	key2, _ := DeriveShareKey([]byte("device-b"), []byte("account"))
	sealed, err := SealShare(key1, []byte("secret"), nil)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := OpenShare(key2, sealed, nil); err == nil {
		t.Fatalf("expected open with wrong key to fail")
	}
}

func TestDeriveShareKey_DifferentContextsProduceDifferentKeys(t *testing.T) {
	k1, _ := DeriveShareKey([]byte("device"), []byte("account-1"))
	k2, _ := DeriveShareKey([]byte("device"), []byte("account-2"))
	if bytes.Equal(k1, k2) {
		t.Fatalf("expected different account contexts to derive different keys")
	}
}

func TestThresholdSignature_CombineAndVerify(t *testing.T) {
	secret := mustSecret(t)
	shares, commitments, err := DealerSplit(secret, 3, 5)
	if err != nil {
		t.Fatalf("dealer split: %v", err)
	}
	_ = commitments

	signingShares := make([]ShareSigningKey, 0, len(shares))
	for _, s := range shares {
		signingShares = append(signingShares, ShareSigningKey{Index: s.Index, Scalar: s.Value})
	}

	message := []byte("recovery-authorize")
	partials := make([]PartialSignature, 0, 3)
	for _, sk := range signingShares[:3] {
		partials = append(partials, sk.Sign(message))
	}

	combined, err := CombinePartialSignatures(partials, 3)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}

	groupPub := GroupPublicKeyFromSecret(secret)
	if !VerifyThresholdSignature(groupPub, combined, message) {
		t.Fatalf("expected combined threshold signature to verify against group public key")
	}
}

func TestCombinePartialSignatures_RejectsBelowThreshold(t *testing.T) {
	sk := ShareSigningKey{Index: 1, Scalar: mustSecret(t)}
	partial := sk.Sign([]byte("m"))
	if _, err := CombinePartialSignatures([]PartialSignature{partial}, 3); err != ErrInsufficientShares {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
}
