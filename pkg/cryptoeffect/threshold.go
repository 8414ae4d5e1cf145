// Copyright 2025 Aura Project

package cryptoeffect

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

var (
	initThresholdOnce sync.Once
	g2Gen             bls12381.G2Affine
)

func initThreshold() {
	initThresholdOnce.Do(func() {
		_, _, _, g2 := bls12381.Generators()
		g2Gen = g2
	})
}

// GroupPublicKey is the recovery authority's published public-key package:
// the group's BLS12-381 G2 point, derived from the dealer's shared secret
// (GroupPublicKeyFromSecret), against which combined threshold signatures
// verify. Named GroupPublicKey rather than PublicKey to distinguish it from
// any individual guardian's own device key.
type GroupPublicKey struct {
	point bls12381.G2Affine
}

// Bytes returns the compressed G2 encoding.
func (pk *GroupPublicKey) Bytes() []byte {
	b := pk.point.Bytes()
	return b[:]
}

// GroupPublicKeyFromSecret derives the group's G2 public key from its
// secret scalar (secret * G2), the same relationship an individual
// guardian's keypair has in the teacher's bls.go PrivateKey.PublicKey.
// The setup ceremony calls this once, immediately after DealerSplit,
// before the secret scalar goes out of scope; it is never persisted.
func GroupPublicKeyFromSecret(secret fr.Element) *GroupPublicKey {
	initThreshold()
	var secretBig big.Int
	secret.BigInt(&secretBig)
	var pub bls12381.G2Affine
	pub.ScalarMultiplication(&g2Gen, &secretBig)
	return &GroupPublicKey{point: pub}
}

// GroupPublicKeyFromBytes parses a compressed G2 point.
func GroupPublicKeyFromBytes(data []byte) (*GroupPublicKey, error) {
	initThreshold()
	var p bls12381.G2Affine
	if _, err := p.SetBytes(data); err != nil {
		return nil, fmt.Errorf("cryptoeffect: parsing group public key: %w", err)
	}
	return &GroupPublicKey{point: p}, nil
}

// ShareSigningKey is one guardian's Shamir share of the group secret,
// indexed by the guardian's signer index (1-based, matching the DKG
// polynomial evaluation point).
type ShareSigningKey struct {
	Index  int
	Scalar fr.Element
}

// PartialSignature is one guardian's signature share over a recovery
// payload, produced with its ShareSigningKey.
type PartialSignature struct {
	Index int
	Point bls12381.G1Affine
}

// hashToG1 hashes message to a point on G1, matching the teacher's
// hash-and-try approach in pkg/crypto/bls/bls.go.
func hashToG1(message []byte) bls12381.G1Affine {
	h := sha256.New()
	h.Write([]byte("AURA_RECOVERY_BLS12381G1_XMD:SHA-256_SSWU_RO_"))
	h.Write(message)
	base := h.Sum(nil)

	var counter uint64
	for {
		h2 := sha256.New()
		h2.Write(base)
		var ctrBuf [8]byte
		binary.BigEndian.PutUint64(ctrBuf[:], counter)
		h2.Write(ctrBuf[:])
		candidate := h2.Sum(nil)

		var point bls12381.G1Affine
		if _, err := point.SetBytes(candidate); err == nil && !point.IsInfinity() {
			return point
		}
		counter++
	}
}

// Sign produces this guardian's partial signature over message.
func (k ShareSigningKey) Sign(message []byte) PartialSignature {
	initThreshold()
	h := hashToG1(message)
	var skBig big.Int
	k.Scalar.BigInt(&skBig)
	var sig bls12381.G1Affine
	sig.ScalarMultiplication(&h, &skBig)
	return PartialSignature{Index: k.Index, Point: sig}
}

var (
	ErrInsufficientShares = errors.New("cryptoeffect: fewer than threshold partial signatures supplied")
	ErrCombineFailed      = errors.New("cryptoeffect: threshold signature combination failed")
)

// CombinePartialSignatures reconstructs the group signature over message
// from at least threshold partial signatures, using Lagrange interpolation
// in the exponent: combined = sum(lambda_i * sig_i) where lambda_i is the
// Lagrange coefficient of guardian i's index evaluated at x=0 over the
// index set actually present.
func CombinePartialSignatures(shares []PartialSignature, threshold int) (*bls12381.G1Affine, error) {
	initThreshold()
	if len(shares) < threshold {
		return nil, ErrInsufficientShares
	}
	indices := make([]int, len(shares))
	for i, s := range shares {
		indices[i] = s.Index
	}

	var acc bls12381.G1Jac
	accSet := false
	for _, s := range shares {
		lambda := lagrangeCoefficientAtZero(s.Index, indices)
		var lambdaBig big.Int
		lambda.BigInt(&lambdaBig)
		var term bls12381.G1Affine
		term.ScalarMultiplication(&s.Point, &lambdaBig)

		var termJac bls12381.G1Jac
		termJac.FromAffine(&term)
		if !accSet {
			acc = termJac
			accSet = true
		} else {
			acc.AddAssign(&termJac)
		}
	}
	if !accSet {
		return nil, ErrCombineFailed
	}
	var result bls12381.G1Affine
	result.FromJacobian(&acc)
	return &result, nil
}

// lagrangeCoefficientAtZero computes the Lagrange basis polynomial for
// index i, evaluated at x=0, over the full set of participating indices.
func lagrangeCoefficientAtZero(i int, indices []int) fr.Element {
	num := fr.NewElement(1)
	den := fr.NewElement(1)
	xi := fr.NewElement(uint64(i))
	for _, j := range indices {
		if j == i {
			continue
		}
		xj := fr.NewElement(uint64(j))
		// numerator *= (0 - xj) = -xj
		negXj := new(fr.Element).Neg(&xj)
		num.Mul(&num, negXj)
		// denominator *= (xi - xj)
		diff := new(fr.Element).Sub(&xi, &xj)
		den.Mul(&den, diff)
	}
	denInv := new(fr.Element).Inverse(&den)
	var out fr.Element
	out.Mul(&num, denInv)
	return out
}

// VerifyThresholdSignature checks a combined G1 signature against the
// group public key, exactly as the teacher's PublicKey.Verify pairing
// check does for an individual BLS signature.
func VerifyThresholdSignature(groupPub *GroupPublicKey, sig *bls12381.G1Affine, message []byte) bool {
	initThreshold()
	h := hashToG1(message)
	var negPk bls12381.G2Affine
	negPk.Neg(&groupPub.point)
	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{*sig, h},
		[]bls12381.G2Affine{g2Gen, negPk},
	)
	if err != nil {
		return false
	}
	return ok
}
