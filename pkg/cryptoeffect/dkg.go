// Copyright 2025 Aura Project
//
// Feldman verifiable secret sharing for guardian setup (§4.7 setup phase):
// a dealer splits the account's recovery secret into n shares, any k of
// which reconstruct it, and publishes commitments so each guardian can
// verify its own share without trusting the dealer. The polynomial
// evaluation and commitment structure follow other_examples' kyber DKG
// file's Round1GenerateCommitments/Round2GenerateShares pattern, but are
// carried out directly in the bls12-381 scalar field (gnark-crypto)
// instead of kyber's edwards25519 suite, since the resulting shares feed
// threshold.go's BLS12-381 partial-signature combination: a share must
// live in the same scalar field as the signature it helps produce, and
// the two curves do not share one.

package cryptoeffect

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// GuardianShare is one guardian's point on the dealer's secret-sharing
// polynomial: f(index) for guardian at 1-based index.
type GuardianShare struct {
	Index int
	Value fr.Element
}

// ShareCommitments are the dealer's Feldman commitments to the polynomial
// coefficients (as G1 points), published so each guardian can verify its
// share.
type ShareCommitments struct {
	Points []bls12381.G1Affine
}

// RandomScalar draws a uniformly random scalar in the bls12-381 scalar
// field, used both for the dealer's secret and its polynomial coefficients.
func RandomScalar() (fr.Element, error) {
	var out fr.Element
	var buf [fr.Bytes]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return out, fmt.Errorf("cryptoeffect: reading randomness: %w", err)
	}
	out.SetBytes(buf[:])
	return out, nil
}

// DealerSplit runs the dealer side of setup: picks a random degree-(k-1)
// polynomial with the given secret as its constant term, evaluates it at
// guardians 1..n, and returns both the shares and the public commitments.
func DealerSplit(secret fr.Element, k, n int) ([]GuardianShare, ShareCommitments, error) {
	initThreshold()
	if k < 1 || k > n {
		return nil, ShareCommitments{}, fmt.Errorf("cryptoeffect: invalid threshold k=%d for n=%d guardians", k, n)
	}

	_, _, g1Gen, _ := bls12381.Generators()

	coeffs := make([]fr.Element, k)
	coeffs[0] = secret
	for i := 1; i < k; i++ {
		c, err := RandomScalar()
		if err != nil {
			return nil, ShareCommitments{}, err
		}
		coeffs[i] = c
	}

	commitments := make([]bls12381.G1Affine, k)
	for i, c := range coeffs {
		cBig := c.BigInt(new(big.Int))
		var commitment bls12381.G1Affine
		commitment.ScalarMultiplication(&g1Gen, cBig)
		commitments[i] = commitment
	}

	shares := make([]GuardianShare, n)
	for idx := 1; idx <= n; idx++ {
		shares[idx-1] = GuardianShare{Index: idx, Value: evalPolynomial(coeffs, idx)}
	}

	return shares, ShareCommitments{Points: commitments}, nil
}

// evalPolynomial computes sum(coeffs[i] * x^i) over fr by accumulating
// each coefficient times a running power of x.
func evalPolynomial(coeffs []fr.Element, x int) fr.Element {
	var result fr.Element
	xPow := fr.NewElement(1)
	xScalar := fr.NewElement(uint64(x))

	for _, c := range coeffs {
		var term fr.Element
		term.Mul(&c, &xPow)
		result.Add(&result, &term)
		xPow.Mul(&xPow, &xScalar)
	}
	return result
}

// VerifyShare checks guardian share s against the dealer's published
// commitments: g^s == prod(commitments[i]^(index^i)), the Feldman check.
func VerifyShare(s GuardianShare, commitments ShareCommitments) bool {
	initThreshold()
	_, _, g1Gen, _ := bls12381.Generators()

	var lhs bls12381.G1Affine
	vBig := s.Value.BigInt(new(big.Int))
	lhs.ScalarMultiplication(&g1Gen, vBig)

	var rhs bls12381.G1Jac
	xPow := fr.NewElement(1)
	xScalar := fr.NewElement(uint64(s.Index))
	first := true
	for _, commitment := range commitments.Points {
		xPowBig := xPow.BigInt(new(big.Int))
		var term bls12381.G1Affine
		term.ScalarMultiplication(&commitment, xPowBig)
		var termJac bls12381.G1Jac
		termJac.FromAffine(&term)
		if first {
			rhs = termJac
			first = false
		} else {
			rhs.AddAssign(&termJac)
		}
		xPow.Mul(&xPow, &xScalar)
	}
	var rhsAffine bls12381.G1Affine
	rhsAffine.FromJacobian(&rhs)

	return lhs.Equal(&rhsAffine)
}

// GroupCommitment returns the commitment to the shared secret itself
// (the degree-0 coefficient's commitment), published as the account's
// recovery group identity in G1. The group's G2 public key (used for
// threshold signature verification) is derived from the same secret by
// the setup ceremony's coordinator (GroupPublicKeyFromSecret), right after
// the secret is split.
func (c ShareCommitments) GroupCommitment() bls12381.G1Affine {
	if len(c.Points) == 0 {
		var zero bls12381.G1Affine
		return zero
	}
	return c.Points[0]
}

// MarshalShare encodes a guardian's scalar share for storage under the
// secure KV effect (encrypted separately, see shareenc.go).
func MarshalShare(s GuardianShare) ([]byte, error) {
	b := s.Value.Bytes()
	return b[:], nil
}

// UnmarshalShare decodes a previously marshaled scalar share for guardian
// index.
func UnmarshalShare(index int, data []byte) (GuardianShare, error) {
	var v fr.Element
	if err := v.SetBytesCanonical(data); err != nil {
		return GuardianShare{}, fmt.Errorf("cryptoeffect: unmarshaling guardian share: %w", err)
	}
	return GuardianShare{Index: index, Value: v}, nil
}
