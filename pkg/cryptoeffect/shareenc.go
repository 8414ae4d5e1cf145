// Copyright 2025 Aura Project
//
// Share encryption: each guardian's DKG share is encrypted at rest with a
// key derived from that guardian's device key via HKDF, then sealed with
// ChaCha20-Poly1305, per the teacher's stack's golang.org/x/crypto usage
// (the pack's remaining x/crypto-dependent examples use hkdf+AEAD for
// exactly this at-rest sealing role).

package cryptoeffect

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const shareEncryptionInfo = "aura-guardian-share-v1"

// DeriveShareKey derives a 32-byte ChaCha20-Poly1305 key from a guardian's
// long-lived device secret and the account context it is wrapping a share
// for, so the same device key never produces the same wrapping key across
// two accounts.
func DeriveShareKey(deviceSecret, accountContext []byte) ([]byte, error) {
	hkdfReader := hkdf.New(sha256.New, deviceSecret, accountContext, []byte(shareEncryptionInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		return nil, fmt.Errorf("cryptoeffect: deriving share key: %w", err)
	}
	return key, nil
}

// SealShare encrypts plaintext (a marshaled GuardianShare) under key,
// returning nonce||ciphertext for storage.
func SealShare(key, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoeffect: constructing AEAD: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptoeffect: generating nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, additionalData)
	return append(nonce, sealed...), nil
}

// OpenShare decrypts a value produced by SealShare.
func OpenShare(key, sealed, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoeffect: constructing AEAD: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("cryptoeffect: sealed share too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("cryptoeffect: opening sealed share: %w", err)
	}
	return plaintext, nil
}
