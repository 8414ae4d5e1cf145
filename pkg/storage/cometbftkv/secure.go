// Copyright 2025 Aura Project

package cometbftkv

import (
	"context"

	"github.com/aura-network/aura/pkg/effectcore"
)

// SecureStore adapts a Store to effectcore.SecureKV for secret material
// (guardian shares, device signing keys) that must carry a capability
// proof per call. The proof itself is opaque here by design
// (effectcore.CapabilityProof's own doc comment): the guard chain already
// evaluated it before issuing the effect command, so this layer only
// refuses a call that arrives with no subject at all, the one case that
// indicates the proof was never constructed by the guard chain.
type SecureStore struct {
	*Store
	namespace []byte
}

// NewSecure wraps db for secure-KV use under the given key namespace
// prefix, keeping secret material in its own keyspace from the plain
// Storage effect's.
func NewSecure(store *Store, namespace []byte) *SecureStore {
	return &SecureStore{Store: store, namespace: namespace}
}

func (s *SecureStore) Capabilities() []effectcore.EffectFamily {
	return []effectcore.EffectFamily{effectcore.FamilySecureStorage}
}

func (s *SecureStore) namespaced(key []byte) []byte {
	out := make([]byte, 0, len(s.namespace)+len(key))
	out = append(out, s.namespace...)
	return append(out, key...)
}

func (s *SecureStore) Get(ctx context.Context, proof effectcore.CapabilityProof, key []byte) ([]byte, error) {
	if proof.Subject == "" {
		return nil, effectcore.NewError(effectcore.KindPermissionDenied, "secure storage requires a non-empty capability proof subject", nil)
	}
	return s.Store.Get(ctx, s.namespaced(key))
}

func (s *SecureStore) Put(ctx context.Context, proof effectcore.CapabilityProof, key, value []byte) error {
	if proof.Subject == "" {
		return effectcore.NewError(effectcore.KindPermissionDenied, "secure storage requires a non-empty capability proof subject", nil)
	}
	return s.Store.Put(ctx, s.namespaced(key), value)
}

func (s *SecureStore) Delete(ctx context.Context, proof effectcore.CapabilityProof, key []byte) error {
	if proof.Subject == "" {
		return effectcore.NewError(effectcore.KindPermissionDenied, "secure storage requires a non-empty capability proof subject", nil)
	}
	return s.Store.Delete(ctx, s.namespaced(key))
}

var _ effectcore.SecureKV = (*SecureStore)(nil)
