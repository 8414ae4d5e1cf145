// Copyright 2025 Aura Project
//
// Package cometbftkv adapts a cometbft-db key-value store to the
// effectcore.KV effect interface, backing the plain Storage effect family
// (journal snapshots, ceremony checkpoints, sync OpLogs). Grounded
// directly on the teacher's pkg/kvdb/adapter.go KVAdapter.

package cometbftkv

import (
	"context"
	"fmt"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/aura-network/aura/pkg/effectcore"
)

// Store wraps a cometbft-db dbm.DB and exposes effectcore.KV, the same
// wrapping role the teacher's KVAdapter plays for ledger.KV.
type Store struct {
	db   dbm.DB
	mode effectcore.ExecutionMode
}

// New wraps db for production use. A nil db degrades every call to a
// not-found/no-op response, matching the teacher adapter's nil-db guard.
func New(db dbm.DB) *Store {
	return &Store{db: db, mode: effectcore.ModeProduction}
}

func (s *Store) Capabilities() []effectcore.EffectFamily {
	return []effectcore.EffectFamily{effectcore.FamilyStorage}
}
func (s *Store) Mode() effectcore.ExecutionMode { return s.mode }

// Get implements effectcore.KV.Get. A missing key returns (nil, nil), the
// same "nil means absent" convention the teacher's adapter documents.
func (s *Store) Get(_ context.Context, key []byte) ([]byte, error) {
	if s.db == nil {
		return nil, nil
	}
	v, err := s.db.Get(key)
	if err != nil {
		return nil, effectcore.NewError(effectcore.KindInternal, "cometbft-db get", err)
	}
	return v, nil
}

// Put implements effectcore.KV.Put, using SetSync for durable writes the
// way the teacher's adapter does at commit time.
func (s *Store) Put(_ context.Context, key, value []byte) error {
	if s.db == nil {
		return nil
	}
	if err := s.db.SetSync(key, value); err != nil {
		return effectcore.NewError(effectcore.KindInternal, "cometbft-db set", err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key []byte) error {
	if s.db == nil {
		return nil
	}
	if err := s.db.DeleteSync(key); err != nil {
		return effectcore.NewError(effectcore.KindInternal, "cometbft-db delete", err)
	}
	return nil
}

// ListPrefix returns every value whose key starts with prefix, iterating
// the half-open range [prefix, prefixUpperBound).
func (s *Store) ListPrefix(_ context.Context, prefix []byte) ([][]byte, error) {
	if s.db == nil {
		return nil, nil
	}
	end := prefixUpperBound(prefix)
	iter, err := s.db.Iterator(prefix, end)
	if err != nil {
		return nil, effectcore.NewError(effectcore.KindInternal, "cometbft-db iterator", err)
	}
	defer iter.Close()

	var out [][]byte
	for ; iter.Valid(); iter.Next() {
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		out = append(out, value)
	}
	if err := iter.Error(); err != nil {
		return nil, effectcore.NewError(effectcore.KindInternal, "cometbft-db iteration", err)
	}
	return out, nil
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix, by incrementing the last non-0xff byte and truncating
// any trailing 0xff bytes — the standard prefix-scan upper bound cometbft-
// db's own helpers use internally.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil // all 0xff: no upper bound, scans to the end of the keyspace
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("cometbftkv: closing store: %w", err)
	}
	return nil
}
