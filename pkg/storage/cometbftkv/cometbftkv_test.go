// Copyright 2025 Aura Project

package cometbftkv

import (
	"bytes"
	"context"
	"testing"

	dbm "github.com/cometbft/cometbft-db"
)

func TestStore_PutGetRoundTrip(t *testing.T) {
	s := New(dbm.NewMemDB())
	ctx := context.Background()
	if err := s.Put(ctx, []byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, []byte("k1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, []byte("v1")) {
		t.Fatalf("expected v1, got %q", got)
	}
}

func TestStore_GetMissingKeyReturnsNilNoError(t *testing.T) {
	s := New(dbm.NewMemDB())
	got, err := s.Get(context.Background(), []byte("absent"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing key, got %q", got)
	}
}

func TestStore_Delete(t *testing.T) {
	s := New(dbm.NewMemDB())
	ctx := context.Background()
	_ = s.Put(ctx, []byte("k"), []byte("v"))
	if err := s.Delete(ctx, []byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ := s.Get(ctx, []byte("k"))
	if got != nil {
		t.Fatalf("expected key gone after delete, got %q", got)
	}
}

func TestStore_ListPrefix(t *testing.T) {
	s := New(dbm.NewMemDB())
	ctx := context.Background()
	_ = s.Put(ctx, []byte("journal/a"), []byte("1"))
	_ = s.Put(ctx, []byte("journal/b"), []byte("2"))
	_ = s.Put(ctx, []byte("ceremony/a"), []byte("3"))

	values, err := s.ListPrefix(ctx, []byte("journal/"))
	if err != nil {
		t.Fatalf("list prefix: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("expected 2 values under journal/, got %d", len(values))
	}
}

func TestStore_NilDBDegradesGracefully(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	if err := s.Put(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("put on nil db should no-op, got %v", err)
	}
	got, err := s.Get(ctx, []byte("k"))
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) from nil db, got (%q, %v)", got, err)
	}
}

func TestPrefixUpperBound_IncrementsLastByte(t *testing.T) {
	got := prefixUpperBound([]byte{0x01, 0x02})
	want := []byte{0x01, 0x03}
	if !bytes.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestPrefixUpperBound_TruncatesTrailingFF(t *testing.T) {
	got := prefixUpperBound([]byte{0x01, 0xff})
	want := []byte{0x02}
	if !bytes.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
