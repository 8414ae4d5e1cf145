// Copyright 2025 Aura Project

package firestore

import (
	"context"
	"testing"
	"time"

	"github.com/aura-network/aura/pkg/effectcore"
)

func TestNew_DisabledProducesNoOpStore(t *testing.T) {
	s, err := New(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.firestore != nil {
		t.Fatalf("expected no firestore client when disabled")
	}
}

func TestNew_EnabledWithoutProjectIDFails(t *testing.T) {
	if _, err := New(context.Background(), Config{Enabled: true}); err == nil {
		t.Fatalf("expected error when enabled without a project id")
	}
}

func TestStore_DisabledGetReturnsNilNoError(t *testing.T) {
	s, err := New(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	proof := effectcore.CapabilityProof{Subject: "account-1", Actions: []string{"recovery.share.read"}}
	got, err := s.Get(context.Background(), proof, []byte("share-key"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil value from disabled store, got %q", got)
	}
}

func TestStore_DisabledPutIsNoOp(t *testing.T) {
	s, err := New(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	proof := effectcore.CapabilityProof{Subject: "account-1", Actions: []string{"recovery.share.write"}}
	if err := s.Put(context.Background(), proof, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("expected disabled put to no-op, got %v", err)
	}
}

func TestStore_DisabledDeleteIsNoOp(t *testing.T) {
	s, err := New(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	proof := effectcore.CapabilityProof{Subject: "account-1"}
	if err := s.Delete(context.Background(), proof, []byte("k")); err != nil {
		t.Fatalf("expected disabled delete to no-op, got %v", err)
	}
}

func TestStore_DisabledRecordAuditIsNoOp(t *testing.T) {
	s, err := New(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	entry := AuditEntry{
		AccountID: "account-1",
		Operation: "guardian_setup_begin",
		Actor:     "device-1",
		Timestamp: time.Unix(0, 1000),
	}
	if err := s.RecordAudit(context.Background(), entry); err != nil {
		t.Fatalf("expected disabled audit record to no-op, got %v", err)
	}
}

func TestStore_CapabilitiesAndMode(t *testing.T) {
	s, err := New(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	caps := s.Capabilities()
	if len(caps) != 1 || caps[0] != effectcore.FamilySecureStorage {
		t.Fatalf("expected [FamilySecureStorage], got %v", caps)
	}
	if s.Mode() != effectcore.ModeProduction {
		t.Fatalf("expected ModeProduction, got %v", s.Mode())
	}
}

func TestStore_CloseWithoutClientIsNoOp(t *testing.T) {
	s, err := New(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("expected close without a client to no-op, got %v", err)
	}
}
