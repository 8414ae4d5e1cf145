// Copyright 2025 Aura Project

package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/aura-network/aura/pkg/ceremony"
	"github.com/aura-network/aura/pkg/cryptoeffect"
	"github.com/aura-network/aura/pkg/effectcore"
	"github.com/aura-network/aura/pkg/ids"
)

func authority(b byte) ids.AuthorityId {
	var h ids.Hash32
	h[0] = b
	return ids.AuthorityId(h)
}

func guardianSecrets(n int) map[ids.AuthorityId][]byte {
	out := make(map[ids.AuthorityId][]byte, n)
	for i := 0; i < n; i++ {
		out[authority(byte(i+1))] = []byte{byte(i + 1), 0xAA, 0xBB, 0xCC}
	}
	return out
}

func testDispatcher(t *testing.T) *effectcore.Dispatcher {
	t.Helper()
	d := effectcore.NewDispatcher()
	if err := d.RegisterSecureStorage(effectcore.NewMemorySecureKV(effectcore.ModeTest)); err != nil {
		t.Fatalf("registering secure storage: %v", err)
	}
	if err := d.RegisterThresholdCrypto(cryptoeffect.NewThresholdHandlerForMode(effectcore.ModeTest)); err != nil {
		t.Fatalf("registering threshold crypto: %v", err)
	}
	return d
}

func TestBeginSetup_SealsAndPersistsOneShareForEachGuardian(t *testing.T) {
	ctx := context.Background()
	dispatcher := testDispatcher(t)
	tracker := ceremony.New(ceremony.DefaultConfig())
	secrets := guardianSecrets(5)
	setup, err := BeginSetup(ctx, dispatcher, tracker, ids.AccountId(ids.MustNewRandom()), authority(0), secrets, 3, time.Hour, 1000)
	if err != nil {
		t.Fatalf("begin setup: %v", err)
	}
	if len(setup.Guardians) != 5 {
		t.Fatalf("expected 5 guardian entries, got %d", len(setup.Guardians))
	}
	secure, err := dispatcher.SecureStorage()
	if err != nil {
		t.Fatalf("secure storage: %v", err)
	}
	proof := effectcore.CapabilityProof{Subject: "test", Actions: []string{"guardian_setup"}}
	for a, gs := range setup.Guardians {
		if len(gs.SealedShare) == 0 {
			t.Errorf("guardian %s has no sealed share", a)
		}
		stored, err := secure.Get(ctx, proof, shareKVKey(setup.AccountID, a))
		if err != nil {
			t.Fatalf("fetching persisted share for %s: %v", a, err)
		}
		if len(stored) == 0 {
			t.Errorf("expected guardian %s's sealed share to be persisted to secure storage", a)
		}
	}
}

func TestBeginSetup_RejectsThresholdAboveGuardianCount(t *testing.T) {
	ctx := context.Background()
	dispatcher := testDispatcher(t)
	tracker := ceremony.New(ceremony.DefaultConfig())
	secrets := guardianSecrets(2)
	if _, err := BeginSetup(ctx, dispatcher, tracker, ids.AccountId(ids.MustNewRandom()), authority(0), secrets, 5, time.Hour, 1000); err == nil {
		t.Fatalf("expected error when k exceeds guardian count")
	}
}

func TestSetupAndRecovery_EndToEnd(t *testing.T) {
	ctx := context.Background()
	dispatcher := testDispatcher(t)
	tracker := ceremony.New(ceremony.DefaultConfig())
	secrets := guardianSecrets(5)
	accountID := ids.AccountId(ids.MustNewRandom())
	setup, err := BeginSetup(ctx, dispatcher, tracker, accountID, authority(0), secrets, 3, time.Hour, 1000)
	if err != nil {
		t.Fatalf("begin setup: %v", err)
	}

	var lastThresholdMet bool
	var lastDone bool
	for guardian := range setup.Guardians {
		lastThresholdMet, lastDone, err = setup.RecordAcceptance(tracker, guardian)
		if err != nil {
			t.Fatalf("record acceptance: %v", err)
		}
	}
	if !lastThresholdMet {
		t.Errorf("expected threshold met after all 5 of 5 accepted with k=3")
	}
	if !lastDone {
		t.Errorf("expected setup session done after every guardian responded")
	}

	participants := make([]ids.AuthorityId, 0, len(setup.Guardians))
	for a := range setup.Guardians {
		participants = append(participants, a)
	}

	signing, err := OpenRecovery(tracker, accountID, authority(0), participants, 3, setup.GroupPublicKey, []byte("new-device-commitment"), 0, time.Hour, 2000)
	if err != nil {
		t.Fatalf("open recovery: %v", err)
	}

	count := 0
	for guardian, gs := range setup.Guardians {
		if count >= 3 {
			break
		}
		_, err := signing.SubmitPartialSignature(ctx, dispatcher, tracker, guardian, gs.Index, gs.SealedShare, secrets[guardian])
		if err != nil {
			t.Fatalf("submit partial signature for %s: %v", guardian, err)
		}
		count++
	}

	combined, err := signing.Finalize(ctx, dispatcher, tracker, 2001)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if combined == nil {
		t.Fatalf("expected non-nil combined signature")
	}

	rec, ok := tracker.GetCeremony(signing.CeremonyID)
	if !ok {
		t.Fatalf("expected signing ceremony to be tracked")
	}
	if rec.State != ceremony.StateCommitted {
		t.Errorf("expected signing ceremony state committed, got %s", rec.State)
	}
}

func TestFinalize_BlockedWhileDisputeWindowOpen(t *testing.T) {
	ctx := context.Background()
	dispatcher := testDispatcher(t)
	tracker := ceremony.New(ceremony.DefaultConfig())
	secrets := guardianSecrets(3)
	accountID := ids.AccountId(ids.MustNewRandom())
	setup, err := BeginSetup(ctx, dispatcher, tracker, accountID, authority(0), secrets, 2, time.Hour, 1000)
	if err != nil {
		t.Fatalf("begin setup: %v", err)
	}
	participants := make([]ids.AuthorityId, 0, 3)
	for a := range setup.Guardians {
		participants = append(participants, a)
	}
	signing, err := OpenRecovery(tracker, accountID, authority(0), participants, 2, setup.GroupPublicKey, []byte("payload"), time.Minute, time.Hour, 1000)
	if err != nil {
		t.Fatalf("open recovery: %v", err)
	}
	if _, err := signing.Finalize(ctx, dispatcher, tracker, 1000); err != ErrDisputeWindowOpen {
		t.Fatalf("expected ErrDisputeWindowOpen, got %v", err)
	}
}

func TestFinalize_RejectsWhenDisputed(t *testing.T) {
	ctx := context.Background()
	dispatcher := testDispatcher(t)
	tracker := ceremony.New(ceremony.DefaultConfig())
	secrets := guardianSecrets(3)
	accountID := ids.AccountId(ids.MustNewRandom())
	setup, err := BeginSetup(ctx, dispatcher, tracker, accountID, authority(0), secrets, 2, time.Hour, 1000)
	if err != nil {
		t.Fatalf("begin setup: %v", err)
	}
	participants := make([]ids.AuthorityId, 0, 3)
	for a := range setup.Guardians {
		participants = append(participants, a)
	}
	signing, err := OpenRecovery(tracker, accountID, authority(0), participants, 2, setup.GroupPublicKey, []byte("payload"), 0, time.Hour, 1000)
	if err != nil {
		t.Fatalf("open recovery: %v", err)
	}
	signing.RaiseDispute()
	if _, err := signing.Finalize(ctx, dispatcher, tracker, 1001); err == nil {
		t.Fatalf("expected finalize to fail while disputed")
	}
}

func TestRecordDecline_RejectsUnknownGuardian(t *testing.T) {
	ctx := context.Background()
	dispatcher := testDispatcher(t)
	tracker := ceremony.New(ceremony.DefaultConfig())
	secrets := guardianSecrets(2)
	setup, err := BeginSetup(ctx, dispatcher, tracker, ids.AccountId(ids.MustNewRandom()), authority(0), secrets, 2, time.Hour, 1000)
	if err != nil {
		t.Fatalf("begin setup: %v", err)
	}
	if _, err := setup.RecordDecline(authority(99)); err != ErrNoSuchGuardian {
		t.Fatalf("expected ErrNoSuchGuardian, got %v", err)
	}
}

func TestSubmitPartialSignature_FailsOnWrongDeviceSecret(t *testing.T) {
	ctx := context.Background()
	dispatcher := testDispatcher(t)
	tracker := ceremony.New(ceremony.DefaultConfig())
	secrets := guardianSecrets(3)
	accountID := ids.AccountId(ids.MustNewRandom())
	setup, err := BeginSetup(ctx, dispatcher, tracker, accountID, authority(0), secrets, 2, time.Hour, 1000)
	if err != nil {
		t.Fatalf("begin setup: %v", err)
	}
	participants := make([]ids.AuthorityId, 0, 3)
	for a := range setup.Guardians {
		participants = append(participants, a)
	}
	signing, err := OpenRecovery(tracker, accountID, authority(0), participants, 2, setup.GroupPublicKey, []byte("payload"), 0, time.Hour, 1000)
	if err != nil {
		t.Fatalf("open recovery: %v", err)
	}

	var target ids.AuthorityId
	var gs *GuardianSetup
	for a, g := range setup.Guardians {
		target, gs = a, g
		break
	}
	if _, err := signing.SubmitPartialSignature(ctx, dispatcher, tracker, target, gs.Index, gs.SealedShare, []byte("wrong-secret")); err == nil {
		t.Fatalf("expected failure when unsealing with the wrong device secret")
	}
}
