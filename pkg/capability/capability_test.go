// Copyright 2025 Aura Project

package capability

import (
	"crypto/ed25519"
	"testing"

	"github.com/aura-network/aura/pkg/ids"
)

func mustKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating ed25519 key: %v", err)
	}
	return pub, priv
}

func TestCapabilitySet_MeetIsIntersection(t *testing.T) {
	ctx := ids.ContextId{1}
	a := NewCapabilitySet(ctx, "read", "write", "delete")
	b := NewCapabilitySet(ctx, "write", "delete", "admin")
	m := a.MeetSet(b)
	if m.Has("read") || m.Has("admin") {
		t.Errorf("meet should only retain shared actions, got %+v", m.Actions)
	}
	if !m.Has("write") || !m.Has("delete") {
		t.Errorf("meet dropped a shared action: %+v", m.Actions)
	}
}

func TestCapabilitySet_MeetAcrossContextsIsEmpty(t *testing.T) {
	a := NewCapabilitySet(ids.ContextId{1}, "read")
	b := NewCapabilitySet(ids.ContextId{2}, "read")
	m := a.MeetSet(b)
	if len(m.Actions) != 0 {
		t.Errorf("meet across mismatched contexts should be empty, got %+v", m.Actions)
	}
}

func TestCapabilitySet_RefineReportsChange(t *testing.T) {
	ctx := ids.ContextId{1}
	a := NewCapabilitySet(ctx, "read", "write")
	same, changed := a.Refine(NewCapabilitySet(ctx, "read", "write", "delete"))
	if changed {
		t.Errorf("refining with a superset should not change the set, got changed=%v same=%+v", changed, same.Actions)
	}
	narrower, changed2 := a.Refine(NewCapabilitySet(ctx, "read"))
	if !changed2 {
		t.Errorf("refining with a strict subset should report a change")
	}
	if narrower.Has("write") {
		t.Errorf("refined set should have dropped write")
	}
}

func TestToken_IssueAndVerify(t *testing.T) {
	pub, priv := mustKey(t)
	issuer := ids.AuthorityId{9}
	holder := ids.AuthorityId{1}
	grant := NewCapabilitySet(ids.ContextId{1}, "send_message")
	tok, err := Issue(issuer, priv, holder, grant, 1000, 0, 2)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := tok.Verify(pub, 2000); err != nil {
		t.Errorf("expected valid token to verify, got %v", err)
	}
}

func TestToken_ExpiredRejected(t *testing.T) {
	pub, priv := mustKey(t)
	tok, err := Issue(ids.AuthorityId{9}, priv, ids.AuthorityId{1}, NewCapabilitySet(ids.ContextId{1}, "a"), 1000, 1500, 2)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := tok.Verify(pub, 2000); err != ErrExpired {
		t.Errorf("expected ErrExpired, got %v", err)
	}
}

func TestToken_DelegationNarrowing(t *testing.T) {
	rootPub, rootPriv := mustKey(t)
	holderPub, holderPriv := mustKey(t)
	_ = holderPub
	ctx := ids.ContextId{1}
	root, err := Issue(ids.AuthorityId{9}, rootPriv, ids.AuthorityId{1}, NewCapabilitySet(ctx, "read", "write"), 0, 0, 3)
	if err != nil {
		t.Fatalf("issue root: %v", err)
	}
	child, err := Delegate(root, holderPriv, ids.AuthorityId{2}, NewCapabilitySet(ctx, "read"), 10, 0)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if err := child.Verify(rootPub, 100); err != nil {
		t.Errorf("expected delegated token to verify up the chain, got %v", err)
	}
}

func TestToken_DelegationRejectsWidening(t *testing.T) {
	_, rootPriv := mustKey(t)
	_, holderPriv := mustKey(t)
	ctx := ids.ContextId{1}
	root, err := Issue(ids.AuthorityId{9}, rootPriv, ids.AuthorityId{1}, NewCapabilitySet(ctx, "read"), 0, 0, 3)
	if err != nil {
		t.Fatalf("issue root: %v", err)
	}
	_, err = Delegate(root, holderPriv, ids.AuthorityId{2}, NewCapabilitySet(ctx, "read", "write"), 10, 0)
	if err != ErrNotRefinement {
		t.Errorf("expected ErrNotRefinement for widened grant, got %v", err)
	}
}

func TestToken_DelegationRejectsDepthOverflow(t *testing.T) {
	_, rootPriv := mustKey(t)
	_, holderPriv := mustKey(t)
	ctx := ids.ContextId{1}
	root, err := Issue(ids.AuthorityId{9}, rootPriv, ids.AuthorityId{1}, NewCapabilitySet(ctx, "read"), 0, 0, 0)
	if err != nil {
		t.Fatalf("issue root: %v", err)
	}
	_, err = Delegate(root, holderPriv, ids.AuthorityId{2}, NewCapabilitySet(ctx, "read"), 10, 0)
	if err != ErrDepthExceeded {
		t.Errorf("expected ErrDepthExceeded, got %v", err)
	}
}

func TestRootKeyRing_RotationKeepsOldKeyVerifiable(t *testing.T) {
	oldPub, _ := mustKey(t)
	newPub, _ := mustKey(t)
	ring := NewRootKeyRing(oldPub)
	ring.Rotate(newPub)
	if !ring.CanVerify(oldPub) {
		t.Errorf("expected retired key to remain verifiable")
	}
	if !ring.CanVerify(newPub) {
		t.Errorf("expected new key to be verifiable")
	}
	if ring.Active() == nil || string(ring.Active()) != string(newPub) {
		t.Errorf("expected active key to be the rotated-in key")
	}
}
