// Copyright 2025 Aura Project

package guard

import (
	"testing"

	"github.com/aura-network/aura/pkg/capability"
	"github.com/aura-network/aura/pkg/ids"
	"github.com/aura-network/aura/pkg/journal"
)

func baseSnapshot(t *testing.T, ctx ids.ContextId, authority ids.AuthorityId, budget int64) GuardSnapshot {
	t.Helper()
	cs := capability.NewCapabilitySet(ctx, "send_message")
	return GuardSnapshot{
		Journal: journal.GuardSnapshot{
			CapsByActor: map[ids.AuthorityId][]byte{authority: cs.Bytes()},
		},
		ClockNow: 1000,
		FlowBudgets: map[FlowBudgetKey]FlowBudget{
			{Context: ctx, Peer: "peer-a"}: {Remaining: budget},
		},
		TokenSlots: map[string]TokenSlot{},
		SeenNonces: map[string]struct{}{},
	}
}

func TestGateChain_AuthorizesWithinBudgetAndCapability(t *testing.T) {
	ctx := ids.ContextId{1}
	authority := ids.AuthorityId{2}
	snap := baseSnapshot(t, ctx, authority, 100)
	req := GuardRequest{Authority: authority, Operation: "send_message", Cost: 10, ContextID: ctx, Peer: "peer-a"}

	out := DefaultGateChain().Evaluate(snap, req)
	if out.Decision != Authorized {
		t.Fatalf("expected authorized, got denied: %s", out.Reason)
	}
	var sawCharge bool
	for _, e := range out.Effects {
		if e.Kind == CmdChargeBudget && e.Amount == 10 {
			sawCharge = true
		}
	}
	if !sawCharge {
		t.Errorf("expected a ChargeBudget effect for the request cost")
	}
}

func TestGateChain_DeniesMissingCapability(t *testing.T) {
	ctx := ids.ContextId{1}
	authority := ids.AuthorityId{2}
	snap := baseSnapshot(t, ctx, authority, 100)
	req := GuardRequest{Authority: ids.AuthorityId{99}, Operation: "send_message", Cost: 10, ContextID: ctx, Peer: "peer-a"}

	out := DefaultGateChain().Evaluate(snap, req)
	if out.Decision != Denied {
		t.Fatalf("expected denied for unknown authority, got authorized")
	}
}

func TestGateChain_DeniesUnpermittedOperation(t *testing.T) {
	ctx := ids.ContextId{1}
	authority := ids.AuthorityId{2}
	snap := baseSnapshot(t, ctx, authority, 100)
	req := GuardRequest{Authority: authority, Operation: "delete_account", Cost: 10, ContextID: ctx, Peer: "peer-a"}

	out := DefaultGateChain().Evaluate(snap, req)
	if out.Decision != Denied {
		t.Fatalf("expected denied for operation outside capability set")
	}
}

func TestGateChain_DeniesBudgetExhaustion(t *testing.T) {
	ctx := ids.ContextId{1}
	authority := ids.AuthorityId{2}
	snap := baseSnapshot(t, ctx, authority, 5)
	req := GuardRequest{Authority: authority, Operation: "send_message", Cost: 10, ContextID: ctx, Peer: "peer-a"}

	out := DefaultGateChain().Evaluate(snap, req)
	if out.Decision != Denied {
		t.Fatalf("expected denied for insufficient budget")
	}
}

func TestGateChain_DeniesReplayedNonce(t *testing.T) {
	ctx := ids.ContextId{1}
	authority := ids.AuthorityId{2}
	snap := baseSnapshot(t, ctx, authority, 100)
	snap.SeenNonces["nonce-1"] = struct{}{}
	req := GuardRequest{Authority: authority, Operation: "send_message", Cost: 10, ContextID: ctx, Peer: "peer-a", Nonce: "nonce-1"}

	out := DefaultGateChain().Evaluate(snap, req)
	if out.Decision != Denied {
		t.Fatalf("expected denied for replayed nonce")
	}
}

func TestGateChain_DeniesUnverifiedAuthToken(t *testing.T) {
	ctx := ids.ContextId{1}
	authority := ids.AuthorityId{2}
	snap := baseSnapshot(t, ctx, authority, 100)
	snap.TokenSlots["subj-1"] = TokenSlot{Subject: "subj-1", RootKeyOK: false}
	req := GuardRequest{Authority: authority, Operation: "send_message", Cost: 10, ContextID: ctx, Peer: "peer-a", TokenSubject: "subj-1"}

	out := DefaultGateChain().Evaluate(snap, req)
	if out.Decision != Denied {
		t.Fatalf("expected denied for token that failed root-key verification")
	}
}

func TestGateChain_Deterministic(t *testing.T) {
	ctx := ids.ContextId{1}
	authority := ids.AuthorityId{2}
	snap := baseSnapshot(t, ctx, authority, 100)
	req := GuardRequest{Authority: authority, Operation: "send_message", Cost: 10, ContextID: ctx, Peer: "peer-a"}

	out1 := DefaultGateChain().Evaluate(snap, req)
	out2 := DefaultGateChain().Evaluate(snap, req)
	if out1.Decision != out2.Decision || len(out1.Effects) != len(out2.Effects) {
		t.Errorf("expected identical outcomes for identical inputs")
	}
}

func TestApplyEffectsToState_ChargesBudgetAndRecordsNonce(t *testing.T) {
	ctx := ids.ContextId{1}
	key := FlowBudgetKey{Context: ctx, Peer: "peer-a"}
	budgets := map[FlowBudgetKey]FlowBudget{key: {Remaining: 100}}
	nonces := map[string]struct{}{}

	effects := []EffectCommand{
		{Kind: CmdChargeBudget, Context: ctx, Peer: "peer-a", Amount: 30},
		{Kind: CmdStoreMetadata, MetaKey: "nonce/abc123", MetaValue: []byte{1}},
		{Kind: CmdAppendJournal},
	}
	ApplyEffectsToState(budgets, nonces, effects)

	if budgets[key].Remaining != 70 {
		t.Fatalf("expected remaining budget 70, got %d", budgets[key].Remaining)
	}
	if _, ok := nonces["abc123"]; !ok {
		t.Fatalf("expected nonce abc123 to be recorded")
	}
}

func TestApplyEffectsToState_IgnoresUnknownBudgetKey(t *testing.T) {
	budgets := map[FlowBudgetKey]FlowBudget{}
	nonces := map[string]struct{}{}

	ApplyEffectsToState(budgets, nonces, []EffectCommand{
		{Kind: CmdChargeBudget, Context: ids.ContextId{9}, Peer: "ghost", Amount: 5},
	})

	if len(budgets) != 0 {
		t.Fatalf("expected no budget entry created for an unprovisioned key")
	}
}
