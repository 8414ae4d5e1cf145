// Copyright 2025 Aura Project

package guard

import (
	"encoding/json"

	"github.com/aura-network/aura/pkg/capability"
)

// CapabilityGate denies unless the requester's effective capability set,
// taken from the journal snapshot, permits the requested action in the
// request's context.
func CapabilityGate(snap GuardSnapshot, req GuardRequest) (GuardOutcome, bool) {
	raw, ok := snap.Journal.CapsByActor[req.Authority]
	if !ok {
		return deny("no capability set on file for authority"), true
	}
	var cs capability.CapabilitySet
	if err := decodeCapabilitySet(raw, &cs); err != nil {
		return deny("capability set could not be decoded"), true
	}
	if cs.ContextID != req.ContextID {
		return deny("capability set is scoped to a different context"), true
	}
	if !cs.Has(req.Operation) {
		return deny("capability set does not permit the requested operation"), true
	}
	return GuardOutcome{Decision: Authorized}, false
}

// decodeCapabilitySet is a narrow JSON decode, kept local to avoid the
// guard package depending on journal's canonicalization internals beyond
// what CapabilitySet.Bytes already produces.
func decodeCapabilitySet(raw []byte, out *capability.CapabilitySet) error {
	return json.Unmarshal(raw, out)
}

// FlowBudgetGate denies if the (context, peer) budget cannot absorb the
// request's cost; on success it emits a ChargeBudget command rather than
// mutating the snapshot directly, since the guard chain is pure and all
// mutation happens in the interpreter.
func FlowBudgetGate(snap GuardSnapshot, req GuardRequest) (GuardOutcome, bool) {
	key := FlowBudgetKey{Context: req.ContextID, Peer: req.Peer}
	budget, ok := snap.FlowBudgets[key]
	if !ok {
		return deny("no flow budget provisioned for this context/peer"), true
	}
	if budget.Remaining < req.Cost {
		return deny("flow budget exhausted"), true
	}
	return GuardOutcome{
		Decision: Authorized,
		Effects: []EffectCommand{{
			Kind:      CmdChargeBudget,
			Context:   req.ContextID,
			Authority: req.Authority,
			Peer:      req.Peer,
			Amount:    req.Cost,
		}},
	}, false
}

// AuthTokenGate implements biscuit-style evaluation: if the request
// presents no token subject, the gate passes without effect (not every
// operation requires an external delegation token). If it does, the
// referenced slot must exist, have verified against a known root key, and
// every one of its predicates must already have been satisfied by the
// capability gate's context (represented here simply by requiring the slot
// be marked RootKeyOK; predicate-specific evaluation is layered by callers
// that populate TokenSlots with only the predicates relevant to this
// request).
func AuthTokenGate(snap GuardSnapshot, req GuardRequest) (GuardOutcome, bool) {
	if req.TokenSubject == "" {
		return GuardOutcome{Decision: Authorized}, false
	}
	slot, ok := snap.TokenSlots[req.TokenSubject]
	if !ok {
		return deny("referenced authorization token slot not found"), true
	}
	if !slot.RootKeyOK {
		return deny("authorization token did not verify against a known root key"), true
	}
	return GuardOutcome{Decision: Authorized}, false
}

// AntiReplayGate denies if the request's nonce has already been consumed.
// Requests with no nonce (Nonce == "") are not replay-sensitive and pass
// through.
func AntiReplayGate(snap GuardSnapshot, req GuardRequest) (GuardOutcome, bool) {
	if req.Nonce == "" {
		return GuardOutcome{Decision: Authorized}, false
	}
	if _, seen := snap.SeenNonces[req.Nonce]; seen {
		return deny("nonce already consumed, possible replay"), true
	}
	return GuardOutcome{
		Decision: Authorized,
		Effects: []EffectCommand{{
			Kind:     CmdStoreMetadata,
			MetaKey:  "nonce/" + req.Nonce,
			MetaValue: []byte{1},
		}},
	}, false
}
