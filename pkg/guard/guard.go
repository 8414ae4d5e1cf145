// Copyright 2025 Aura Project
//
// Package guard implements the pure guard chain: (GuardSnapshot,
// GuardRequest) -> GuardOutcome. Grounded on the teacher's
// pkg/consensus/validator_block_invariants.go accumulate-violations pattern,
// generalized from block-invariant checking to capability/budget/token/
// replay gating. Every gate here is a pure function: no I/O, no clock
// reads beyond what the snapshot already carries.

package guard

import (
	"strings"

	"github.com/aura-network/aura/pkg/capability"
	"github.com/aura-network/aura/pkg/ids"
	"github.com/aura-network/aura/pkg/journal"
)

// Decision is the guard chain's binary verdict.
type Decision int

const (
	Authorized Decision = iota
	Denied
)

func (d Decision) String() string {
	if d == Authorized {
		return "authorized"
	}
	return "denied"
}

// EffectCommandKind tags which variant an EffectCommand carries.
type EffectCommandKind string

const (
	CmdChargeBudget   EffectCommandKind = "charge_budget"
	CmdAppendJournal  EffectCommandKind = "append_journal"
	CmdRecordLeakage  EffectCommandKind = "record_leakage"
	CmdStoreMetadata  EffectCommandKind = "store_metadata"
	CmdGenerateNonce  EffectCommandKind = "generate_nonce"
	CmdSendEnvelope   EffectCommandKind = "send_envelope"
)

// EffectCommand is one unit of work the interpreter must apply, in order.
type EffectCommand struct {
	Kind EffectCommandKind

	// CmdChargeBudget
	Context   ids.ContextId
	Authority ids.AuthorityId
	Peer      string
	Amount    int64

	// CmdAppendJournal
	JournalKey   journal.FactKey
	JournalValue journal.FactValue

	// CmdRecordLeakage
	LeakageBits float64

	// CmdStoreMetadata
	MetaKey   string
	MetaValue []byte

	// CmdGenerateNonce
	NonceLen int

	// CmdSendEnvelope
	EnvelopeTo   []byte
	EnvelopeBody []byte
}

// GuardOutcome is the guard chain's full result.
type GuardOutcome struct {
	Decision Decision
	Reason   string
	Effects  []EffectCommand
}

// FlowBudget tracks remaining spend for one (context, peer) pair.
type FlowBudget struct {
	Remaining int64
	Window    int64 // unix nanoseconds; not read by the gates or ApplyEffectsToState, so budgets never reset
}

// FlowBudgetKey identifies a budget slot.
type FlowBudgetKey struct {
	Context ids.ContextId
	Peer    string
}

// TokenSlot is an authorization-token metadata slot: a biscuit-style
// external delegation token's verified predicate set, keyed by the token's
// subject.
type TokenSlot struct {
	Subject    string
	Predicates []string
	RootKeyOK  bool
}

// GuardSnapshot is the read-only state the guard chain evaluates against.
// It embeds journal.GuardSnapshot for the capability/fact view and adds the
// flow-budget, token, and replay-nonce views spec §4.4 names.
type GuardSnapshot struct {
	Journal       journal.GuardSnapshot
	ClockNow      int64
	FlowBudgets   map[FlowBudgetKey]FlowBudget
	TokenSlots    map[string]TokenSlot
	SeenNonces    map[string]struct{} // anti-replay: envelope/request nonces already consumed
	RNGSeed       [32]byte
}

// GuardRequest is one authorization request evaluated against a snapshot.
type GuardRequest struct {
	Authority    ids.AuthorityId
	Operation    capability.Action
	Cost         int64
	ContextID    ids.ContextId
	Peer         string
	ContextBytes []byte
	Nonce        string // empty means the request carries no replay-sensitive nonce
	TokenSubject string // empty means no biscuit-style token is presented
}

// Gate is one pure stage of the guard chain. It returns the outcome to
// short-circuit with (decision == Denied only ever on short-circuit) and
// whether it short-circuited; when it does not short-circuit, it may still
// append effects via the returned outcome's Effects, which the caller
// accumulates.
type Gate func(snap GuardSnapshot, req GuardRequest) (outcome GuardOutcome, shortCircuit bool)

// GateChain composes gates in a fixed order and evaluates deterministically.
type GateChain struct {
	gates []Gate
}

// DefaultGateChain returns the chain in the order spec §4.4 lists: capability,
// flow-budget, authorization-token, anti-replay.
func DefaultGateChain() GateChain {
	return GateChain{gates: []Gate{
		CapabilityGate,
		FlowBudgetGate,
		AuthTokenGate,
		AntiReplayGate,
	}}
}

// Evaluate runs every gate in order, accumulating effects from gates that
// pass and stopping at the first gate that denies. The same (snapshot,
// request) pair always yields a byte-identical outcome (spec §8 invariant 3)
// because every gate reads only its arguments.
func (gc GateChain) Evaluate(snap GuardSnapshot, req GuardRequest) GuardOutcome {
	var effects []EffectCommand
	for _, gate := range gc.gates {
		outcome, shortCircuit := gate(snap, req)
		if shortCircuit {
			return outcome
		}
		effects = append(effects, outcome.Effects...)
	}
	effects = append(effects, EffectCommand{
		Kind: CmdAppendJournal,
		JournalKey: journal.FactKey(string(req.Operation) + "/" + req.Authority.String()),
		JournalValue: journal.FactValue{
			TypeID:    string(req.Operation),
			ContextID: req.ContextID,
			Actor:     req.Authority,
			Timestamp: snap.ClockNow,
			Encoding:  req.ContextBytes,
		},
	})
	return GuardOutcome{Decision: Authorized, Effects: effects}
}

func deny(reason string) GuardOutcome {
	return GuardOutcome{Decision: Denied, Reason: reason}
}

// ApplyEffectsToState folds the mutation-bearing effects an authorized
// Evaluate produced (CmdChargeBudget, CmdStoreMetadata's nonce markers)
// into the caller's own FlowBudgets and SeenNonces maps. The gates never
// touch these maps themselves; a caller that wants budgets to actually
// decrement and nonces to actually stick between requests calls this once
// per dispatch before building the next GuardSnapshot.
func ApplyEffectsToState(budgets map[FlowBudgetKey]FlowBudget, nonces map[string]struct{}, effects []EffectCommand) {
	for _, cmd := range effects {
		switch cmd.Kind {
		case CmdChargeBudget:
			key := FlowBudgetKey{Context: cmd.Context, Peer: cmd.Peer}
			if b, ok := budgets[key]; ok {
				b.Remaining -= cmd.Amount
				budgets[key] = b
			}
		case CmdStoreMetadata:
			if nonce, ok := strings.CutPrefix(cmd.MetaKey, "nonce/"); ok {
				nonces[nonce] = struct{}{}
			}
		}
	}
}
