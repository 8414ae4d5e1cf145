// Copyright 2025 Aura Project
//
// Package intent implements the external interface surface (spec §6): an
// enumerated set of typed intents, each carrying an authorization-level
// tag, dispatched through the guard chain and the journal coupler, and a
// category-filterable event broadcast for the resulting success/error
// events. Grounded on the teacher's pkg/attestation/service.go request/
// response shape (validate, execute, emit) and pkg/batch/status.go's
// typed status/event constants, generalized from attestation-request
// handling to Aura's own command surface.

package intent

import (
	"context"
	"fmt"

	"github.com/aura-network/aura/pkg/capability"
	"github.com/aura-network/aura/pkg/ceremony"
	"github.com/aura-network/aura/pkg/coupler"
	"github.com/aura-network/aura/pkg/effectcore"
	"github.com/aura-network/aura/pkg/guard"
	"github.com/aura-network/aura/pkg/ids"
	"github.com/aura-network/aura/pkg/journal"
	"github.com/aura-network/aura/pkg/metrics"
)

// AuthLevel tags how sensitive an intent is, per spec §6.
type AuthLevel string

const (
	LevelPublic    AuthLevel = "public"
	LevelBasic     AuthLevel = "basic"
	LevelSensitive AuthLevel = "sensitive"
	LevelAdmin     AuthLevel = "admin"
)

// Type enumerates the public command surface spec §6 names explicitly.
type Type string

const (
	SendMessage            Type = "send-message"
	CreateChannel          Type = "create-channel"
	CreateInvitation       Type = "create-invitation"
	AcceptInvitation       Type = "accept-invitation"
	UpdateThreshold        Type = "update-threshold"
	AddDevice              Type = "add-device"
	RemoveDevice           Type = "remove-device"
	StartRecovery          Type = "start-recovery"
	SubmitGuardianApproval Type = "submit-guardian-approval"
	CompleteRecovery       Type = "complete-recovery"
	SyncForce              Type = "sync-force"
	DiscoverPeers          Type = "discover-peers"
	ExportAccountBackup    Type = "export-account-backup"
	ImportAccountBackup    Type = "import-account-backup"
)

// Category is an event's broadcast filter key, per spec §6's named list.
type Category string

const (
	CategoryConnection     Category = "connection"
	CategoryRecovery       Category = "recovery"
	CategoryAccount        Category = "account"
	CategoryChat           Category = "chat"
	CategorySync           Category = "sync"
	CategoryInvitation     Category = "invitation"
	CategorySettings       Category = "settings"
	CategoryModeration     Category = "moderation"
	CategoryAuthorization  Category = "authorization"
	CategoryErrors         Category = "errors"
	CategorySystem         Category = "system"
	CategoryLANDiscovery   Category = "lan_discovery"
)

// registry pairs each intent type with its auth level and event category,
// the table spec §6 describes in prose.
var registry = map[Type]struct {
	Level    AuthLevel
	Category Category
}{
	SendMessage:            {LevelBasic, CategoryChat},
	CreateChannel:          {LevelBasic, CategoryChat},
	CreateInvitation:       {LevelBasic, CategoryInvitation},
	AcceptInvitation:       {LevelBasic, CategoryInvitation},
	UpdateThreshold:        {LevelSensitive, CategoryAccount},
	AddDevice:              {LevelSensitive, CategoryAccount},
	RemoveDevice:           {LevelSensitive, CategoryAccount},
	StartRecovery:          {LevelSensitive, CategoryRecovery},
	SubmitGuardianApproval: {LevelSensitive, CategoryRecovery},
	CompleteRecovery:       {LevelSensitive, CategoryRecovery},
	SyncForce:              {LevelBasic, CategorySync},
	DiscoverPeers:          {LevelPublic, CategoryLANDiscovery},
	ExportAccountBackup:    {LevelAdmin, CategoryAccount},
	ImportAccountBackup:    {LevelAdmin, CategoryAccount},
}

// AuthLevelOf returns the configured authorization tag for t, or
// LevelAdmin (fail closed) for an unregistered type.
func AuthLevelOf(t Type) AuthLevel {
	if e, ok := registry[t]; ok {
		return e.Level
	}
	return LevelAdmin
}

// CategoryOf returns the event category t reports under.
func CategoryOf(t Type) Category {
	if e, ok := registry[t]; ok {
		return e.Category
	}
	return CategorySystem
}

// Request is one submitted intent, already translated into the guard
// chain's vocabulary by the caller (transport/UI layer).
type Request struct {
	Type         Type
	Authority    ids.AuthorityId
	ContextID    ids.ContextId
	Peer         string
	Cost         int64
	Payload      []byte
	Nonce        string
	TokenSubject string
}

// Event is the typed success/error notification spec §6 requires: every
// intent completes with exactly one of these.
type Event struct {
	Category     Category
	IntentType   Type
	Success      bool
	Code         string
	HumanMessage string
	DenialReason string
	Payload      []byte
	Timestamp    int64
}

// Interpreter evaluates a Request against the guard chain and, if
// authorized, applies the resulting effects through the journal coupler,
// publishing exactly one Event per dispatch.
type Interpreter struct {
	Chain      guard.GateChain
	Dispatcher *effectcore.Dispatcher
	Coupler    *coupler.Coupler
	Events     *Broadcaster
	Metrics    *metrics.Registry

	// Ceremonies and Recovery back the guardian-setup/recovery-signing
	// choreography that update-threshold, submit-guardian-approval,
	// start-recovery, and complete-recovery drive via
	// applyIntentSemantics. Both are lazily initialized by their
	// respective accessors if left nil, so existing callers that
	// construct an Interpreter directly (tests) do not break.
	Ceremonies *ceremony.Tracker
	Recovery   *RecoveryState
}

// NewInterpreter wires an interpreter against the default gate chain.
func NewInterpreter(dispatcher *effectcore.Dispatcher, cp *coupler.Coupler, events *Broadcaster, m *metrics.Registry, ceremonies *ceremony.Tracker, recoveryState *RecoveryState) *Interpreter {
	return &Interpreter{
		Chain:      guard.DefaultGateChain(),
		Dispatcher: dispatcher,
		Coupler:    cp,
		Events:     events,
		Metrics:    m,
		Ceremonies: ceremonies,
		Recovery:   recoveryState,
	}
}

// Dispatch evaluates req against snap, applies the guard chain's effects
// on authorization, and publishes the resulting event. Effects are applied
// in order and stop at the first failure; effects already applied are not
// reverted. The journal delta is merged only after the non-transport
// effects succeed, and CmdSendEnvelope effects run only after the delta is
// persisted (coupler charge-before-send discipline).
func (in *Interpreter) Dispatch(ctx context.Context, snap guard.GuardSnapshot, req Request) Event {
	ev, _ := in.dispatch(ctx, snap, req)
	return ev
}

// DispatchWithEffects behaves exactly like Dispatch but additionally
// returns the guard chain's raw effect list, so a caller holding its own
// mutable FlowBudgets/SeenNonces (the pure guard chain never mutates the
// snapshot it was given) can fold CmdChargeBudget and CmdStoreMetadata
// effects into the state it builds the next GuardSnapshot from.
func (in *Interpreter) DispatchWithEffects(ctx context.Context, snap guard.GuardSnapshot, req Request) (Event, []guard.EffectCommand) {
	return in.dispatch(ctx, snap, req)
}

func (in *Interpreter) dispatch(ctx context.Context, snap guard.GuardSnapshot, req Request) (Event, []guard.EffectCommand) {
	gReq := guard.GuardRequest{
		Authority:    req.Authority,
		Operation:    capability.Action(req.Type),
		Cost:         req.Cost,
		ContextID:    req.ContextID,
		Peer:         req.Peer,
		ContextBytes: req.Payload,
		Nonce:        req.Nonce,
		TokenSubject: req.TokenSubject,
	}
	outcome := in.Chain.Evaluate(snap, gReq)
	category := CategoryOf(req.Type)

	if outcome.Decision == guard.Denied {
		in.Metrics.ObserveGuardDecision("chain", "denied")
		ev := Event{
			Category:     CategoryAuthorization,
			IntentType:   req.Type,
			Success:      false,
			Code:         "permission_denied",
			HumanMessage: "request was not authorized",
			DenialReason: outcome.Reason,
			Timestamp:    snap.ClockNow,
		}
		in.Events.Publish(ev)
		return ev, nil
	}
	in.Metrics.ObserveGuardDecision("chain", "authorized")

	delta := journal.New(ids.AccountId{}, nil)
	var local, sends []guard.EffectCommand
	for _, cmd := range outcome.Effects {
		if cmd.Kind == guard.CmdAppendJournal {
			delta.InsertWithContext(cmd.JournalKey, cmd.JournalValue)
		}
		if cmd.Kind == guard.CmdSendEnvelope {
			sends = append(sends, cmd)
		} else {
			local = append(local, cmd)
		}
	}

	op := coupler.Operation{
		Delta: delta,
		Execute: func(ctx context.Context) error {
			if err := in.applyEffects(ctx, local); err != nil {
				return err
			}
			return in.applyIntentSemantics(ctx, req, delta, snap.ClockNow)
		},
		Send: func(ctx context.Context) error {
			return in.applyEffects(ctx, sends)
		},
	}

	if err := in.Coupler.Commit(ctx, op, coupler.ModePessimistic); err != nil {
		in.Metrics.ObserveCouplerAttempt("failure")
		ev := Event{
			Category:     CategoryErrors,
			IntentType:   req.Type,
			Success:      false,
			Code:         "internal",
			HumanMessage: "failed to commit operation",
			DenialReason: err.Error(),
			Timestamp:    snap.ClockNow,
		}
		in.Events.Publish(ev)
		return ev, outcome.Effects
	}
	in.Metrics.ObserveCouplerAttempt("success")

	ev := Event{
		Category:   category,
		IntentType: req.Type,
		Success:    true,
		Code:       "ok",
		Timestamp:  snap.ClockNow,
	}
	in.Events.Publish(ev)
	return ev, outcome.Effects
}

// applyEffects executes every non-journal effect command via the
// dispatcher's per-family handlers, in order. CmdAppendJournal is handled
// separately by the coupler's delta merge and is a no-op here.
func (in *Interpreter) applyEffects(ctx context.Context, effects []guard.EffectCommand) error {
	for _, cmd := range effects {
		switch cmd.Kind {
		case guard.CmdAppendJournal:
			// merged into the coupler's Operation.Delta before Commit
		case guard.CmdChargeBudget:
			// budget state lives in the guard snapshot the caller refreshes
			// between dispatches; nothing to apply against an effect handler.
		case guard.CmdRecordLeakage:
			leakage, err := in.Dispatcher.Leakage()
			if err != nil {
				return err
			}
			if err := leakage.RecordLeakage(ctx, []byte(cmd.Context.String()), cmd.LeakageBits); err != nil {
				return fmt.Errorf("intent: recording leakage: %w", err)
			}
		case guard.CmdStoreMetadata:
			kv, err := in.Dispatcher.Storage()
			if err != nil {
				return err
			}
			if err := kv.Put(ctx, []byte(cmd.MetaKey), cmd.MetaValue); err != nil {
				return fmt.Errorf("intent: storing metadata: %w", err)
			}
		case guard.CmdGenerateNonce:
			rng, err := in.Dispatcher.Random()
			if err != nil {
				return err
			}
			if _, err := rng.RandomBytes(ctx, cmd.NonceLen); err != nil {
				return fmt.Errorf("intent: generating nonce: %w", err)
			}
		case guard.CmdSendEnvelope:
			net, err := in.Dispatcher.Network()
			if err != nil {
				return err
			}
			env := effectcore.Envelope{To: cmd.EnvelopeTo, Body: cmd.EnvelopeBody}
			if err := net.Unicast(ctx, cmd.EnvelopeTo, env); err != nil {
				return fmt.Errorf("intent: sending envelope: %w", err)
			}
		default:
			return fmt.Errorf("intent: unknown effect command kind %q", cmd.Kind)
		}
	}
	return nil
}
