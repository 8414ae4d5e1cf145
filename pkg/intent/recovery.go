// Copyright 2025 Aura Project
//
// This file is the intent layer's binding of pkg/recovery's guardian
// choreography to the journal/guard/coupler pipeline every other intent
// goes through (§4.7, Scenario 1's exact fact sequence:
// GuardianSetupInitiated, GuardianAccepted, GuardianDeclined,
// GuardianSetupCompleted). pkg/recovery itself stays journal-agnostic
// domain logic; this file is the composition point, the same role
// pkg/guard's gates play for authorization and pkg/coupler plays for
// commit ordering. Capability grants (add-device/remove-device) live
// here too since both problems are the same shape: an intent needs
// domain-specific side effects and journal facts beyond the generic
// guard-effect replay dispatch() already does.

package intent

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aura-network/aura/pkg/capability"
	"github.com/aura-network/aura/pkg/ceremony"
	"github.com/aura-network/aura/pkg/effectcore"
	"github.com/aura-network/aura/pkg/ids"
	"github.com/aura-network/aura/pkg/journal"
	"github.com/aura-network/aura/pkg/recovery"
)

// Fact type_ids, named exactly as spec §4.7's scenario narrates them.
const (
	FactGuardianSetupInitiated = "GuardianSetupInitiated"
	FactGuardianAccepted       = "GuardianAccepted"
	FactGuardianDeclined       = "GuardianDeclined"
	FactGuardianSetupCompleted = "GuardianSetupCompleted"
)

// RecoveryState holds the guardian-setup and recovery-signing ceremonies
// currently in flight, keyed by their ceremony id so a
// submit-guardian-approval intent can be disambiguated: a ceremony id
// present in SetupCeremonies is an accept/decline, one present in
// SigningCeremonies is a partial-signature submission.
type RecoveryState struct {
	mu               sync.Mutex
	SetupCeremonies  map[ids.CeremonyId]*recovery.SetupCeremony
	SigningCeremonies map[ids.CeremonyId]*recovery.SigningCeremony
}

// NewRecoveryState creates empty ceremony tables.
func NewRecoveryState() *RecoveryState {
	return &RecoveryState{
		SetupCeremonies:  make(map[ids.CeremonyId]*recovery.SetupCeremony),
		SigningCeremonies: make(map[ids.CeremonyId]*recovery.SigningCeremony),
	}
}

func (s *RecoveryState) putSetup(c *recovery.SetupCeremony) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SetupCeremonies[c.CeremonyID] = c
}

func (s *RecoveryState) putSigning(c *recovery.SigningCeremony) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SigningCeremonies[c.CeremonyID] = c
}

func (s *RecoveryState) getSetup(id ids.CeremonyId) (*recovery.SetupCeremony, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.SetupCeremonies[id]
	return c, ok
}

func (s *RecoveryState) getSigning(id ids.CeremonyId) (*recovery.SigningCeremony, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.SigningCeremonies[id]
	return c, ok
}

// guardianSetupPayload is update-threshold's request body.
type guardianSetupPayload struct {
	AccountID          string            `json:"account_id"`
	K                  int               `json:"k"`
	GuardianSecretsHex map[string]string `json:"guardian_device_secrets"` // guardian authority hex -> device secret hex
	TimeoutSeconds     int64             `json:"timeout_seconds"`
}

// guardianApprovalPayload is submit-guardian-approval's request body.
// Decision disambiguates accept/decline from a signing-phase partial
// signature submission once the ceremony id's kind is known.
type guardianApprovalPayload struct {
	CeremonyID       string `json:"ceremony_id"`
	Guardian         string `json:"guardian"`
	Decision         string `json:"decision"` // "accept" | "decline" | "partial_signature"
	GuardianIndex    int    `json:"guardian_index"`
	DeviceSecretHex  string `json:"device_secret"`
}

// startRecoveryPayload is start-recovery's request body: it opens a new
// signing ceremony among the participants it lists, reusing a previously
// completed setup ceremony's threshold and group public key.
type startRecoveryPayload struct {
	AccountID        string   `json:"account_id"`
	SetupCeremonyID  string   `json:"setup_ceremony_id"`
	ParticipantsHex  []string `json:"participants"`
	MessageHex       string   `json:"message"`
	DisputeWindowSec int64    `json:"dispute_window_seconds"`
	TimeoutSeconds   int64    `json:"timeout_seconds"`
}

// completeRecoveryPayload is complete-recovery's request body.
type completeRecoveryPayload struct {
	CeremonyID string `json:"ceremony_id"`
}

// devicePayload is add-device/remove-device's request body: the set of
// actions being granted (add-device) or the context being fully revoked
// (remove-device).
type devicePayload struct {
	ContextIDHex string   `json:"context_id"`
	Actions      []string `json:"actions"`
}

func decodeHash32(s string) (ids.Hash32, error) {
	var out ids.Hash32
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("intent: decoding hex id %q: %w", s, err)
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("intent: id %q has wrong length %d", s, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// applyIntentSemantics runs after applyEffects, inside the same coupler
// Execute closure, so it both performs domain side effects (dispatcher
// calls through pkg/recovery) and mutates delta (journal facts, capability
// bytes) before the coupler merges delta into the real target journal.
// Intent types with no domain semantics beyond the generic guard-effect
// replay are left untouched.
func (in *Interpreter) applyIntentSemantics(ctx context.Context, req Request, delta *journal.Journal, now int64) error {
	switch req.Type {
	case UpdateThreshold:
		return in.beginGuardianSetup(ctx, req, delta, now)
	case SubmitGuardianApproval:
		return in.submitGuardianApproval(ctx, req, delta, now)
	case StartRecovery:
		return in.startRecovery(ctx, req, now)
	case CompleteRecovery:
		return in.completeRecovery(ctx, req, now)
	case AddDevice:
		return in.grantDeviceCapability(req, delta)
	case RemoveDevice:
		return in.revokeDeviceCapability(req, delta)
	default:
		return nil
	}
}

func (in *Interpreter) ceremonyTracker() *ceremony.Tracker {
	if in.Ceremonies == nil {
		in.Ceremonies = ceremony.New(ceremony.DefaultConfig())
	}
	return in.Ceremonies
}

func (in *Interpreter) recoveryState() *RecoveryState {
	if in.Recovery == nil {
		in.Recovery = NewRecoveryState()
	}
	return in.Recovery
}

func (in *Interpreter) beginGuardianSetup(ctx context.Context, req Request, delta *journal.Journal, now int64) error {
	var p guardianSetupPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return fmt.Errorf("intent: decoding guardian setup payload: %w", err)
	}
	accountID, err := decodeHash32(p.AccountID)
	if err != nil {
		return err
	}

	secrets := make(map[ids.AuthorityId][]byte, len(p.GuardianSecretsHex))
	for guardianHex, secretHex := range p.GuardianSecretsHex {
		guardian, err := decodeHash32(guardianHex)
		if err != nil {
			return err
		}
		secret, err := hex.DecodeString(secretHex)
		if err != nil {
			return fmt.Errorf("intent: decoding device secret for guardian %s: %w", guardianHex, err)
		}
		secrets[ids.AuthorityId(guardian)] = secret
	}

	setup, err := recovery.BeginSetup(ctx, in.Dispatcher, in.ceremonyTracker(), ids.AccountId(accountID), req.Authority, secrets, p.K, time.Duration(p.TimeoutSeconds)*time.Second, now)
	if err != nil {
		return fmt.Errorf("intent: beginning guardian setup: %w", err)
	}
	in.recoveryState().putSetup(setup)

	delta.InsertWithContext(journal.FactKey(fmt.Sprintf("guardian_setup/%s/initiated", setup.CeremonyID)), journal.FactValue{
		TypeID:    FactGuardianSetupInitiated,
		ContextID: req.ContextID,
		Actor:     req.Authority,
		Timestamp: now,
	})
	return nil
}

func (in *Interpreter) submitGuardianApproval(ctx context.Context, req Request, delta *journal.Journal, now int64) error {
	var p guardianApprovalPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return fmt.Errorf("intent: decoding guardian approval payload: %w", err)
	}
	ceremonyID, err := decodeHash32(p.CeremonyID)
	if err != nil {
		return err
	}
	guardian, err := decodeHash32(p.Guardian)
	if err != nil {
		return err
	}

	if setup, ok := in.recoveryState().getSetup(ids.CeremonyId(ceremonyID)); ok {
		return in.recordGuardianResponse(setup, ids.AuthorityId(guardian), p, delta, now)
	}
	if signing, ok := in.recoveryState().getSigning(ids.CeremonyId(ceremonyID)); ok {
		return in.recordPartialSignature(ctx, signing, ids.AuthorityId(guardian), p)
	}
	return fmt.Errorf("intent: no ceremony registered for id %s", p.CeremonyID)
}

func (in *Interpreter) recordGuardianResponse(setup *recovery.SetupCeremony, guardian ids.AuthorityId, p guardianApprovalPayload, delta *journal.Journal, now int64) error {
	switch p.Decision {
	case "accept":
		thresholdMet, done, err := setup.RecordAcceptance(in.ceremonyTracker(), guardian)
		if err != nil {
			return fmt.Errorf("intent: recording guardian acceptance: %w", err)
		}
		delta.InsertWithContext(journal.FactKey(fmt.Sprintf("guardian_setup/%s/accepted/%s", setup.CeremonyID, guardian)), journal.FactValue{
			TypeID:    FactGuardianAccepted,
			Actor:     guardian,
			Timestamp: now,
		})
		if done && thresholdMet {
			delta.InsertWithContext(journal.FactKey(fmt.Sprintf("guardian_setup/%s/completed", setup.CeremonyID)), journal.FactValue{
				TypeID:    FactGuardianSetupCompleted,
				Actor:     guardian,
				Timestamp: now,
				Encoding:  setup.GroupPublicKey.Bytes(),
			})
		}
		return nil
	case "decline":
		done, err := setup.RecordDecline(guardian)
		if err != nil {
			return fmt.Errorf("intent: recording guardian decline: %w", err)
		}
		delta.InsertWithContext(journal.FactKey(fmt.Sprintf("guardian_setup/%s/declined/%s", setup.CeremonyID, guardian)), journal.FactValue{
			TypeID:    FactGuardianDeclined,
			Actor:     guardian,
			Timestamp: now,
		})
		if done && setup.AcceptedCount() >= setup.K {
			delta.InsertWithContext(journal.FactKey(fmt.Sprintf("guardian_setup/%s/completed", setup.CeremonyID)), journal.FactValue{
				TypeID:    FactGuardianSetupCompleted,
				Actor:     guardian,
				Timestamp: now,
				Encoding:  setup.GroupPublicKey.Bytes(),
			})
		}
		return nil
	default:
		return fmt.Errorf("intent: unknown guardian setup decision %q", p.Decision)
	}
}

func (in *Interpreter) recordPartialSignature(ctx context.Context, signing *recovery.SigningCeremony, guardian ids.AuthorityId, p guardianApprovalPayload) error {
	secure, err := in.Dispatcher.SecureStorage()
	if err != nil {
		return err
	}
	proof := effectcore.CapabilityProof{Subject: guardian.String(), Actions: []string{"guardian_share_read"}}
	sealed, err := secure.Get(ctx, proof, []byte(fmt.Sprintf("guardian_share/%s/%s", signing.AccountID, guardian)))
	if err != nil {
		return fmt.Errorf("intent: fetching sealed guardian share: %w", err)
	}
	deviceSecret, err := hex.DecodeString(p.DeviceSecretHex)
	if err != nil {
		return fmt.Errorf("intent: decoding device secret: %w", err)
	}
	_, err = signing.SubmitPartialSignature(ctx, in.Dispatcher, in.ceremonyTracker(), guardian, p.GuardianIndex, sealed, deviceSecret)
	if err != nil {
		return fmt.Errorf("intent: submitting partial signature: %w", err)
	}
	return nil
}

func (in *Interpreter) startRecovery(ctx context.Context, req Request, now int64) error {
	var p startRecoveryPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return fmt.Errorf("intent: decoding start-recovery payload: %w", err)
	}
	accountID, err := decodeHash32(p.AccountID)
	if err != nil {
		return err
	}
	setupID, err := decodeHash32(p.SetupCeremonyID)
	if err != nil {
		return err
	}
	setup, ok := in.recoveryState().getSetup(ids.CeremonyId(setupID))
	if !ok {
		return fmt.Errorf("intent: no completed setup ceremony %s", p.SetupCeremonyID)
	}
	participants := make([]ids.AuthorityId, 0, len(p.ParticipantsHex))
	for _, phex := range p.ParticipantsHex {
		h, err := decodeHash32(phex)
		if err != nil {
			return err
		}
		participants = append(participants, ids.AuthorityId(h))
	}
	message, err := hex.DecodeString(p.MessageHex)
	if err != nil {
		return fmt.Errorf("intent: decoding recovery message: %w", err)
	}

	signing, err := recovery.OpenRecovery(in.ceremonyTracker(), ids.AccountId(accountID), req.Authority, participants, setup.K, setup.GroupPublicKey, message, time.Duration(p.DisputeWindowSec)*time.Second, time.Duration(p.TimeoutSeconds)*time.Second, now)
	if err != nil {
		return fmt.Errorf("intent: opening recovery ceremony: %w", err)
	}
	in.recoveryState().putSigning(signing)
	return nil
}

func (in *Interpreter) completeRecovery(ctx context.Context, req Request, now int64) error {
	var p completeRecoveryPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return fmt.Errorf("intent: decoding complete-recovery payload: %w", err)
	}
	ceremonyID, err := decodeHash32(p.CeremonyID)
	if err != nil {
		return err
	}
	signing, ok := in.recoveryState().getSigning(ids.CeremonyId(ceremonyID))
	if !ok {
		return fmt.Errorf("intent: no signing ceremony %s", p.CeremonyID)
	}
	if _, err := signing.Finalize(ctx, in.Dispatcher, in.ceremonyTracker(), now); err != nil {
		return fmt.Errorf("intent: finalizing recovery: %w", err)
	}
	return nil
}

// grantDeviceCapability installs a fresh capability grant for the
// requesting authority — add-device's capability-side effect, the call
// site journal.SetCapBytes/RefineCaps previously had none of.
func (in *Interpreter) grantDeviceCapability(req Request, delta *journal.Journal) error {
	var p devicePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return fmt.Errorf("intent: decoding add-device payload: %w", err)
	}
	contextID, err := decodeHash32(p.ContextIDHex)
	if err != nil {
		return err
	}
	actions := make([]capability.Action, len(p.Actions))
	for i, a := range p.Actions {
		actions[i] = capability.Action(a)
	}
	grant := capability.NewCapabilitySet(ids.ContextId(contextID), actions...)
	delta.SetCapBytes(req.Authority, grant.Bytes())
	return nil
}

// revokeDeviceCapability replaces the requesting authority's capability
// bytes with the empty set for the given context. Meeting any set with
// the empty set yields the empty set, so installing it directly via
// SetCapBytes has the same effect as a RefineCaps call would here.
func (in *Interpreter) revokeDeviceCapability(req Request, delta *journal.Journal) error {
	var p devicePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return fmt.Errorf("intent: decoding remove-device payload: %w", err)
	}
	contextID, err := decodeHash32(p.ContextIDHex)
	if err != nil {
		return err
	}
	empty := capability.NewCapabilitySet(ids.ContextId(contextID))
	delta.SetCapBytes(req.Authority, empty.Bytes())
	return nil
}
