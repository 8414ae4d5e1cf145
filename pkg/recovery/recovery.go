// Copyright 2025 Aura Project
//
// Package recovery implements the guardian recovery choreography of
// spec.md §4.7: setup (distributing a threshold key package across an
// account's guardians), signing (collecting partial signatures with a
// dispute window), and supersession (replacing a guardian set before it
// is ever used). Wires pkg/choreography for the multi-phase message
// passing, pkg/ceremony for the k-of-n threshold bookkeeping, and
// effectcore.ThresholdCrypto/SecureKV for the Feldman VSS / BLS12-381
// threshold math and at-rest share storage, so every cryptographic and
// storage side effect flows through the same swappable-handler surface
// the rest of the core uses. pkg/intent is the choreography's caller: it
// owns translating a setup/signing step's result into the journal facts
// spec.md names (GuardianSetupInitiated, GuardianAccepted,
// GuardianDeclined, GuardianSetupCompleted), since this package stays
// journal-agnostic domain logic the way pkg/guard's gates stay
// effect-agnostic. Grounded on the teacher's pkg/attestation/strategy
// (scheme-pluggable sign/verify) and pkg/batch/consensus_coordinator.go
// (collect-until-quorum shape).

package recovery

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/google/uuid"

	"github.com/aura-network/aura/pkg/ceremony"
	"github.com/aura-network/aura/pkg/choreography"
	"github.com/aura-network/aura/pkg/cryptoeffect"
	"github.com/aura-network/aura/pkg/effectcore"
	"github.com/aura-network/aura/pkg/ids"
)

// Wire message types for the setup choreography.
const (
	MsgGuardianInvite     choreography.MessageType = "guardian_invite"
	MsgGuardianAcceptance choreography.MessageType = "guardian_acceptance"
	MsgGuardianDecline    choreography.MessageType = "guardian_decline"
	MsgSetupCompletion    choreography.MessageType = "setup_completion"
)

// Wire message types for the recovery-signing choreography.
const (
	MsgRecoveryOpen      choreography.MessageType = "recovery_open"
	MsgSharePartialSig   choreography.MessageType = "share_partial_sig"
	MsgRecoveryDispute   choreography.MessageType = "recovery_dispute"
	MsgRecoveryFinalized choreography.MessageType = "recovery_finalized"
)

// FailureReason enumerates the named ways a recovery ceremony can fail,
// reported on ceremony.Record.FailureReason.
type FailureReason string

const (
	ReasonInsufficientAcceptances FailureReason = "insufficient_acceptances"
	ReasonShareDecryptionFailed   FailureReason = "share_decryption_failed"
	ReasonCombineFailed           FailureReason = "combine_failed"
	ReasonDisputed                FailureReason = "disputed"
)

var (
	ErrNoSuchGuardian    = errors.New("recovery: authority is not a registered guardian for this ceremony")
	ErrAlreadyDeclined   = errors.New("recovery: guardian already declined setup")
	ErrDisputeWindowOpen = errors.New("recovery: cannot finalize while the dispute window is open")
)

// GuardianSetup tracks one guardian's role during the setup choreography:
// its share of the dealer's polynomial and the sealed bytes it was handed
// to store at rest.
type GuardianSetup struct {
	Authority   ids.AuthorityId
	Index       int
	SealedShare []byte
	Accepted    bool
	Declined    bool
}

// SetupCeremony is the in-progress state of one account's guardian-set
// threshold key distribution.
type SetupCeremony struct {
	CeremonyID     ids.CeremonyId
	AccountID      ids.AccountId
	K              int
	Guardians      map[ids.AuthorityId]*GuardianSetup
	Commitments    cryptoeffect.ShareCommitments
	GroupPublicKey *cryptoeffect.GroupPublicKey
	Session        *choreography.Session
}

// shareKVKey is the spec-mandated secure-storage key for one guardian's
// sealed share: guardian_share/<account>/<guardian>.
func shareKVKey(accountID ids.AccountId, guardian ids.AuthorityId) []byte {
	return []byte(fmt.Sprintf("guardian_share/%s/%s", accountID.String(), guardian.String()))
}

// BeginSetup runs the dealer side of guardian setup: splits a fresh secret
// into n shares at threshold k, seals each guardian's share under a key
// derived from that guardian's device secret via the dispatcher's
// ThresholdCrypto handler, persists each sealed share to secure storage at
// guardian_share/<account>/<guardian>, and registers both the ceremony
// tracker entry and the choreography session that will collect
// GuardianAcceptance/GuardianDecline responses.
func BeginSetup(ctx context.Context, dispatcher *effectcore.Dispatcher, tracker *ceremony.Tracker, accountID ids.AccountId, initiator ids.AuthorityId, guardianDeviceSecrets map[ids.AuthorityId][]byte, k int, timeout time.Duration, startedAt int64) (*SetupCeremony, error) {
	n := len(guardianDeviceSecrets)
	if k < 1 || k > n {
		return nil, fmt.Errorf("recovery: invalid threshold k=%d for n=%d guardians", k, n)
	}

	tc, err := dispatcher.ThresholdCryptoHandler()
	if err != nil {
		return nil, fmt.Errorf("recovery: %w", err)
	}
	secure, err := dispatcher.SecureStorage()
	if err != nil {
		return nil, fmt.Errorf("recovery: %w", err)
	}

	secret, err := cryptoeffect.RandomScalar()
	if err != nil {
		return nil, fmt.Errorf("recovery: generating group secret: %w", err)
	}
	shares, commitments, err := cryptoeffect.DealerSplit(secret, k, n)
	if err != nil {
		return nil, fmt.Errorf("recovery: splitting shares: %w", err)
	}
	groupPub := cryptoeffect.GroupPublicKeyFromSecret(secret)

	ceremonyID := ids.CeremonyId(ids.MustNewRandom())
	participants := make([]ids.AuthorityId, 0, n)
	guardians := make(map[ids.AuthorityId]*GuardianSetup, n)
	proof := effectcore.CapabilityProof{Subject: initiator.String(), Actions: []string{"guardian_setup"}}

	idx := 0
	for authority, deviceSecret := range guardianDeviceSecrets {
		share := shares[idx]
		idx++

		encodedShare, err := cryptoeffect.MarshalShare(share)
		if err != nil {
			return nil, fmt.Errorf("recovery: marshaling share for guardian %s: %w", authority, err)
		}
		wrapKey, err := tc.DeriveShareKey(ctx, deviceSecret, accountID[:])
		if err != nil {
			return nil, fmt.Errorf("recovery: deriving wrap key for guardian %s: %w", authority, err)
		}
		sealed, err := tc.SealShare(ctx, wrapKey, encodedShare, ceremonyID[:])
		if err != nil {
			return nil, fmt.Errorf("recovery: sealing share for guardian %s: %w", authority, err)
		}
		if err := secure.Put(ctx, proof, shareKVKey(accountID, authority), sealed); err != nil {
			return nil, fmt.Errorf("recovery: persisting sealed share for guardian %s: %w", authority, err)
		}

		guardians[authority] = &GuardianSetup{Authority: authority, Index: share.Index, SealedShare: sealed}
		participants = append(participants, authority)
	}

	if err := tracker.Register(ceremonyID, "guardian_setup", initiator, k, n, participants, 0, nil, timeout, startedAt); err != nil {
		return nil, fmt.Errorf("recovery: registering setup ceremony: %w", err)
	}

	phases := []choreography.Phase{
		{Name: "invite", ExpectedTypes: respondedTypes(participants)},
	}
	session := choreography.NewSession(phases)

	return &SetupCeremony{
		CeremonyID:     ceremonyID,
		AccountID:      accountID,
		K:              k,
		Guardians:      guardians,
		Commitments:    commitments,
		GroupPublicKey: groupPub,
		Session:        session,
	}, nil
}

// respondedTypes declares that setup's single phase expects exactly one
// response per participant; the actual type carried is always
// GuardianAcceptance or GuardianDecline, disambiguated by the message
// body, not the MessageType — choreography.Phase only gates on type, so
// setup is modeled as a single fan-in on a per-guardian response marker.
func respondedTypes(participants []ids.AuthorityId) []choreography.MessageType {
	types := make([]choreography.MessageType, len(participants))
	for i, p := range participants {
		types[i] = choreography.MessageType(fmt.Sprintf("response:%s", p))
	}
	return types
}

// RecordAcceptance marks guardian as accepted and advances the setup
// session. thresholdMet reports whether the setup ceremony has enough
// acceptances to meet its threshold; done reports whether every guardian
// has responded (accept or decline).
func (s *SetupCeremony) RecordAcceptance(tracker *ceremony.Tracker, guardian ids.AuthorityId) (thresholdMet bool, done bool, err error) {
	gs, ok := s.Guardians[guardian]
	if !ok {
		return false, false, ErrNoSuchGuardian
	}
	gs.Accepted = true

	thresholdMet, err = tracker.MarkAccepted(s.CeremonyID, guardian)
	if err != nil {
		return false, false, err
	}

	msgType := choreography.MessageType(fmt.Sprintf("response:%s", guardian))
	done, err = s.Session.Advance(choreography.Message{Epoch: s.Session.Epoch(), Type: msgType, From: "guardian", FromID: guardian})
	if err != nil {
		return thresholdMet, false, fmt.Errorf("recovery: advancing setup session: %w", err)
	}
	return thresholdMet, done, nil
}

// RecordDecline marks guardian as declined. Unlike acceptance this never
// contributes to the threshold, but it still satisfies the phase's
// fan-in so setup can complete (possibly below threshold, which the
// caller must then fail via FailureReason insufficient_acceptances).
func (s *SetupCeremony) RecordDecline(guardian ids.AuthorityId) (done bool, err error) {
	gs, ok := s.Guardians[guardian]
	if !ok {
		return false, ErrNoSuchGuardian
	}
	if gs.Declined {
		return false, ErrAlreadyDeclined
	}
	gs.Declined = true

	msgType := choreography.MessageType(fmt.Sprintf("response:%s", guardian))
	return s.Session.Advance(choreography.Message{Epoch: s.Session.Epoch(), Type: msgType, From: "guardian", FromID: guardian})
}

// AcceptedCount returns how many guardians have accepted so far.
func (s *SetupCeremony) AcceptedCount() int {
	n := 0
	for _, gs := range s.Guardians {
		if gs.Accepted {
			n++
		}
	}
	return n
}

// SigningCeremony is the in-progress state of one recovery attempt: the
// set of collected partial signatures and the dispute window deadline
// before they may be combined.
type SigningCeremony struct {
	CeremonyID     ids.CeremonyId
	AccountID      ids.AccountId
	K              int
	GroupPublicKey *cryptoeffect.GroupPublicKey
	Message        []byte
	Partials       map[ids.AuthorityId]cryptoeffect.PartialSignature
	Disputed       bool
	DisputeUntil   int64
}

// OpenRecovery begins a new recovery-signing ceremony requesting guardians
// sign payload (typically a new device set commitment) toward the account
// recovery threshold k.
func OpenRecovery(tracker *ceremony.Tracker, accountID ids.AccountId, initiator ids.AuthorityId, participants []ids.AuthorityId, k int, groupPub *cryptoeffect.GroupPublicKey, payload []byte, disputeWindow time.Duration, timeout time.Duration, startedAt int64) (*SigningCeremony, error) {
	ceremonyID := ids.CeremonyId(ids.MustNewRandom())
	if err := tracker.Register(ceremonyID, "guardian_recovery", initiator, k, len(participants), participants, 0, nil, timeout, startedAt); err != nil {
		return nil, fmt.Errorf("recovery: registering signing ceremony: %w", err)
	}
	return &SigningCeremony{
		CeremonyID:     ceremonyID,
		AccountID:      accountID,
		K:              k,
		GroupPublicKey: groupPub,
		Message:        payload,
		Partials:       make(map[ids.AuthorityId]cryptoeffect.PartialSignature),
		DisputeUntil:   startedAt + int64(disputeWindow),
	}, nil
}

// SubmitPartialSignature unseals guardian's stored share via the
// dispatcher's ThresholdCrypto handler, re-derives its wrap key from the
// provided device secret, and signs the ceremony's payload with it.
func (s *SigningCeremony) SubmitPartialSignature(ctx context.Context, dispatcher *effectcore.Dispatcher, tracker *ceremony.Tracker, guardian ids.AuthorityId, guardianIndex int, sealedShare, deviceSecret []byte) (thresholdMet bool, err error) {
	tc, err := dispatcher.ThresholdCryptoHandler()
	if err != nil {
		return false, fmt.Errorf("recovery: %w", err)
	}

	wrapKey, err := tc.DeriveShareKey(ctx, deviceSecret, s.AccountID[:])
	if err != nil {
		return false, fmt.Errorf("recovery: deriving wrap key: %w", err)
	}
	plain, err := tc.OpenShare(ctx, wrapKey, sealedShare, s.CeremonyID[:])
	if err != nil {
		return false, fmt.Errorf("%w: %v", wrapFailure(ReasonShareDecryptionFailed), err)
	}
	share, err := cryptoeffect.UnmarshalShare(guardianIndex, plain)
	if err != nil {
		return false, fmt.Errorf("%w: %v", wrapFailure(ReasonShareDecryptionFailed), err)
	}

	signingKey := signingKeyFromShare(share)
	partial := signingKey.Sign(s.Message)
	s.Partials[guardian] = partial

	thresholdMet, err = tracker.MarkAccepted(s.CeremonyID, guardian)
	if err != nil {
		return false, err
	}
	return thresholdMet, nil
}

func signingKeyFromShare(share cryptoeffect.GuardianShare) cryptoeffect.ShareSigningKey {
	return cryptoeffect.ShareSigningKey{Index: share.Index, Scalar: share.Value}
}

type wrapFailure FailureReason

func (w wrapFailure) Error() string { return string(w) }

// RaiseDispute marks the ceremony as disputed, which blocks Finalize until
// the ceremony is explicitly resolved by the caller (e.g. by the
// initiator re-opening a fresh ceremony).
func (s *SigningCeremony) RaiseDispute() { s.Disputed = true }

// Finalize combines the collected partial signatures once the dispute
// window has closed without an unresolved dispute, via the dispatcher's
// ThresholdCrypto handler, verifying the result against the group public
// key before returning it.
func (s *SigningCeremony) Finalize(ctx context.Context, dispatcher *effectcore.Dispatcher, tracker *ceremony.Tracker, nowUnixNano int64) (*bls12381.G1Affine, error) {
	if nowUnixNano < s.DisputeUntil {
		return nil, ErrDisputeWindowOpen
	}
	if s.Disputed {
		_ = tracker.MarkFailed(s.CeremonyID, string(ReasonDisputed))
		return nil, fmt.Errorf("recovery: %s", ReasonDisputed)
	}

	tc, err := dispatcher.ThresholdCryptoHandler()
	if err != nil {
		return nil, fmt.Errorf("recovery: %w", err)
	}

	partials := make([][]byte, 0, len(s.Partials))
	indices := make([]int, 0, len(s.Partials))
	for _, p := range s.Partials {
		b := p.Point.Bytes()
		partials = append(partials, b[:])
		indices = append(indices, p.Index)
	}
	combinedBytes, err := tc.CombinePartialSignatures(ctx, partials, indices, s.K)
	if err != nil {
		_ = tracker.MarkFailed(s.CeremonyID, string(ReasonCombineFailed))
		return nil, fmt.Errorf("%w: %v", wrapFailure(ReasonCombineFailed), err)
	}
	ok, err := tc.VerifyThresholdSignature(ctx, s.GroupPublicKey.Bytes(), combinedBytes, s.Message)
	if err != nil || !ok {
		_ = tracker.MarkFailed(s.CeremonyID, string(ReasonCombineFailed))
		return nil, fmt.Errorf("%w: combined signature failed group verification", wrapFailure(ReasonCombineFailed))
	}

	var combined bls12381.G1Affine
	if _, err := combined.SetBytes(combinedBytes); err != nil {
		return nil, fmt.Errorf("recovery: parsing combined signature: %w", err)
	}

	if err := tracker.MarkCommitted(s.CeremonyID, nowUnixNano, hex.EncodeToString(combinedBytes)); err != nil {
		return nil, fmt.Errorf("recovery: marking ceremony committed: %w", err)
	}
	return &combined, nil
}

// Supersede replaces one guardian-setup ceremony with another — spec
// §4.7's supersession path, used when a guardian-set change is proposed
// while a prior setup is still pending. newer must belong to the same
// account.
func Supersede(tracker *ceremony.Tracker, older, newer ids.CeremonyId, reason ceremony.SupersessionReason, timestamp int64) error {
	return tracker.MarkSuperseded(older, newer, reason, timestamp)
}

// NewProtocolID mints a fresh protocol identifier for a choreography
// session, kept as a thin wrapper so callers don't import
// github.com/google/uuid directly just to start a recovery session.
func NewProtocolID() uuid.UUID { return uuid.New() }
