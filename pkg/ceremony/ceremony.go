// Copyright 2025 Aura Project
//
// Package ceremony implements the threshold ceremony tracker: an in-memory
// map of CeremonyId to CeremonyRecord with k-of-n state transitions.
// Grounded directly on the teacher's pkg/batch/consensus_coordinator.go —
// ConsensusEntry/ConsensusState, the mutex-guarded map, cleanupLoop TTL
// sweep, and GetConsensusEntry/GetConsensusStats query methods —
// generalized from per-batch BLS attestation collection to the account
// core's generic threshold-coordination events (guardian rotation, device
// enrollment/removal, key rotation, recovery execution, invitation
// acceptance).

package ceremony

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aura-network/aura/pkg/ids"
)

// State is a ceremony's lifecycle state.
type State string

const (
	StateRegistered State = "registered"
	StateAccepting  State = "accepting"
	StateCommitting State = "committing"
	StateCommitted  State = "committed"
	StateSuperseded State = "superseded"
	StateFailed     State = "failed"
	StateTimedOut   State = "timed_out"
)

// AgreementMode tracks how strongly the ceremony's current state is
// anchored: threshold-reached moves it to CoordinatorSoftSafe, a full
// commit moves it to ConsensusFinalized.
type AgreementMode string

const (
	AgreementNone               AgreementMode = "none"
	AgreementCoordinatorSoftSafe AgreementMode = "coordinator_soft_safe"
	AgreementConsensusFinalized AgreementMode = "consensus_finalized"
)

// SupersessionReason is kept as an open string type per DESIGN.md's Open
// Question decision: callers may pass any stable string beyond the three
// well-known reasons below.
type SupersessionReason string

const (
	ReasonNewerPrestate      SupersessionReason = "NewerPrestate"
	ReasonNewerRequest       SupersessionReason = "NewerRequest"
	ReasonParticipantWithdrew SupersessionReason = "ParticipantWithdrew"
)

// SupersessionRecord documents one ceremony being superseded by another.
type SupersessionRecord struct {
	By        ids.CeremonyId
	Reason    SupersessionReason
	Timestamp int64
}

var (
	ErrAlreadyExists     = errors.New("ceremony: id already registered")
	ErrInconsistentKN    = errors.New("ceremony: inconsistent k/n/participants")
	ErrNotFound          = errors.New("ceremony: not found")
	ErrSuperseded        = errors.New("ceremony: forbidden, already superseded")
	ErrInvariantViolated = errors.New("ceremony: invariant violated")
)

// Record is one tracked ceremony.
type Record struct {
	ID            ids.CeremonyId
	Kind          string
	Initiator     ids.AuthorityId
	K             int
	N             int
	Participants  []ids.AuthorityId
	NewEpoch      int64
	PrestateHash  *ids.Hash32
	State         State
	Agreement     AgreementMode
	Accepted      map[ids.AuthorityId]struct{}
	StartedAt     int64
	Timeout       time.Duration
	CommittedAt   *int64
	ConsensusID   string
	FailureReason string
	Supersession  *SupersessionRecord
}

func (r *Record) isCommitted() bool  { return r.State == StateCommitted }
func (r *Record) isSuperseded() bool { return r.State == StateSuperseded }
func (r *Record) hasFailed() bool    { return r.State == StateFailed || r.State == StateTimedOut }

// validate checks the four invariants spec §4.6 requires after every
// mutation, accumulating every violation the way the teacher's
// pkg/consensus/validator_block_invariants.go reports block invariants.
func (r *Record) validate() error {
	var violations []string
	add := func(msg string) { violations = append(violations, msg) }

	if !(r.K > 0 && r.K <= r.N && r.N == len(r.Participants)) {
		add(fmt.Sprintf("0 < k <= n = |participants| violated: k=%d n=%d participants=%d", r.K, r.N, len(r.Participants)))
	}
	participantSet := make(map[ids.AuthorityId]struct{}, len(r.Participants))
	for _, p := range r.Participants {
		participantSet[p] = struct{}{}
	}
	for a := range r.Accepted {
		if _, ok := participantSet[a]; !ok {
			add(fmt.Sprintf("accepted contains non-participant %s", a))
		}
	}
	if r.isCommitted() && len(r.Accepted) < r.K {
		add(fmt.Sprintf("is_committed but |accepted|=%d < k=%d", len(r.Accepted), r.K))
	}
	if r.isCommitted() && r.isSuperseded() {
		add("ceremony is both committed and superseded")
	}
	if r.isCommitted() && r.hasFailed() {
		add("ceremony is both committed and failed")
	}
	if len(violations) > 0 {
		return fmt.Errorf("%w: %v", ErrInvariantViolated, violations)
	}
	return nil
}

// Config tunes the tracker, following the teacher's Logger-injected config
// pattern.
type Config struct {
	Logger *log.Logger
}

// DefaultConfig returns a tracker config with a prefixed stderr logger.
func DefaultConfig() Config {
	return Config{Logger: log.New(log.Writer(), "[ceremony] ", log.LstdFlags)}
}

// Tracker is the mutex-guarded CeremonyId -> Record map.
type Tracker struct {
	mu      sync.RWMutex
	records map[ids.CeremonyId]*Record
	cfg     Config
}

// New creates an empty tracker.
func New(cfg Config) *Tracker {
	if cfg.Logger == nil {
		cfg = DefaultConfig()
	}
	return &Tracker{records: make(map[ids.CeremonyId]*Record), cfg: cfg}
}

// Register creates a new ceremony record. It fails if id already exists or
// if k/n/participants are inconsistent.
func (t *Tracker) Register(id ids.CeremonyId, kind string, initiator ids.AuthorityId, k, n int, participants []ids.AuthorityId, newEpoch int64, prestateHash *ids.Hash32, timeout time.Duration, startedAt int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.records[id]; exists {
		return ErrAlreadyExists
	}
	rec := &Record{
		ID:           id,
		Kind:         kind,
		Initiator:    initiator,
		K:            k,
		N:            n,
		Participants: append([]ids.AuthorityId(nil), participants...),
		NewEpoch:     newEpoch,
		PrestateHash: prestateHash,
		State:        StateRegistered,
		Agreement:    AgreementNone,
		Accepted:     make(map[ids.AuthorityId]struct{}),
		StartedAt:    startedAt,
		Timeout:      timeout,
	}
	if err := rec.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInconsistentKN, err)
	}
	t.records[id] = rec
	return nil
}

// MarkAccepted records participant's acceptance, idempotently. It returns
// whether the threshold k has now been reached.
func (t *Tracker) MarkAccepted(id ids.CeremonyId, participant ids.AuthorityId) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return false, ErrNotFound
	}
	if rec.isSuperseded() {
		return false, ErrSuperseded
	}
	if rec.State == StateRegistered {
		rec.State = StateAccepting
	}
	rec.Accepted[participant] = struct{}{}
	thresholdMet := len(rec.Accepted) >= rec.K
	if thresholdMet && rec.Agreement == AgreementNone {
		rec.Agreement = AgreementCoordinatorSoftSafe
	}
	if err := rec.validate(); err != nil {
		return false, err
	}
	return thresholdMet, nil
}

// MarkCommitting transitions an accepting ceremony into the committing
// phase, the state machine's accepting<->committing oscillation point.
func (t *Tracker) MarkCommitting(id ids.CeremonyId) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.isSuperseded() {
		return ErrSuperseded
	}
	rec.State = StateCommitting
	return rec.validate()
}

// MarkCommitted finalizes the ceremony, idempotently. Forbidden if
// superseded.
func (t *Tracker) MarkCommitted(id ids.CeremonyId, committedAt int64, consensusID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.isSuperseded() {
		return ErrSuperseded
	}
	if rec.isCommitted() {
		return nil
	}
	rec.State = StateCommitted
	rec.Agreement = AgreementConsensusFinalized
	rec.CommittedAt = &committedAt
	rec.ConsensusID = consensusID
	return rec.validate()
}

// MarkFailed transitions the ceremony to failed with reason.
func (t *Tracker) MarkFailed(id ids.CeremonyId, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.isCommitted() {
		return fmt.Errorf("%w: cannot fail a committed ceremony", ErrInvariantViolated)
	}
	rec.State = StateFailed
	rec.FailureReason = reason
	return rec.validate()
}

// MarkSuperseded transitions the ceremony to superseded by another and
// stores a SupersessionRecord on the ceremony's own Record; no separate
// audit trail is appended to.
func (t *Tracker) MarkSuperseded(id ids.CeremonyId, by ids.CeremonyId, reason SupersessionReason, timestamp int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.isCommitted() {
		return fmt.Errorf("%w: cannot supersede a committed ceremony", ErrInvariantViolated)
	}
	rec.State = StateSuperseded
	rec.Supersession = &SupersessionRecord{By: by, Reason: reason, Timestamp: timestamp}
	return rec.validate()
}

// CheckSupersessionCandidates returns active ceremonies of the same kind
// with a different prestate hash than prestateHash, candidates for being
// superseded by a new ceremony about to register.
func (t *Tracker) CheckSupersessionCandidates(kind string, prestateHash *ids.Hash32) []*Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Record
	for _, rec := range t.records {
		if rec.Kind != kind {
			continue
		}
		if rec.isCommitted() || rec.isSuperseded() || rec.hasFailed() {
			continue
		}
		if !sameHash(rec.PrestateHash, prestateHash) {
			out = append(out, rec)
		}
	}
	return out
}

func sameHash(a, b *ids.Hash32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// CleanupTimedOut marks any ceremony whose started_at+timeout is in the
// past (relative to nowUnixNano) as failed with reason "timed_out".
func (t *Tracker) CleanupTimedOut(nowUnixNano int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for _, rec := range t.records {
		if rec.isCommitted() || rec.isSuperseded() || rec.hasFailed() {
			continue
		}
		if rec.Timeout <= 0 {
			continue
		}
		deadline := rec.StartedAt + int64(rec.Timeout)
		if nowUnixNano > deadline {
			rec.State = StateTimedOut
			rec.FailureReason = "timed_out"
			count++
		}
	}
	return count
}

// GetCeremony returns the record for id, the tracker's basic query method
// (SPEC_FULL module addition #6).
func (t *Tracker) GetCeremony(id ids.CeremonyId) (*Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[id]
	return rec, ok
}

// ListActive returns every non-terminal ceremony of the given kind.
func (t *Tracker) ListActive(kind string) []*Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Record
	for _, rec := range t.records {
		if rec.Kind == kind && !rec.isCommitted() && !rec.isSuperseded() && !rec.hasFailed() {
			out = append(out, rec)
		}
	}
	return out
}

// Stats returns counts per state, mirroring the teacher's
// GetConsensusStats.
func (t *Tracker) Stats() map[State]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[State]int)
	for _, rec := range t.records {
		out[rec.State]++
	}
	return out
}

// RunCleanupLoop periodically sweeps timed-out ceremonies until ctx is
// canceled, mirroring the teacher's cleanupLoop ticker pattern.
func (t *Tracker) RunCleanupLoop(ctx context.Context, interval time.Duration, now func() int64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := t.CleanupTimedOut(now())
			if n > 0 {
				t.cfg.Logger.Printf("cleanup swept %d timed-out ceremonies", n)
			}
		}
	}
}
