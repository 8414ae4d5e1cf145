// Copyright 2025 Aura Project
//
// Package syncentropy implements anti-entropy synchronization between
// peers: a per-peer OpLog, summary exchange, batched transfer, and session
// accounting. Grounded on the teacher's pkg/batch/peer_manager.go
// (mutex-guarded peer table, *log.Logger, HTTPPeerManagerConfig shape) and
// pkg/batch/confirmation_tracker.go/cost_tracker.go's per-peer state
// tracking, generalized to reliability-scored peer selection and
// rate-limited sync sessions. Named syncentropy (not sync) to avoid
// colliding with the standard library's sync package.

package syncentropy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/aura-network/aura/pkg/ids"
)

// PeerID identifies a remote peer for sync purposes.
type PeerID string

// OpRecord is one attested fact in a peer's operation log, keyed by its
// content hash.
type OpRecord struct {
	CID       ids.Hash32
	Payload   []byte
	Signature []byte
	Actor     ids.AuthorityId
	Timestamp int64
}

// OpLog is a peer's append-only log of attested facts, keyed by content
// hash for O(1) presence checks during summary diffing.
type OpLog struct {
	mu   sync.RWMutex
	byID map[ids.Hash32]OpRecord
}

// NewOpLog creates an empty log.
func NewOpLog() *OpLog { return &OpLog{byID: make(map[ids.Hash32]OpRecord)} }

// Append adds rec if its CID is not already present; returns false if it
// was already present (a no-op duplicate, per spec §4.8 step 3).
func (l *OpLog) Append(rec OpRecord) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.byID[rec.CID]; exists {
		return false
	}
	l.byID[rec.CID] = rec
	return true
}

// Get returns the record for cid, if present.
func (l *OpLog) Get(cid ids.Hash32) (OpRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.byID[cid]
	return r, ok
}

// Summary returns this log's OpLogSummary.
func (l *OpLog) Summary(version uint64) OpLogSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cids := make([]ids.Hash32, 0, len(l.byID))
	for c := range l.byID {
		cids = append(cids, c)
	}
	return OpLogSummary{Version: version, OperationCount: len(cids), CIDs: cids}
}

// OpLogSummary is exchanged at the start of a sync session.
type OpLogSummary struct {
	Version        uint64
	OperationCount int
	CIDs           []ids.Hash32
}

// Diff computes the cids present in want but absent from have: the set of
// operations the have side lacks and needs to request.
func Diff(have, want OpLogSummary) []ids.Hash32 {
	haveSet := make(map[ids.Hash32]struct{}, len(have.CIDs))
	for _, c := range have.CIDs {
		haveSet[c] = struct{}{}
	}
	var missing []ids.Hash32
	for _, c := range want.CIDs {
		if _, ok := haveSet[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// Validator validates a received operation before it is applied: signature
// check and reducer acceptance (spec §4.8 step 3). Kept as an injected
// function so syncentropy does not import pkg/capability or pkg/journal's
// reducer registry directly.
type Validator func(OpRecord) error

var ErrValidationFailed = errors.New("syncentropy: operation failed validation")

// PeerSelector lets a caller choose peers by an opaque criterion; the
// synchronizer itself is oblivious to the criterion (SPEC_FULL module
// addition #8).
type PeerSelector interface {
	SelectPeers(n int, criteria Criteria) []PeerID
}

// Criteria parameterizes peer selection: reliability score, latency,
// freshness. The synchronizer never inspects these fields itself.
type Criteria struct {
	MinReliability float64
	MaxLatency     time.Duration
	MinFreshness   int64
}

// ReliabilityScore is an exponential-moving-average tracker of a peer's
// sync success rate, grounded on the teacher's per-peer tracking shape in
// pkg/batch/confirmation_tracker.go and pkg/batch/cost_tracker.go.
type ReliabilityScore struct {
	mu    sync.Mutex
	alpha float64
	value float64
	set   bool
}

// NewReliabilityScore creates a tracker with smoothing factor alpha in
// (0,1]; higher alpha weights recent observations more heavily.
func NewReliabilityScore(alpha float64) *ReliabilityScore {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	return &ReliabilityScore{alpha: alpha}
}

// Observe folds a single success/failure observation (1.0 or 0.0) into the
// running average.
func (r *ReliabilityScore) Observe(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obs := 0.0
	if success {
		obs = 1.0
	}
	if !r.set {
		r.value = obs
		r.set = true
		return
	}
	r.value = r.alpha*obs + (1-r.alpha)*r.value
}

// Value returns the current score.
func (r *ReliabilityScore) Value() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// Config tunes a Synchronizer.
type Config struct {
	MaxOperationsPerRound int
	MaxConcurrentSyncs    int
	MinSyncInterval       time.Duration
	BaseBackoff           time.Duration
	MaxBackoff            time.Duration
	Logger                *log.Logger
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() Config {
	return Config{
		MaxOperationsPerRound: 256,
		MaxConcurrentSyncs:    4,
		MinSyncInterval:       30 * time.Second,
		BaseBackoff:           200 * time.Millisecond,
		MaxBackoff:            30 * time.Second,
		Logger:                log.New(log.Writer(), "[syncentropy] ", log.LstdFlags),
	}
}

var (
	ErrRateLimited        = errors.New("syncentropy: peer sync rate-limited")
	ErrConcurrencyLimited = errors.New("syncentropy: max concurrent syncs reached")
)

// SessionResult is what a completed sync session reports.
type SessionResult struct {
	OperationsTransferred int
	Errors                []error
}

// Synchronizer runs anti-entropy sessions against peers, enforcing
// concurrency and per-peer rate limits.
type Synchronizer struct {
	mu            sync.Mutex
	local         *OpLog
	cfg           Config
	lastSyncTime  map[PeerID]time.Time
	retryCount    map[PeerID]int
	activeSyncs   int
	reliability   map[PeerID]*ReliabilityScore
}

// New creates a Synchronizer over local, the node's own OpLog.
func New(local *OpLog, cfg Config) *Synchronizer {
	if cfg.MaxOperationsPerRound <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = DefaultConfig().Logger
	}
	return &Synchronizer{
		local:        local,
		cfg:          cfg,
		lastSyncTime: make(map[PeerID]time.Time),
		retryCount:   make(map[PeerID]int),
		reliability:  make(map[PeerID]*ReliabilityScore),
	}
}

func (s *Synchronizer) scoreFor(peer PeerID) *ReliabilityScore {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reliability[peer]
	if !ok {
		r = NewReliabilityScore(0.3)
		s.reliability[peer] = r
	}
	return r
}

// ReliabilityFor exposes a peer's current reliability score, used by
// PeerSelector implementations.
func (s *Synchronizer) ReliabilityFor(peer PeerID) float64 {
	return s.scoreFor(peer).Value()
}

func (s *Synchronizer) acquireSlot(peer PeerID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeSyncs >= s.cfg.MaxConcurrentSyncs {
		return ErrConcurrencyLimited
	}
	if last, ok := s.lastSyncTime[peer]; ok && now.Sub(last) < s.cfg.MinSyncInterval {
		return ErrRateLimited
	}
	s.activeSyncs++
	return nil
}

func (s *Synchronizer) releaseSlot(peer PeerID, now time.Time, succeeded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeSyncs--
	s.lastSyncTime[peer] = now
	if succeeded {
		s.retryCount[peer] = 0
	}
}

// PeerTransport is the injected collaborator a session exchanges summaries
// and operations with; a real implementation wraps effectcore.Network.
type PeerTransport interface {
	FetchSummary(ctx context.Context, peer PeerID, version uint64) (OpLogSummary, error)
	FetchOperations(ctx context.Context, peer PeerID, cids []ids.Hash32) ([]OpRecord, error)
	PushOperations(ctx context.Context, peer PeerID, ops []OpRecord) error
}

// SyncOnce runs one summary-exchange/transfer/apply session against peer.
// It enforces the concurrency and rate limits, then retries failed
// sessions with exponential backoff and jitter, except that a validation
// failure (ErrValidationFailed) ends the session at once, resetting the
// peer's retry count on success (spec §4.8's retry policy).
func (s *Synchronizer) SyncOnce(ctx context.Context, peer PeerID, transport PeerTransport, validate Validator, now time.Time) (SessionResult, error) {
	if err := s.acquireSlot(peer, now); err != nil {
		return SessionResult{}, err
	}
	succeeded := false
	defer func() { s.releaseSlot(peer, now, succeeded) }()

	result, err := s.runWithBackoff(ctx, peer, transport, validate)
	if err == nil {
		succeeded = true
		s.scoreFor(peer).Observe(true)
	} else {
		s.scoreFor(peer).Observe(false)
	}
	return result, err
}

func (s *Synchronizer) runWithBackoff(ctx context.Context, peer PeerID, transport PeerTransport, validate Validator) (SessionResult, error) {
	delay := s.cfg.BaseBackoff
	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := s.runSession(ctx, peer, transport, validate)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrValidationFailed) {
			return SessionResult{}, err
		}
		s.mu.Lock()
		s.retryCount[peer]++
		retries := s.retryCount[peer]
		s.mu.Unlock()
		if retries > 5 {
			return SessionResult{}, fmt.Errorf("syncentropy: session with %s failed after %d retries: %w", peer, retries, lastErr)
		}
		jitter := time.Duration(rand.Int63n(int64(delay) + 1))
		select {
		case <-ctx.Done():
			return SessionResult{}, ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
		if delay > s.cfg.MaxBackoff {
			delay = s.cfg.MaxBackoff
		}
	}
}

func (s *Synchronizer) runSession(ctx context.Context, peer PeerID, transport PeerTransport, validate Validator) (SessionResult, error) {
	localSummary := s.local.Summary(1)
	remoteSummary, err := transport.FetchSummary(ctx, peer, 1)
	if err != nil {
		return SessionResult{}, fmt.Errorf("syncentropy: fetching remote summary: %w", err)
	}

	needed := Diff(localSummary, remoteSummary)
	transferred := 0
	for start := 0; start < len(needed); start += s.cfg.MaxOperationsPerRound {
		end := start + s.cfg.MaxOperationsPerRound
		if end > len(needed) {
			end = len(needed)
		}
		batch, err := transport.FetchOperations(ctx, peer, needed[start:end])
		if err != nil {
			return SessionResult{}, fmt.Errorf("syncentropy: fetching operation batch: %w", err)
		}
		for _, op := range batch {
			if validate != nil {
				if verr := validate(op); verr != nil {
					return SessionResult{}, fmt.Errorf("%w: %v", ErrValidationFailed, verr)
				}
			}
			if s.local.Append(op) {
				transferred++
			}
		}
	}

	responderNeeded := Diff(remoteSummary, localSummary)
	if len(responderNeeded) > 0 {
		var toSend []OpRecord
		for _, cid := range responderNeeded {
			if rec, ok := s.local.Get(cid); ok {
				toSend = append(toSend, rec)
			}
		}
		if len(toSend) > 0 {
			if err := transport.PushOperations(ctx, peer, toSend); err != nil {
				return SessionResult{}, fmt.Errorf("syncentropy: pushing operations responder needs: %w", err)
			}
		}
	}

	return SessionResult{OperationsTransferred: transferred}, nil
}
