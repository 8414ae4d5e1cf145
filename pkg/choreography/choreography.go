// Copyright 2025 Aura Project
//
// Package choreography implements the multi-phase, role-annotated message
// runtime that guardian recovery (§4.7) and other ceremonies run on top of.
// Grounded on the teacher's ConsensusCoordinator event-handler registration
// pattern (pkg/batch/consensus_coordinator.go's RegisterHandler-by-event-type
// shape), generalized to role/phase routing with a per-protocol epoch for
// cross-protocol replay prevention.

package choreography

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/aura-network/aura/pkg/ids"
)

// Epoch is a monotonic (protocol_id, sequence) pair preventing a message
// from one protocol run being replayed into another (SPEC_FULL module
// addition #9).
type Epoch struct {
	ProtocolID uuid.UUID
	Sequence   uint64
}

// Role identifies a participant's position in a choreography (e.g.
// "initiator", "guardian").
type Role string

// MessageType identifies the shape of one choreographed message.
type MessageType string

// Message is one inbound or outbound choreography message.
type Message struct {
	Epoch     Epoch
	Type      MessageType
	From      Role
	FromID    ids.AuthorityId
	To        Role
	Body      []byte
	Signature []byte
}

// Validator checks an inbound message's shape, signer, and bindings before
// it is accepted into a phase.
type Validator func(Message) error

// Phase is one step of a choreography: the set of message types expected
// before the runtime advances, and the validators that gate them.
type Phase struct {
	Name            string
	ExpectedTypes   []MessageType
	Validators      map[MessageType]Validator
}

var (
	ErrUnexpectedMessageType = errors.New("choreography: message type not expected in current phase")
	ErrEpochMismatch         = errors.New("choreography: epoch does not match this session's protocol")
	ErrValidationFailed      = errors.New("choreography: message failed validation")
	ErrSessionDone           = errors.New("choreography: session already completed")
)

// Session tracks one in-flight choreography instance: its phase sequence,
// current phase index, and the messages received in the current phase.
type Session struct {
	mu       sync.Mutex
	protocol uuid.UUID
	sequence uint64
	phases   []Phase
	index    int
	received map[MessageType]Message
	done     bool
}

// NewSession starts a session over phases, minting a fresh protocol epoch.
func NewSession(phases []Phase) *Session {
	return &Session{
		protocol: uuid.New(),
		phases:   phases,
		received: make(map[MessageType]Message),
	}
}

// Epoch returns the session's current epoch (protocol id plus the sequence
// number of the next message it expects).
func (s *Session) Epoch() Epoch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Epoch{ProtocolID: s.protocol, Sequence: s.sequence}
}

// currentPhase must be called with the lock held.
func (s *Session) currentPhase() (Phase, bool) {
	if s.index >= len(s.phases) {
		return Phase{}, false
	}
	return s.phases[s.index], true
}

// Advance submits msg to the session. It returns done=true once every
// phase has completed. A message from the wrong protocol epoch, an
// unexpected type for the current phase, or one that fails its validator
// is rejected with an error and does not advance the session.
func (s *Session) Advance(msg Message) (done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return true, ErrSessionDone
	}
	if msg.Epoch.ProtocolID != s.protocol {
		return false, ErrEpochMismatch
	}

	phase, ok := s.currentPhase()
	if !ok {
		s.done = true
		return true, nil
	}

	expected := false
	for _, t := range phase.ExpectedTypes {
		if t == msg.Type {
			expected = true
			break
		}
	}
	if !expected {
		return false, fmt.Errorf("%w: phase %q does not expect %q", ErrUnexpectedMessageType, phase.Name, msg.Type)
	}

	if validator, ok := phase.Validators[msg.Type]; ok && validator != nil {
		if err := validator(msg); err != nil {
			return false, fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
	}

	s.received[msg.Type] = msg
	s.sequence++

	if s.phaseComplete(phase) {
		s.index++
		s.received = make(map[MessageType]Message)
		if s.index >= len(s.phases) {
			s.done = true
			return true, nil
		}
	}
	return false, nil
}

func (s *Session) phaseComplete(phase Phase) bool {
	for _, t := range phase.ExpectedTypes {
		if _, ok := s.received[t]; !ok {
			return false
		}
	}
	return true
}

// Done reports whether every phase has completed.
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// CurrentPhaseName returns the name of the phase the session is currently
// awaiting messages for, or "" if the session is done.
func (s *Session) CurrentPhaseName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	phase, ok := s.currentPhase()
	if !ok {
		return ""
	}
	return phase.Name
}

// Router dispatches inbound messages to the session matching their epoch's
// protocol id. Safe under parallelism: concurrently in-flight
// choreographies never share a lock (SPEC_FULL §4.9's safety requirement).
type Router struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewRouter creates an empty router.
func NewRouter() *Router { return &Router{sessions: make(map[uuid.UUID]*Session)} }

// Register tracks session under its own protocol id.
func (r *Router) Register(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.protocol] = session
}

// Dispatch routes msg to the session for its epoch's protocol id.
func (r *Router) Dispatch(msg Message) (done bool, err error) {
	r.mu.RLock()
	session, ok := r.sessions[msg.Epoch.ProtocolID]
	r.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("choreography: no session registered for protocol %s", msg.Epoch.ProtocolID)
	}
	done, err = session.Advance(msg)
	if done {
		r.mu.Lock()
		delete(r.sessions, msg.Epoch.ProtocolID)
		r.mu.Unlock()
	}
	return done, err
}
