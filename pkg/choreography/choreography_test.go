// Copyright 2025 Aura Project

package choreography

import (
	"testing"
)

func twoPhaseSession() *Session {
	return NewSession([]Phase{
		{Name: "invite", ExpectedTypes: []MessageType{"accept", "decline"}},
		{Name: "complete", ExpectedTypes: []MessageType{"completion"}},
	})
}

func TestAdvance_CompletesPhaseOnAllExpectedTypes(t *testing.T) {
	s := twoPhaseSession()
	epoch := s.Epoch()
	done, err := s.Advance(Message{Epoch: epoch, Type: "accept"})
	if err != nil {
		t.Fatalf("advance accept: %v", err)
	}
	if done {
		t.Fatalf("session should not be done after only one of two expected types")
	}
	done, err = s.Advance(Message{Epoch: epoch, Type: "decline"})
	if err != nil {
		t.Fatalf("advance decline: %v", err)
	}
	if done {
		t.Fatalf("session should not be done: a second phase remains")
	}
	if s.CurrentPhaseName() != "complete" {
		t.Errorf("expected to have advanced to phase 'complete', got %q", s.CurrentPhaseName())
	}
}

func TestAdvance_RejectsUnexpectedType(t *testing.T) {
	s := twoPhaseSession()
	_, err := s.Advance(Message{Epoch: s.Epoch(), Type: "completion"})
	if err == nil {
		t.Fatalf("expected rejection of a type not expected in the current phase")
	}
}

func TestAdvance_RejectsWrongEpoch(t *testing.T) {
	s1 := twoPhaseSession()
	s2 := twoPhaseSession()
	_, err := s1.Advance(Message{Epoch: s2.Epoch(), Type: "accept"})
	if err != ErrEpochMismatch {
		t.Errorf("expected ErrEpochMismatch, got %v", err)
	}
}

func TestAdvance_ValidatorFailureBlocksAdvance(t *testing.T) {
	s := NewSession([]Phase{
		{
			Name:          "invite",
			ExpectedTypes: []MessageType{"accept"},
			Validators: map[MessageType]Validator{
				"accept": func(Message) error { return errValidatorRejected },
			},
		},
	})
	_, err := s.Advance(Message{Epoch: s.Epoch(), Type: "accept"})
	if err == nil {
		t.Fatalf("expected validator rejection to block advance")
	}
}

var errValidatorRejected = &validatorError{"rejected"}

type validatorError struct{ msg string }

func (e *validatorError) Error() string { return e.msg }

func TestRouter_DispatchCompletesAndRemovesSession(t *testing.T) {
	r := NewRouter()
	s := NewSession([]Phase{{Name: "only", ExpectedTypes: []MessageType{"x"}}})
	r.Register(s)

	done, err := r.Dispatch(Message{Epoch: s.Epoch(), Type: "x"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !done {
		t.Fatalf("expected single-phase, single-type session to complete")
	}
	if _, err := r.Dispatch(Message{Epoch: s.Epoch(), Type: "x"}); err == nil {
		t.Errorf("expected dispatch to an already-completed/removed session to fail")
	}
}
