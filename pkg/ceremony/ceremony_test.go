// Copyright 2025 Aura Project

package ceremony

import (
	"testing"
	"time"

	"github.com/aura-network/aura/pkg/ids"
)

func participants(n int) []ids.AuthorityId {
	out := make([]ids.AuthorityId, n)
	for i := range out {
		out[i][0] = byte(i + 1)
	}
	return out
}

func TestRegister_RejectsInconsistentThreshold(t *testing.T) {
	tr := New(DefaultConfig())
	err := tr.Register(ids.CeremonyId{1}, "guardian_setup", ids.AuthorityId{9}, 5, 3, participants(3), 1, nil, time.Minute, 0)
	if err == nil {
		t.Fatalf("expected error for k > n")
	}
}

func TestRegister_RejectsDuplicateID(t *testing.T) {
	tr := New(DefaultConfig())
	id := ids.CeremonyId{1}
	if err := tr.Register(id, "guardian_setup", ids.AuthorityId{9}, 2, 3, participants(3), 1, nil, time.Minute, 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := tr.Register(id, "guardian_setup", ids.AuthorityId{9}, 2, 3, participants(3), 1, nil, time.Minute, 0); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMarkAccepted_ReachesThreshold(t *testing.T) {
	tr := New(DefaultConfig())
	id := ids.CeremonyId{1}
	p := participants(3)
	if err := tr.Register(id, "guardian_setup", ids.AuthorityId{9}, 2, 3, p, 1, nil, time.Minute, 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	met, err := tr.MarkAccepted(id, p[0])
	if err != nil {
		t.Fatalf("mark accepted: %v", err)
	}
	if met {
		t.Errorf("threshold should not be met after 1 of 2 acceptances")
	}
	met, err = tr.MarkAccepted(id, p[1])
	if err != nil {
		t.Fatalf("mark accepted: %v", err)
	}
	if !met {
		t.Errorf("threshold should be met after 2 of 2 required acceptances")
	}
	rec, _ := tr.GetCeremony(id)
	if rec.Agreement != AgreementCoordinatorSoftSafe {
		t.Errorf("expected agreement mode to move to CoordinatorSoftSafe, got %s", rec.Agreement)
	}
}

func TestMarkAccepted_Idempotent(t *testing.T) {
	tr := New(DefaultConfig())
	id := ids.CeremonyId{1}
	p := participants(3)
	_ = tr.Register(id, "guardian_setup", ids.AuthorityId{9}, 2, 3, p, 1, nil, time.Minute, 0)
	tr.MarkAccepted(id, p[0])
	tr.MarkAccepted(id, p[0])
	rec, _ := tr.GetCeremony(id)
	if len(rec.Accepted) != 1 {
		t.Errorf("expected idempotent acceptance, got %d accepted entries", len(rec.Accepted))
	}
}

func TestMarkCommitted_ForbiddenAfterSuperseded(t *testing.T) {
	tr := New(DefaultConfig())
	id := ids.CeremonyId{1}
	p := participants(3)
	_ = tr.Register(id, "guardian_setup", ids.AuthorityId{9}, 2, 3, p, 1, nil, time.Minute, 0)
	if err := tr.MarkSuperseded(id, ids.CeremonyId{2}, ReasonNewerPrestate, 10); err != nil {
		t.Fatalf("mark superseded: %v", err)
	}
	if err := tr.MarkCommitted(id, 20, "consensus-1"); err != ErrSuperseded {
		t.Errorf("expected ErrSuperseded, got %v", err)
	}
}

func TestMarkCommitted_ThenFailedIsRejected(t *testing.T) {
	tr := New(DefaultConfig())
	id := ids.CeremonyId{1}
	p := participants(3)
	_ = tr.Register(id, "guardian_setup", ids.AuthorityId{9}, 2, 3, p, 1, nil, time.Minute, 0)
	tr.MarkAccepted(id, p[0])
	tr.MarkAccepted(id, p[1])
	if err := tr.MarkCommitted(id, 20, "consensus-1"); err != nil {
		t.Fatalf("mark committed: %v", err)
	}
	if err := tr.MarkFailed(id, "late_failure"); err == nil {
		t.Errorf("expected mark failed on a committed ceremony to be rejected")
	}
}

func TestCheckSupersessionCandidates_DetectsDifferentPrestate(t *testing.T) {
	tr := New(DefaultConfig())
	h1 := ids.Hash32{1}
	h2 := ids.Hash32{2}
	_ = tr.Register(ids.CeremonyId{1}, "key_rotation", ids.AuthorityId{9}, 1, 1, participants(1), 1, &h1, time.Minute, 0)
	candidates := tr.CheckSupersessionCandidates("key_rotation", &h2)
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate with differing prestate, got %d", len(candidates))
	}
}

func TestCleanupTimedOut_MarksExpiredCeremonies(t *testing.T) {
	tr := New(DefaultConfig())
	id := ids.CeremonyId{1}
	_ = tr.Register(id, "device_enrollment", ids.AuthorityId{9}, 1, 1, participants(1), 1, nil, time.Second, 0)
	n := tr.CleanupTimedOut(int64(2 * time.Second))
	if n != 1 {
		t.Fatalf("expected 1 ceremony to time out, got %d", n)
	}
	rec, _ := tr.GetCeremony(id)
	if rec.State != StateTimedOut || rec.FailureReason != "timed_out" {
		t.Errorf("expected timed_out state with reason timed_out, got state=%s reason=%s", rec.State, rec.FailureReason)
	}
}

func TestListActive_ExcludesTerminalStates(t *testing.T) {
	tr := New(DefaultConfig())
	active := ids.CeremonyId{1}
	done := ids.CeremonyId{2}
	_ = tr.Register(active, "device_enrollment", ids.AuthorityId{9}, 1, 1, participants(1), 1, nil, time.Minute, 0)
	_ = tr.Register(done, "device_enrollment", ids.AuthorityId{9}, 1, 1, participants(1), 1, nil, time.Minute, 0)
	_ = tr.MarkFailed(done, "rejected")

	got := tr.ListActive("device_enrollment")
	if len(got) != 1 || got[0].ID != active {
		t.Fatalf("expected only the active ceremony to be listed, got %d entries", len(got))
	}
}
