// Copyright 2025 Aura Project

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistry_ObserveGuardDecision_IncrementsCounter(t *testing.T) {
	r := New()
	r.ObserveGuardDecision("capability", "allow")
	r.ObserveGuardDecision("capability", "allow")
	r.ObserveGuardDecision("flow_budget", "deny")

	got := testutil.ToFloat64(r.GuardDecisions.WithLabelValues("capability", "allow"))
	if got != 2 {
		t.Errorf("expected 2 allow decisions recorded, got %v", got)
	}
}

func TestRegistry_SetActiveCeremonies(t *testing.T) {
	r := New()
	r.SetActiveCeremonies(3)
	if got := testutil.ToFloat64(r.CeremonyActive); got != 3 {
		t.Errorf("expected active ceremonies gauge 3, got %v", got)
	}
}

func TestRegistry_NilReceiverMethodsNoop(t *testing.T) {
	var r *Registry
	r.ObserveGuardDecision("capability", "allow")
	r.ObserveCouplerAttempt("success")
	r.ObserveCeremonyTransition("guardian_setup", "committed")
	r.SetActiveCeremonies(5)
	r.SetPeerReliability("peer-1", 0.9)
	r.ObserveSyncBytes("inbound", 128)
	if r.Handler() == nil {
		t.Fatalf("expected nil-safe handler, got nil")
	}
}

func TestRegistry_HandlerServesExpositionFormat(t *testing.T) {
	r := New()
	r.ObserveCouplerAttempt("success")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "aura_coupler_commit_attempts_total") {
		t.Errorf("expected coupler attempts metric in exposition output, got:\n%s", rec.Body.String())
	}
}
