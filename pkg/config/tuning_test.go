// Copyright 2025 Aura Project

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultTuningConfig_MatchesDocumentedCouplerBackoff(t *testing.T) {
	cfg := DefaultTuningConfig()
	if cfg.Coupler.BackoffBase.Duration() != 50*time.Millisecond {
		t.Errorf("expected base=50ms, got %v", cfg.Coupler.BackoffBase.Duration())
	}
	if cfg.Coupler.BackoffFactor != 2 {
		t.Errorf("expected factor=2, got %v", cfg.Coupler.BackoffFactor)
	}
	if cfg.Coupler.MaxAttempts != 5 {
		t.Errorf("expected maxAttempts=5, got %d", cfg.Coupler.MaxAttempts)
	}
}

func TestLoadTuningConfig_SubstitutesEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	contents := "guard:\n  default_flow_budget: ${FLOW_BUDGET:-10}\nceremony:\n  default_timeout: ${CEREMONY_TIMEOUT:-5m}\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	t.Setenv("FLOW_BUDGET", "250")

	cfg, err := LoadTuningConfigWithDefaults(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Guard.DefaultFlowBudget != 250 {
		t.Errorf("expected substituted flow budget 250, got %d", cfg.Guard.DefaultFlowBudget)
	}
	if cfg.Ceremony.DefaultTimeout.Duration() != 5*time.Minute {
		t.Errorf("expected default-substituted ceremony timeout 5m, got %v", cfg.Ceremony.DefaultTimeout.Duration())
	}
}

func TestTuningConfig_Validate_RejectsZeroMaxAttempts(t *testing.T) {
	cfg := DefaultTuningConfig()
	cfg.Coupler.MaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for max_attempts=0")
	}
}

func TestTuningConfig_Validate_RejectsOutOfRangeEMAAlpha(t *testing.T) {
	cfg := DefaultTuningConfig()
	cfg.Sync.ReliabilityEMAAlpha = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for ema alpha out of (0,1]")
	}
}

func TestTuningConfig_Validate_AcceptsDefaults(t *testing.T) {
	cfg := DefaultTuningConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate cleanly, got %v", err)
	}
}
