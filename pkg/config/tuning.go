// Copyright 2025 Aura Project
//
// TuningConfig is the YAML-loaded overlay for multi-field ceremony/guard/
// sync parameters that don't belong as flat environment variables. Grounded
// directly on the teacher's pkg/config/anchor_config.go: the custom
// yaml.Unmarshaler Duration type, ${VAR:-default} environment substitution
// before parsing, and the Load/LoadWithDefaults/applyDefaults/Validate
// structure, generalized from anchor/network/CometBFT settings to guard
// budgets, ceremony timeouts, coupler backoff, and sync rate limits.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so tuning files write "50ms" instead of a
// raw integer nanosecond count.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// TuningConfig holds the parameters the guard chain, journal coupler,
// ceremony tracker, and anti-entropy synchronizer need beyond what a flat
// env var comfortably expresses.
type TuningConfig struct {
	Environment string `yaml:"environment"`

	Guard    GuardTuning    `yaml:"guard"`
	Coupler  CouplerTuning  `yaml:"coupler"`
	Ceremony CeremonyTuning `yaml:"ceremony"`
	Sync     SyncTuning     `yaml:"sync"`
}

// GuardTuning holds guard-chain tuning values. cmd/aura-node reads
// DefaultFlowBudget to provision the initial flow budget; the gates take no
// configuration, and FlowBudgetWindow, ReplayWindow and MaxDelegationDepth
// are defaulted and validated here but not read by the guard chain.
type GuardTuning struct {
	DefaultFlowBudget   int      `yaml:"default_flow_budget"`
	FlowBudgetWindow    Duration `yaml:"flow_budget_window"`
	ReplayWindow        Duration `yaml:"replay_window"`
	MaxDelegationDepth  int      `yaml:"max_delegation_depth"`
}

// CouplerTuning configures the journal coupler's charge-before-send
// commit loop, naming the bounded exponential backoff explicitly.
type CouplerTuning struct {
	PessimisticCommit bool     `yaml:"pessimistic_commit"`
	BackoffBase       Duration `yaml:"backoff_base"`
	BackoffFactor     float64  `yaml:"backoff_factor"`
	MaxAttempts       int      `yaml:"max_attempts"`
}

// CeremonyTuning configures the threshold ceremony tracker's default
// timeout and its cleanup sweep interval.
type CeremonyTuning struct {
	DefaultTimeout  Duration `yaml:"default_timeout"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	DisputeWindow   Duration `yaml:"dispute_window"`
}

// SyncTuning configures anti-entropy peer sessions.
type SyncTuning struct {
	SummaryInterval     Duration `yaml:"summary_interval"`
	MaxPeerSessions     int      `yaml:"max_peer_sessions"`
	ReliabilityEMAAlpha float64  `yaml:"reliability_ema_alpha"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// substituteEnvVars expands ${VAR} and ${VAR:-default} references before
// the YAML parser sees the document.
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// LoadTuningConfig reads and parses a YAML tuning overlay, substituting
// ${VAR}/${VAR:-default} references first.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tuning config %s: %w", path, err)
	}
	expanded := substituteEnvVars(string(data))

	var cfg TuningConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse tuning config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadTuningConfigWithDefaults loads path and fills in any zero-valued
// field with the production-safe default.
func LoadTuningConfigWithDefaults(path string) (*TuningConfig, error) {
	cfg, err := LoadTuningConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// DefaultTuningConfig returns the zero-file default, matching the
// bounded-backoff and ceremony parameters named by the wire-level guard
// chain and journal coupler.
func DefaultTuningConfig() *TuningConfig {
	cfg := &TuningConfig{}
	cfg.applyDefaults()
	return cfg
}

func (c *TuningConfig) applyDefaults() {
	if c.Guard.DefaultFlowBudget == 0 {
		c.Guard.DefaultFlowBudget = 100
	}
	if c.Guard.FlowBudgetWindow == 0 {
		c.Guard.FlowBudgetWindow = Duration(time.Minute)
	}
	if c.Guard.ReplayWindow == 0 {
		c.Guard.ReplayWindow = Duration(5 * time.Minute)
	}
	if c.Guard.MaxDelegationDepth == 0 {
		c.Guard.MaxDelegationDepth = 4
	}

	if c.Coupler.BackoffBase == 0 {
		c.Coupler.BackoffBase = Duration(50 * time.Millisecond)
	}
	if c.Coupler.BackoffFactor == 0 {
		c.Coupler.BackoffFactor = 2
	}
	if c.Coupler.MaxAttempts == 0 {
		c.Coupler.MaxAttempts = 5
	}

	if c.Ceremony.DefaultTimeout == 0 {
		c.Ceremony.DefaultTimeout = Duration(10 * time.Minute)
	}
	if c.Ceremony.CleanupInterval == 0 {
		c.Ceremony.CleanupInterval = Duration(time.Minute)
	}
	if c.Ceremony.DisputeWindow == 0 {
		c.Ceremony.DisputeWindow = Duration(24 * time.Hour)
	}

	if c.Sync.SummaryInterval == 0 {
		c.Sync.SummaryInterval = Duration(30 * time.Second)
	}
	if c.Sync.MaxPeerSessions == 0 {
		c.Sync.MaxPeerSessions = 8
	}
	if c.Sync.ReliabilityEMAAlpha == 0 {
		c.Sync.ReliabilityEMAAlpha = 0.2
	}
}

// Validate rejects tuning values that would violate a documented
// invariant (coupler retry budget and backoff factor, delegation depth,
// reliability EMA alpha).
func (c *TuningConfig) Validate() error {
	if c.Coupler.MaxAttempts < 1 {
		return fmt.Errorf("coupler.max_attempts must be >= 1, got %d", c.Coupler.MaxAttempts)
	}
	if c.Coupler.BackoffFactor < 1 {
		return fmt.Errorf("coupler.backoff_factor must be >= 1, got %f", c.Coupler.BackoffFactor)
	}
	if c.Guard.MaxDelegationDepth < 1 {
		return fmt.Errorf("guard.max_delegation_depth must be >= 1, got %d", c.Guard.MaxDelegationDepth)
	}
	if c.Sync.ReliabilityEMAAlpha <= 0 || c.Sync.ReliabilityEMAAlpha > 1 {
		return fmt.Errorf("sync.reliability_ema_alpha must be in (0,1], got %f", c.Sync.ReliabilityEMAAlpha)
	}
	return nil
}
