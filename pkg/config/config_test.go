// Copyright 2025 Aura Project

package config

import (
	"testing"
)

func withEnv(t *testing.T, kv map[string]string, fn func()) {
	t.Helper()
	saved := osGetenv
	env := map[string]string{}
	for k, v := range kv {
		env[k] = v
	}
	osGetenv = func(key string) string { return env[key] }
	defer func() { osGetenv = saved }()
	fn()
}

func TestLoad_AppliesDefaultsWhenUnset(t *testing.T) {
	var cfg *Config
	withEnv(t, nil, func() {
		var err error
		cfg, err = Load()
		if err != nil {
			t.Fatalf("load: %v", err)
		}
	})
	if cfg.ListenAddr != "0.0.0.0:7420" {
		t.Errorf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.StorageBackend != "goleveldb" {
		t.Errorf("expected default storage backend goleveldb, got %q", cfg.StorageBackend)
	}
	if cfg.DatabaseMaxConns != 25 {
		t.Errorf("expected default max conns 25, got %d", cfg.DatabaseMaxConns)
	}
}

func TestLoad_ReadsOverrides(t *testing.T) {
	var cfg *Config
	withEnv(t, map[string]string{
		"AURA_NODE_ID":     "node-7",
		"AURA_LISTEN_ADDR": "127.0.0.1:9000",
		"AURA_SYNC_RATE_LIMIT_PER_MIN": "50",
		"AURA_DISCOVERY_PEERS":         "peer-a, peer-b,  peer-c",
	}, func() {
		var err error
		cfg, err = Load()
		if err != nil {
			t.Fatalf("load: %v", err)
		}
	})
	if cfg.NodeID != "node-7" {
		t.Errorf("expected node id override, got %q", cfg.NodeID)
	}
	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("expected listen addr override, got %q", cfg.ListenAddr)
	}
	if cfg.RateLimitPerMin != 50 {
		t.Errorf("expected rate limit override 50, got %d", cfg.RateLimitPerMin)
	}
	if len(cfg.DiscoveryPeers) != 3 || cfg.DiscoveryPeers[1] != "peer-b" {
		t.Errorf("expected trimmed comma-split peers, got %v", cfg.DiscoveryPeers)
	}
}

func TestValidate_RequiresNodeIDAndSecret(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error on empty config")
	}
}

func TestValidate_RejectsShortDeviceTokenSecret(t *testing.T) {
	cfg := &Config{NodeID: "n1", DeviceTokenSecret: "too-short"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for short secret")
	}
}

func TestValidate_PassesWithRequiredFields(t *testing.T) {
	cfg := &Config{NodeID: "n1", DeviceTokenSecret: "0123456789abcdef0123456789abcdef"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_RequiresFirebaseProjectIDWhenFirestoreEnabled(t *testing.T) {
	cfg := &Config{NodeID: "n1", DeviceTokenSecret: "0123456789abcdef0123456789abcdef", FirestoreEnabled: true}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error when firestore enabled without project id")
	}
}

func TestValidateForDevelopment_OnlyRequiresNodeID(t *testing.T) {
	cfg := &Config{NodeID: "dev-node"}
	if err := cfg.ValidateForDevelopment(); err != nil {
		t.Fatalf("expected development validation to pass, got %v", err)
	}
}
