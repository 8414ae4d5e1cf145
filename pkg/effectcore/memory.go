// Copyright 2025 Aura Project

package effectcore

import (
	"bytes"
	"context"
	"crypto/rand"
	"log"
	"sync"
	"time"
)

// MemoryKV is an in-memory KV handler, grounded on the teacher's main.go
// MemoryKV. It backs both the Storage and SecureStorage families under
// simulation/test modes; production wiring uses pkg/storage instead.
type MemoryKV struct {
	mode  ExecutionMode
	mu    sync.RWMutex
	store map[string][]byte
}

// NewMemoryKV creates an empty in-memory KV handler pinned to mode.
func NewMemoryKV(mode ExecutionMode) *MemoryKV {
	return &MemoryKV{mode: mode, store: make(map[string][]byte)}
}

func (m *MemoryKV) Capabilities() []EffectFamily { return []EffectFamily{FamilyStorage, FamilySecureStorage} }
func (m *MemoryKV) Mode() ExecutionMode           { return m.mode }

func (m *MemoryKV) Get(_ context.Context, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.store[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryKV) Put(_ context.Context, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.store[string(key)] = cp
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, string(key))
	return nil
}

func (m *MemoryKV) ListPrefix(_ context.Context, prefix []byte) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out [][]byte
	for k := range m.store {
		if bytes.HasPrefix([]byte(k), prefix) {
			out = append(out, []byte(k))
		}
	}
	return out, nil
}

// MemorySecureKV wraps a MemoryKV with the capability-gated SecureKV
// signature; under simulation/test it accepts any non-empty proof.
type MemorySecureKV struct {
	*MemoryKV
}

func NewMemorySecureKV(mode ExecutionMode) *MemorySecureKV {
	return &MemorySecureKV{MemoryKV: NewMemoryKV(mode)}
}

func (m *MemorySecureKV) Get(ctx context.Context, caps CapabilityProof, key []byte) ([]byte, error) {
	if len(caps.Actions) == 0 {
		return nil, NewError(KindPermissionDenied, "secure storage read requires a capability proof", nil)
	}
	return m.MemoryKV.Get(ctx, key)
}

func (m *MemorySecureKV) Put(ctx context.Context, caps CapabilityProof, key, value []byte) error {
	if len(caps.Actions) == 0 {
		return NewError(KindPermissionDenied, "secure storage write requires a capability proof", nil)
	}
	return m.MemoryKV.Put(ctx, key, value)
}

func (m *MemorySecureKV) Delete(ctx context.Context, caps CapabilityProof, key []byte) error {
	if len(caps.Actions) == 0 {
		return NewError(KindPermissionDenied, "secure storage delete requires a capability proof", nil)
	}
	return m.MemoryKV.Delete(ctx, key)
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{ mode ExecutionMode }

func NewSystemClock() *SystemClock { return &SystemClock{mode: ModeProduction} }

func (c *SystemClock) Capabilities() []EffectFamily { return []EffectFamily{FamilyClock} }
func (c *SystemClock) Mode() ExecutionMode           { return c.mode }
func (c *SystemClock) Now(context.Context) (int64, error) { return time.Now().UnixNano(), nil }
func (c *SystemClock) Monotonic(context.Context) (int64, error) {
	return time.Now().UnixNano(), nil
}

// SimClock is a deterministic, manually-advanced clock for simulation/test
// handlers.
type SimClock struct {
	mu  sync.Mutex
	now int64
}

func NewSimClock(startUnixNano int64) *SimClock { return &SimClock{now: startUnixNano} }

func (c *SimClock) Capabilities() []EffectFamily { return []EffectFamily{FamilyClock} }
func (c *SimClock) Mode() ExecutionMode           { return ModeSimulation }
func (c *SimClock) Now(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now, nil
}
func (c *SimClock) Monotonic(context.Context) (int64, error) { return c.Now(nil) }
func (c *SimClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += int64(d)
}

// SystemRandom is the production RandomSource, backed by crypto/rand.
type SystemRandom struct{}

func (SystemRandom) Capabilities() []EffectFamily { return []EffectFamily{FamilyRandom} }
func (SystemRandom) Mode() ExecutionMode           { return ModeProduction }
func (SystemRandom) RandomBytes(_ context.Context, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, NewError(KindInternal, "reading random bytes", err)
	}
	return b, nil
}

// LogConsole is the stdlib log.Logger-backed Console handler, matching the
// teacher's prefixed-logger convention throughout pkg/attestation and
// pkg/batch.
type LogConsole struct {
	logger *log.Logger
	mode   ExecutionMode
}

func NewLogConsole(logger *log.Logger, mode ExecutionMode) *LogConsole {
	return &LogConsole{logger: logger, mode: mode}
}

func (c *LogConsole) Capabilities() []EffectFamily { return []EffectFamily{FamilyConsole} }
func (c *LogConsole) Mode() ExecutionMode           { return c.mode }
func (c *LogConsole) Logf(format string, args ...interface{}) {
	c.logger.Printf(format, args...)
}
