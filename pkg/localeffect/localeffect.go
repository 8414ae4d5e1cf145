// Copyright 2025 Aura Project
//
// Package localeffect implements the small effect handlers a single
// aura-node process needs beyond storage and crypto: wall/monotonic
// clock, cryptographically secure randomness, process-global console
// logging, and per-context leakage accounting. Grounded on the teacher's
// main.go MemoryKV: a minimal, mutex-guarded, in-process implementation
// of a narrow effect interface, generalized here from byte-map storage to
// these smaller stdlib-backed families.

package localeffect

import (
	"context"
	"crypto/rand"
	"log"
	"sync"
	"time"

	"github.com/aura-network/aura/pkg/effectcore"
)

// Clock is the production Clock effect handler backed by the system
// clock and a monotonic read via time.Since against process start.
type Clock struct {
	start time.Time
	mode  effectcore.ExecutionMode
}

// NewClock constructs a production-mode Clock.
func NewClock() *Clock {
	return &Clock{start: time.Now(), mode: effectcore.ModeProduction}
}

func (c *Clock) Capabilities() []effectcore.EffectFamily {
	return []effectcore.EffectFamily{effectcore.FamilyClock}
}
func (c *Clock) Mode() effectcore.ExecutionMode { return c.mode }

func (c *Clock) Now(_ context.Context) (int64, error) {
	return time.Now().UnixNano(), nil
}

func (c *Clock) Monotonic(_ context.Context) (int64, error) {
	return int64(time.Since(c.start)), nil
}

// RandomSource is the production RandomSource effect handler backed by
// crypto/rand.
type RandomSource struct {
	mode effectcore.ExecutionMode
}

// NewRandomSource constructs a production-mode RandomSource.
func NewRandomSource() *RandomSource {
	return &RandomSource{mode: effectcore.ModeProduction}
}

func (r *RandomSource) Capabilities() []effectcore.EffectFamily {
	return []effectcore.EffectFamily{effectcore.FamilyRandom}
}
func (r *RandomSource) Mode() effectcore.ExecutionMode { return r.mode }

func (r *RandomSource) RandomBytes(_ context.Context, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, effectcore.NewError(effectcore.KindInternal, "reading crypto/rand", err)
	}
	return buf, nil
}

// Console is the production Console effect handler, a thin wrapper over
// a standard log.Logger the way the teacher wires one per component
// (e.g. "[Database] ", "[Firestore] " prefixes) in main.go.
type Console struct {
	logger *log.Logger
	mode   effectcore.ExecutionMode
}

// NewConsole wraps logger, or builds a default stdout logger with the
// given prefix if logger is nil.
func NewConsole(logger *log.Logger, prefix string) *Console {
	if logger == nil {
		logger = log.New(log.Writer(), prefix, log.LstdFlags)
	}
	return &Console{logger: logger, mode: effectcore.ModeProduction}
}

func (c *Console) Capabilities() []effectcore.EffectFamily {
	return []effectcore.EffectFamily{effectcore.FamilyConsole}
}
func (c *Console) Mode() effectcore.ExecutionMode { return c.mode }

func (c *Console) Logf(format string, args ...interface{}) {
	c.logger.Printf(format, args...)
}

// LeakageAccount is the production LeakageAccount effect handler: an
// in-memory, mutex-guarded running total per context. It records and sums
// leakage only: it compares no total against a bound and rejects no
// record. Totals live for the process's lifetime and are not persisted
// across restarts.
type LeakageAccount struct {
	mu    sync.Mutex
	bits  map[string]float64
	mode  effectcore.ExecutionMode
}

// NewLeakageAccount constructs an empty, production-mode LeakageAccount.
func NewLeakageAccount() *LeakageAccount {
	return &LeakageAccount{bits: make(map[string]float64), mode: effectcore.ModeProduction}
}

func (l *LeakageAccount) Capabilities() []effectcore.EffectFamily {
	return []effectcore.EffectFamily{effectcore.FamilyLeakage}
}
func (l *LeakageAccount) Mode() effectcore.ExecutionMode { return l.mode }

func (l *LeakageAccount) RecordLeakage(_ context.Context, contextBytes []byte, bits float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bits[string(contextBytes)] += bits
	return nil
}

func (l *LeakageAccount) TotalLeakage(_ context.Context, contextBytes []byte) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bits[string(contextBytes)], nil
}

// LoopbackNetwork is a minimal, process-local Network effect handler: it
// queues every envelope addressed to this node (Unicast/Broadcast) onto
// its own Receive channel, and drops envelopes addressed elsewhere. No
// library in the dependency pack offers a transport this core can reach
// for (no libp2p/quic/websocket dependency appears anywhere in the
// examples), so this handler stays on stdlib channels; real peer
// transport belongs behind this same interface in a later handler.
type LoopbackNetwork struct {
	self   []byte
	inbox  chan effectcore.Envelope
	mode   effectcore.ExecutionMode
}

// NewLoopbackNetwork constructs a handler that only ever delivers to
// itself, identified by self.
func NewLoopbackNetwork(self []byte) *LoopbackNetwork {
	return &LoopbackNetwork{self: self, inbox: make(chan effectcore.Envelope, 256), mode: effectcore.ModeProduction}
}

func (n *LoopbackNetwork) Capabilities() []effectcore.EffectFamily {
	return []effectcore.EffectFamily{effectcore.FamilyNetwork}
}
func (n *LoopbackNetwork) Mode() effectcore.ExecutionMode { return n.mode }

func (n *LoopbackNetwork) Unicast(ctx context.Context, peer []byte, env effectcore.Envelope) error {
	if string(peer) != string(n.self) {
		return nil
	}
	return n.deliver(ctx, env)
}

func (n *LoopbackNetwork) Broadcast(ctx context.Context, env effectcore.Envelope) error {
	return n.deliver(ctx, env)
}

func (n *LoopbackNetwork) Receive(ctx context.Context) (effectcore.Envelope, error) {
	select {
	case env := <-n.inbox:
		return env, nil
	case <-ctx.Done():
		return effectcore.Envelope{}, ctx.Err()
	}
}

func (n *LoopbackNetwork) deliver(ctx context.Context, env effectcore.Envelope) error {
	select {
	case n.inbox <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return effectcore.NewError(effectcore.KindTransient, "loopback network inbox full", nil)
	}
}

var (
	_ effectcore.Clock          = (*Clock)(nil)
	_ effectcore.RandomSource   = (*RandomSource)(nil)
	_ effectcore.Console        = (*Console)(nil)
	_ effectcore.LeakageAccount = (*LeakageAccount)(nil)
	_ effectcore.Network        = (*LoopbackNetwork)(nil)
)
