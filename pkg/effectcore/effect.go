// Copyright 2025 Aura Project
//
// Package effectcore defines the single typed interface every side effect
// in the core flows through: crypto, threshold crypto, time, randomness,
// storage, secure storage, network, leakage accounting, and console
// logging. Concrete handlers (production, simulation, test/mock) implement
// the family interfaces below; the Dispatcher holds one handler per family
// behind typed accessors so the guard chain's interpreter never imports a concrete
// backend directly.

package effectcore

import (
	"context"
	"fmt"
	"sync"
)

// ErrorKind is the canonical error taxonomy every handler call resolves to.
type ErrorKind int

const (
	KindInvalid ErrorKind = iota
	KindPermissionDenied
	KindNotFound
	KindConflict
	KindTimeout
	KindTransient
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTimeout:
		return "timeout"
	case KindTransient:
		return "transient"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error wraps a sentinel error (or a plain message) with its ErrorKind so
// callers can both switch on the kind and errors.Is against a sentinel.
type Error struct {
	Kind   ErrorKind
	Msg    string
	Source error
}

func (e *Error) Error() string {
	if e.Source != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Source)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Source }

// NewError builds an *Error, following the teacher's fmt.Errorf("%w")
// wrapping convention one level up.
func NewError(kind ErrorKind, msg string, source error) *Error {
	return &Error{Kind: kind, Msg: msg, Source: source}
}

// ExecutionMode tags which environment a handler is wired for. The
// Dispatcher refuses to mix modes within one registration so a test run
// can never silently talk to a production backend.
type ExecutionMode int

const (
	ModeProduction ExecutionMode = iota
	ModeSimulation
	ModeTest
)

func (m ExecutionMode) String() string {
	switch m {
	case ModeProduction:
		return "production"
	case ModeSimulation:
		return "simulation"
	case ModeTest:
		return "test"
	default:
		return "unknown"
	}
}

// EffectFamily names one of the capability families a handler may support.
type EffectFamily string

const (
	FamilyCrypto         EffectFamily = "crypto"
	FamilyClock          EffectFamily = "clock"
	FamilyRandom         EffectFamily = "random"
	FamilyStorage        EffectFamily = "storage"
	FamilySecureStorage  EffectFamily = "secure_storage"
	FamilyNetwork        EffectFamily = "network"
	FamilyJournal        EffectFamily = "journal"
	FamilyLeakage        EffectFamily = "leakage"
	FamilyConsole        EffectFamily = "console"
	FamilyThreshold      EffectFamily = "threshold_crypto"
)

// Handler is implemented by every concrete effect handler. Capabilities
// declares which families it actually serves; Mode declares the environment
// it is safe to run in.
type Handler interface {
	Capabilities() []EffectFamily
	Mode() ExecutionMode
}

// Clock provides physical and monotonic time, kept as an effect so
// deterministic simulation/test handlers can control it.
type Clock interface {
	Handler
	Now(ctx context.Context) (int64, error)      // Unix nanoseconds, wall clock
	Monotonic(ctx context.Context) (int64, error) // nanoseconds since an arbitrary epoch
}

// RandomSource provides cryptographically secure random bytes, or a
// deterministic PRNG stream under simulation.
type RandomSource interface {
	Handler
	RandomBytes(ctx context.Context, n int) ([]byte, error)
}

// KV is the byte-oriented get/put/delete/list-prefix storage contract
// shared by the plain Storage effect and the capability-gated SecureStorage
// effect (§6 Persistence layout: journal store, storage KV, secure KV).
type KV interface {
	Handler
	Get(ctx context.Context, key []byte) ([]byte, error)
	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	ListPrefix(ctx context.Context, prefix []byte) ([][]byte, error)
}

// SecureKV is a KV store gated on an explicit capability set, used for
// secret material (guardian shares, long-lived signing keys).
type SecureKV interface {
	Handler
	Get(ctx context.Context, caps CapabilityProof, key []byte) ([]byte, error)
	Put(ctx context.Context, caps CapabilityProof, key, value []byte) error
	Delete(ctx context.Context, caps CapabilityProof, key []byte) error
}

// CapabilityProof is an opaque, already-evaluated authorization proof
// passed down to a SecureKV handler; it carries no behavior here to avoid
// a dependency cycle with pkg/capability — the guard chain constructs it
// and the handler treats it as an opaque gate token.
type CapabilityProof struct {
	Subject string
	Actions []string
}

// Envelope is the signed, at-most-once-delivered wire unit (§6 Wire
// boundary).
type Envelope struct {
	From       []byte
	To         []byte
	Body       []byte
	Signature  []byte
	Timestamp  int64
	EnvelopeID string
}

// Network sends and receives signed envelopes. Delivery is best-effort;
// the core only relies on authentication, at-most-once dedup by
// EnvelopeID, and no inter-sender ordering guarantee.
type Network interface {
	Handler
	Unicast(ctx context.Context, peer []byte, env Envelope) error
	Broadcast(ctx context.Context, env Envelope) error
	Receive(ctx context.Context) (Envelope, error)
}

// LeakageAccount records bits of external leakage attributed to a context,
// enforcing the unlinkability bound of spec §8 invariant 6.
type LeakageAccount interface {
	Handler
	RecordLeakage(ctx context.Context, contextBytes []byte, bits float64) error
	TotalLeakage(ctx context.Context, contextBytes []byte) (float64, error)
}

// Console is the process-global logging sink — the one effect family spec
// §9 explicitly allows to be process-global rather than per-account.
type Console interface {
	Handler
	Logf(format string, args ...interface{})
}

// Crypto is the signing/verification effect family: device signatures,
// threshold share operations, and content hashing all flow through it so
// the interpreter never imports a concrete crypto backend directly.
type Crypto interface {
	Handler
	Sign(ctx context.Context, key []byte, message []byte) ([]byte, error)
	Verify(ctx context.Context, pubKey, message, signature []byte) (bool, error)
	Hash(ctx context.Context, data []byte) ([]byte, error)
}

// ThresholdCrypto is the guardian-share-sealing and threshold-signature
// effect family: HKDF share-key derivation, AEAD share sealing/opening, and
// partial-signature combination/verification flow through this interface
// exactly as device signing flows through Crypto, so production,
// simulation, and test handlers can be swapped without pkg/recovery
// importing a concrete crypto backend. Kept distinct from Crypto since a
// handler can serve one family without the other (e.g. an HSM-backed
// Crypto with a software ThresholdCrypto). Bytes-only like Crypto, for the
// same reason: nothing in this package may import the concrete curve types
// pkg/cryptoeffect works with.
type ThresholdCrypto interface {
	Handler
	DeriveShareKey(ctx context.Context, deviceSecret, accountContext []byte) ([]byte, error)
	SealShare(ctx context.Context, key, plaintext, additionalData []byte) ([]byte, error)
	OpenShare(ctx context.Context, key, sealed, additionalData []byte) ([]byte, error)
	CombinePartialSignatures(ctx context.Context, partials [][]byte, indices []int, threshold int) ([]byte, error)
	VerifyThresholdSignature(ctx context.Context, groupPubKey, signature, message []byte) (bool, error)
}

// Dispatcher is the adapter layer: it type-erases concrete handlers behind
// one registration point, enforcing that every handler registered in a
// given Dispatcher shares the same ExecutionMode.
type Dispatcher struct {
	mu   sync.RWMutex
	mode ExecutionMode
	set  bool

	clock   Clock
	random  RandomSource
	storage KV
	secure  SecureKV
	network Network
	leakage LeakageAccount
	console Console
	crypto  Crypto
	threshold ThresholdCrypto
}

// NewDispatcher creates an empty Dispatcher. The mode is pinned by the
// first handler registered.
func NewDispatcher() *Dispatcher { return &Dispatcher{} }

func (d *Dispatcher) checkMode(h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.set {
		d.mode = h.Mode()
		d.set = true
		return nil
	}
	if h.Mode() != d.mode {
		return NewError(KindInvalid,
			fmt.Sprintf("dispatcher is pinned to mode %s, cannot register handler in mode %s", d.mode, h.Mode()),
			nil)
	}
	return nil
}

// RegisterClock installs the Clock handler.
func (d *Dispatcher) RegisterClock(h Clock) error {
	if err := d.checkMode(h); err != nil {
		return err
	}
	d.mu.Lock()
	d.clock = h
	d.mu.Unlock()
	return nil
}

// RegisterRandom installs the RandomSource handler.
func (d *Dispatcher) RegisterRandom(h RandomSource) error {
	if err := d.checkMode(h); err != nil {
		return err
	}
	d.mu.Lock()
	d.random = h
	d.mu.Unlock()
	return nil
}

// RegisterStorage installs the plain KV storage handler.
func (d *Dispatcher) RegisterStorage(h KV) error {
	if err := d.checkMode(h); err != nil {
		return err
	}
	d.mu.Lock()
	d.storage = h
	d.mu.Unlock()
	return nil
}

// RegisterSecureStorage installs the capability-gated secure KV handler.
func (d *Dispatcher) RegisterSecureStorage(h SecureKV) error {
	if err := d.checkMode(h); err != nil {
		return err
	}
	d.mu.Lock()
	d.secure = h
	d.mu.Unlock()
	return nil
}

// RegisterNetwork installs the Network handler.
func (d *Dispatcher) RegisterNetwork(h Network) error {
	if err := d.checkMode(h); err != nil {
		return err
	}
	d.mu.Lock()
	d.network = h
	d.mu.Unlock()
	return nil
}

// RegisterLeakage installs the LeakageAccount handler.
func (d *Dispatcher) RegisterLeakage(h LeakageAccount) error {
	if err := d.checkMode(h); err != nil {
		return err
	}
	d.mu.Lock()
	d.leakage = h
	d.mu.Unlock()
	return nil
}

// RegisterConsole installs the Console handler.
func (d *Dispatcher) RegisterConsole(h Console) error {
	if err := d.checkMode(h); err != nil {
		return err
	}
	d.mu.Lock()
	d.console = h
	d.mu.Unlock()
	return nil
}

// RegisterCrypto installs the Crypto handler.
func (d *Dispatcher) RegisterCrypto(h Crypto) error {
	if err := d.checkMode(h); err != nil {
		return err
	}
	d.mu.Lock()
	d.crypto = h
	d.mu.Unlock()
	return nil
}

// RegisterThresholdCrypto installs the ThresholdCrypto handler.
func (d *Dispatcher) RegisterThresholdCrypto(h ThresholdCrypto) error {
	if err := d.checkMode(h); err != nil {
		return err
	}
	d.mu.Lock()
	d.threshold = h
	d.mu.Unlock()
	return nil
}

// Mode reports the ExecutionMode this dispatcher is pinned to.
func (d *Dispatcher) Mode() ExecutionMode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mode
}

func (d *Dispatcher) Clock() (Clock, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.clock == nil {
		return nil, NewError(KindInternal, "no clock handler registered", nil)
	}
	return d.clock, nil
}

func (d *Dispatcher) Random() (RandomSource, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.random == nil {
		return nil, NewError(KindInternal, "no random handler registered", nil)
	}
	return d.random, nil
}

func (d *Dispatcher) Storage() (KV, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.storage == nil {
		return nil, NewError(KindInternal, "no storage handler registered", nil)
	}
	return d.storage, nil
}

func (d *Dispatcher) SecureStorage() (SecureKV, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.secure == nil {
		return nil, NewError(KindInternal, "no secure storage handler registered", nil)
	}
	return d.secure, nil
}

func (d *Dispatcher) Network() (Network, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.network == nil {
		return nil, NewError(KindInternal, "no network handler registered", nil)
	}
	return d.network, nil
}

func (d *Dispatcher) Leakage() (LeakageAccount, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.leakage == nil {
		return nil, NewError(KindInternal, "no leakage handler registered", nil)
	}
	return d.leakage, nil
}

func (d *Dispatcher) CryptoHandler() (Crypto, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.crypto == nil {
		return nil, NewError(KindInternal, "no crypto handler registered", nil)
	}
	return d.crypto, nil
}

func (d *Dispatcher) ThresholdCryptoHandler() (ThresholdCrypto, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.threshold == nil {
		return nil, NewError(KindInternal, "no threshold crypto handler registered", nil)
	}
	return d.threshold, nil
}

func (d *Dispatcher) ConsoleLogger() (Console, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.console == nil {
		return nil, NewError(KindInternal, "no console handler registered", nil)
	}
	return d.console, nil
}
