// Copyright 2025 Aura Project

package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/aura-network/aura/pkg/ceremony"
	"github.com/aura-network/aura/pkg/config"
	"github.com/aura-network/aura/pkg/coupler"
	"github.com/aura-network/aura/pkg/cryptoeffect"
	"github.com/aura-network/aura/pkg/effectcore"
	"github.com/aura-network/aura/pkg/guard"
	"github.com/aura-network/aura/pkg/ids"
	"github.com/aura-network/aura/pkg/intent"
	"github.com/aura-network/aura/pkg/journal"
	"github.com/aura-network/aura/pkg/localeffect"
	"github.com/aura-network/aura/pkg/metrics"
	"github.com/aura-network/aura/pkg/storage/cometbftkv"
	"github.com/aura-network/aura/pkg/storage/firestore"
	"github.com/aura-network/aura/pkg/storage/postgres"
	"github.com/aura-network/aura/pkg/syncentropy"
)

// guardState holds the mutable flow-budget and anti-replay bookkeeping the
// pure guard chain never touches itself (pkg/guard's gates only ever emit
// CmdChargeBudget/CmdStoreMetadata effects). The /intent handler folds each
// dispatch's effects back in here via guard.ApplyEffectsToState before
// building the next request's GuardSnapshot.
type guardState struct {
	mu          sync.Mutex
	journal     *journal.Journal
	flowBudgets map[guard.FlowBudgetKey]guard.FlowBudget
	seenNonces  map[string]struct{}
	tokenSlots  map[string]guard.TokenSlot
	clock       *localeffect.Clock
}

func newGuardState(j *journal.Journal, clock *localeffect.Clock) *guardState {
	return &guardState{
		journal:     j,
		flowBudgets: make(map[guard.FlowBudgetKey]guard.FlowBudget),
		seenNonces:  make(map[string]struct{}),
		tokenSlots:  make(map[string]guard.TokenSlot),
		clock:       clock,
	}
}

func (g *guardState) provisionBudget(ctxID ids.ContextId, peer string, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.flowBudgets[guard.FlowBudgetKey{Context: ctxID, Peer: peer}] = guard.FlowBudget{Remaining: amount}
}

// snapshot builds the GuardSnapshot the interpreter dispatches against,
// combining this node's live journal view with the mutable budget/nonce
// bookkeeping built up from prior dispatches.
func (g *guardState) snapshot(ctx context.Context) guard.GuardSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	now, _ := g.clock.Now(ctx)
	return guard.GuardSnapshot{
		Journal:     g.journal.Snapshot(now),
		ClockNow:    now,
		FlowBudgets: g.flowBudgets,
		TokenSlots:  g.tokenSlots,
		SeenNonces:  g.seenNonces,
	}
}

func (g *guardState) apply(effects []guard.EffectCommand) {
	g.mu.Lock()
	defer g.mu.Unlock()
	guard.ApplyEffectsToState(g.flowBudgets, g.seenNonces, effects)
}

// intentHTTPRequest is the wire shape the /intent endpoint accepts.
type intentHTTPRequest struct {
	Type         string          `json:"type"`
	Authority    string          `json:"authority"`
	Context      string          `json:"context"`
	Peer         string          `json:"peer"`
	Cost         int64           `json:"cost"`
	Payload      json.RawMessage `json:"payload"`
	Nonce        string          `json:"nonce"`
	TokenSubject string          `json:"token_subject"`
}

func intentHandler(in *intent.Interpreter, state *guardState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body intentHTTPRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}

		req := intent.Request{
			Type:         intent.Type(body.Type),
			Authority:    ids.AuthorityId(decodeFingerprint(body.Authority)),
			ContextID:    ids.ContextId(decodeFingerprint(body.Context)),
			Peer:         body.Peer,
			Cost:         body.Cost,
			Payload:      []byte(body.Payload),
			Nonce:        body.Nonce,
			TokenSubject: body.TokenSubject,
		}

		snap := state.snapshot(r.Context())
		ev, effects := in.DispatchWithEffects(r.Context(), snap, req)
		state.apply(effects)

		w.Header().Set("Content-Type", "application/json")
		if !ev.Success {
			w.WriteHeader(http.StatusForbidden)
		}
		json.NewEncoder(w).Encode(ev)
	}
}

// decodeFingerprint turns a hex-encoded authority/context id into the
// fixed-size array ids.AuthorityId/ids.ContextId wrap, truncating or
// zero-padding as needed; malformed hex decodes to the zero fingerprint.
func decodeFingerprint(hexStr string) (out [32]byte) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return out
	}
	copy(out[:], raw)
	return out
}

// HealthStatus tracks the health of each component for the /health
// endpoint, mirroring the teacher's own startup-degradation reporting.
type HealthStatus struct {
	Status        string `json:"status"` // "ok", "degraded", "error"
	Storage       string `json:"storage"`
	Database      string `json:"database"`
	Firestore     string `json:"firestore"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	startTime time.Time
	mu        sync.RWMutex
}

func newHealthStatus() *HealthStatus {
	return &HealthStatus{
		Status:    "starting",
		Storage:   "unknown",
		Database:  "unknown",
		Firestore: "unknown",
		startTime: time.Now(),
	}
}

func (h *HealthStatus) set(field *string, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	*field = value
	h.recompute()
}

// recompute must be called with h.mu held.
func (h *HealthStatus) recompute() {
	if h.Storage == "error" {
		h.Status = "error"
		return
	}
	if h.Database == "disconnected" || h.Firestore == "disconnected" {
		h.Status = "degraded"
		return
	}
	h.Status = "ok"
}

func (h *HealthStatus) toJSON() []byte {
	h.mu.Lock()
	h.UptimeSeconds = int64(time.Since(h.startTime).Seconds())
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	data, _ := json.Marshal(h)
	return data
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("starting aura-node")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.ValidateForDevelopment(); err != nil {
		log.Fatalf("configuration invalid: %v", err)
	}

	tuning := config.DefaultTuningConfig()
	if path := os.Getenv("AURA_TUNING_CONFIG_PATH"); path != "" {
		loaded, err := config.LoadTuningConfigWithDefaults(path)
		if err != nil {
			log.Fatalf("failed to load tuning config %s: %v", path, err)
		}
		tuning = loaded
	}
	if err := tuning.Validate(); err != nil {
		log.Fatalf("tuning config invalid: %v", err)
	}

	health := newHealthStatus()
	metricsRegistry := metrics.New()

	deviceKey, err := loadOrGenerateDeviceKey(cfg)
	if err != nil {
		log.Fatalf("failed to load/generate device key: %v", err)
	}
	nodeAddr := []byte(hex.EncodeToString(deviceKey.Public().(ed25519.PublicKey)))

	db, err := openStorage(cfg)
	if err != nil {
		health.set(&health.Storage, "error")
		log.Fatalf("failed to open storage backend %s: %v", cfg.StorageBackend, err)
	}
	health.set(&health.Storage, "connected")
	plainStore := cometbftkv.New(db)
	secureStore := cometbftkv.NewSecure(plainStore, []byte("secure/"))

	dispatcher := effectcore.NewDispatcher()
	mustRegister(dispatcher.RegisterStorage(plainStore))
	mustRegister(dispatcher.RegisterSecureStorage(secureStore))
	mustRegister(dispatcher.RegisterCrypto(cryptoeffect.NewEd25519Handler()))
	mustRegister(dispatcher.RegisterThresholdCrypto(cryptoeffect.NewThresholdHandler()))
	nodeClock := localeffect.NewClock()
	mustRegister(dispatcher.RegisterClock(nodeClock))
	mustRegister(dispatcher.RegisterRandom(localeffect.NewRandomSource()))
	mustRegister(dispatcher.RegisterConsole(localeffect.NewConsole(nil, "[aura-node] ")))
	mustRegister(dispatcher.RegisterLeakage(localeffect.NewLeakageAccount()))
	mustRegister(dispatcher.RegisterNetwork(localeffect.NewLoopbackNetwork(nodeAddr)))

	journalTarget := journal.New(ids.AccountId{}, nil)
	cp := coupler.New(journalTarget, coupler.Config{
		BaseDelay:   tuning.Coupler.BackoffBase.Duration(),
		Factor:      tuning.Coupler.BackoffFactor,
		MaxAttempts: tuning.Coupler.MaxAttempts,
		Logger:      log.New(log.Writer(), "[coupler] ", log.LstdFlags),
	})

	ceremonyTracker := ceremony.New(ceremony.Config{
		Logger: log.New(log.Writer(), "[ceremony] ", log.LstdFlags),
	})
	recoveryState := intent.NewRecoveryState()

	events := intent.NewBroadcaster()
	interpreter := intent.NewInterpreter(dispatcher, cp, events, metricsRegistry, ceremonyTracker, recoveryState)
	guardSt := newGuardState(journalTarget, nodeClock)
	guardSt.provisionBudget(ids.ContextId{}, "", int64(tuning.Guard.DefaultFlowBudget))

	ceremonyCtx, ceremonyCancel := context.WithCancel(context.Background())
	go ceremonyTracker.RunCleanupLoop(ceremonyCtx, tuning.Ceremony.CleanupInterval.Duration(), func() int64 {
		now, _ := nodeClock.Now(ceremonyCtx)
		return now
	})

	syncer := syncentropy.New(syncentropy.NewOpLog(), syncentropy.Config{
		MaxOperationsPerRound: 256,
		MaxConcurrentSyncs:    tuning.Sync.MaxPeerSessions,
		MinSyncInterval:       tuning.Sync.SummaryInterval.Duration(),
		BaseBackoff:           tuning.Coupler.BackoffBase.Duration(),
		MaxBackoff:            30 * time.Second,
		Logger:                log.New(log.Writer(), "[syncentropy] ", log.LstdFlags),
	})
	log.Printf("anti-entropy synchronizer ready, max concurrent sessions=%d", tuning.Sync.MaxPeerSessions)

	var dbClient *postgres.Client
	if cfg.DatabaseURL != "" {
		dbClient, err = postgres.NewClient(postgres.ClientConfig{
			DatabaseURL:  cfg.DatabaseURL,
			MaxOpenConns: cfg.DatabaseMaxConns,
			MaxIdleConns: cfg.DatabaseMinConns,
			MaxIdleTime:  time.Duration(cfg.DatabaseMaxIdleTime) * time.Second,
			MaxLifetime:  time.Duration(cfg.DatabaseMaxLifetime) * time.Second,
			Logger:       log.New(log.Writer(), "[postgres] ", log.LstdFlags),
		})
		if err != nil {
			if cfg.DatabaseRequired {
				log.Fatalf("database connection required but failed: %v", err)
			}
			log.Printf("database connection failed, running without postgres mirror: %v", err)
			health.set(&health.Database, "disconnected")
			dbClient = nil
		} else {
			if err := dbClient.MigrateUp(context.Background()); err != nil {
				log.Printf("database migration failed: %v", err)
			}
			health.set(&health.Database, "connected")
		}
	} else {
		health.set(&health.Database, "disconnected")
	}

	var firestoreStore *firestore.Store
	if cfg.FirestoreEnabled {
		firestoreStore, err = firestore.New(context.Background(), firestore.Config{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsFile: cfg.FirebaseCredentialsFile,
			Enabled:         true,
			Logger:          log.New(log.Writer(), "[firestore] ", log.LstdFlags),
		})
		if err != nil {
			log.Printf("firestore initialization failed, running without realtime mirror: %v", err)
			health.set(&health.Firestore, "disconnected")
		} else {
			health.set(&health.Firestore, "connected")
		}
	} else {
		health.set(&health.Firestore, "disconnected")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if health.Status != "error" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write(health.toJSON())
	})
	mux.Handle("/metrics", metricsRegistry.Handler())
	mux.HandleFunc("/intent", intentHandler(interpreter, guardSt))
	mux.HandleFunc("/ceremonies", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ceremonyTracker.Stats())
	})
	mux.HandleFunc("/peers", func(w http.ResponseWriter, r *http.Request) {
		scores := make(map[string]float64, len(cfg.DiscoveryPeers))
		for _, p := range cfg.DiscoveryPeers {
			scores[p] = syncer.ReliabilityFor(syncentropy.PeerID(p))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(scores)
	})

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		log.Printf("aura-node listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down aura-node")
	cancel()
	ceremonyCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}
	if dbClient != nil {
		dbClient.Close()
	}
	if firestoreStore != nil {
		firestoreStore.Close()
	}
	if err := plainStore.Close(); err != nil {
		log.Printf("storage close error: %v", err)
	}
	log.Printf("aura-node stopped")
}

func mustRegister(err error) {
	if err != nil {
		log.Fatalf("failed to register effect handler: %v", err)
	}
}

func openStorage(cfg *config.Config) (dbm.DB, error) {
	switch cfg.StorageBackend {
	case "memdb", "":
		return dbm.NewMemDB(), nil
	case "goleveldb":
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
		}
		return dbm.NewGoLevelDB("aura", cfg.DataDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// loadOrGenerateDeviceKey securely loads or generates this node's ed25519
// device signing key, grounded on the teacher's own
// loadOrGenerateEd25519Key: never derive key material from the node id,
// generate from crypto/rand and persist with owner-only permissions.
func loadOrGenerateDeviceKey(cfg *config.Config) (ed25519.PrivateKey, error) {
	keyPath := cfg.DeviceKeyPath
	if keyPath == "" {
		keyPath = filepath.Join(cfg.DataDir, "device_key.hex")
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate device key: %w", err)
		}
		if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(priv)), 0600); err != nil {
			return nil, fmt.Errorf("save device key to %s: %w", keyPath, err)
		}
		log.Printf("generated new device key at %s", keyPath)
		return priv, nil
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read device key from %s: %w", keyPath, err)
	}
	keyBytes, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode device key from %s: %w", keyPath, err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid device key size in %s: expected %d, got %d", keyPath, ed25519.PrivateKeySize, len(keyBytes))
	}
	return ed25519.PrivateKey(keyBytes), nil
}
