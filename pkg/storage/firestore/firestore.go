// Copyright 2025 Aura Project
//
// Package firestore adapts Firebase/Firestore to the effectcore.SecureKV
// effect family, backing guardian share storage and a real-time audit
// trail mirror. Grounded directly on the teacher's pkg/firestore/client.go
// (enabled/no-op toggle, doc-path-per-record layout, MergeAll updates).

package firestore

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/aura-network/aura/pkg/effectcore"
)

// Config mirrors the teacher's ClientConfig: project, credentials, and an
// explicit enabled flag so local development never requires live GCP
// credentials.
type Config struct {
	ProjectID       string
	CredentialsFile string
	Enabled         bool
	Logger          *log.Logger
}

// DefaultConfig reads from environment variables exactly as the teacher's
// firestore.DefaultConfig does.
func DefaultConfig() Config {
	return Config{
		ProjectID:       os.Getenv("AURA_FIREBASE_PROJECT_ID"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Enabled:         os.Getenv("AURA_FIRESTORE_ENABLED") == "true",
		Logger:          log.New(os.Stdout, "[firestore] ", log.LstdFlags),
	}
}

// Store is the effectcore.SecureKV handler over Firestore, one document
// per key under the "secureKV" collection, scoped by the capability
// subject so two accounts' guardian shares never share a document path.
type Store struct {
	mu        sync.RWMutex
	app       *firebase.App
	firestore *gcpfirestore.Client
	enabled   bool
	logger    *log.Logger
	mode      effectcore.ExecutionMode
}

// New connects to Firestore per cfg, or returns a no-op store when
// cfg.Enabled is false.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[firestore] ", log.LstdFlags)
	}
	s := &Store{enabled: cfg.Enabled, logger: cfg.Logger, mode: effectcore.ModeProduction}
	if !cfg.Enabled {
		cfg.Logger.Println("firestore secure storage disabled - running in no-op mode")
		return s, nil
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore: AURA_FIREBASE_PROJECT_ID is required when enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: initializing firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore: creating client: %w", err)
	}
	s.app = app
	s.firestore = client
	return s, nil
}

func (s *Store) Capabilities() []effectcore.EffectFamily {
	return []effectcore.EffectFamily{effectcore.FamilySecureStorage}
}
func (s *Store) Mode() effectcore.ExecutionMode { return s.mode }

func (s *Store) docPath(proof effectcore.CapabilityProof, key []byte) string {
	return fmt.Sprintf("secureKV/%s/entries/%x", proof.Subject, key)
}

var _ effectcore.SecureKV = (*Store)(nil)

type secureRecord struct {
	Value     []byte `firestore:"value"`
	UpdatedAt int64  `firestore:"updatedAt"`
}

// Get returns the value stored for key under proof.Subject, or nil if
// absent or the store is disabled.
func (s *Store) Get(ctx context.Context, proof effectcore.CapabilityProof, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.enabled || s.firestore == nil {
		return nil, nil
	}
	doc, err := s.firestore.Doc(s.docPath(proof, key)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, effectcore.NewError(effectcore.KindInternal, "firestore get", err)
	}
	var rec secureRecord
	if err := doc.DataTo(&rec); err != nil {
		return nil, effectcore.NewError(effectcore.KindInternal, "firestore decode", err)
	}
	return rec.Value, nil
}

// Put stores value for key under proof.Subject, exactly as the teacher's
// UpdateTransactionIntent sets document fields with MergeAll.
func (s *Store) Put(ctx context.Context, proof effectcore.CapabilityProof, key, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.enabled {
		s.logger.Printf("firestore disabled - skipping put for subject=%s", proof.Subject)
		return nil
	}
	if s.firestore == nil {
		return effectcore.NewError(effectcore.KindInternal, "firestore client not initialized", nil)
	}
	_, err := s.firestore.Doc(s.docPath(proof, key)).Set(ctx, map[string]interface{}{
		"value":     value,
		"updatedAt": time.Now().UTC().UnixNano(),
	}, gcpfirestore.MergeAll)
	if err != nil {
		return effectcore.NewError(effectcore.KindInternal, "firestore put", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, proof effectcore.CapabilityProof, key []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.enabled || s.firestore == nil {
		return nil
	}
	_, err := s.firestore.Doc(s.docPath(proof, key)).Delete(ctx)
	if err != nil {
		return effectcore.NewError(effectcore.KindInternal, "firestore delete", err)
	}
	return nil
}

// AuditEntry mirrors the teacher's AuditTrailEntry shape, generalized from
// Accumulate transaction phases to Aura's own operations.
type AuditEntry struct {
	AccountID    string
	Operation    string
	Actor        string
	Timestamp    time.Time
	PreviousHash string
	EntryHash    string
	Details      map[string]interface{}
}

// RecordAudit mirrors the teacher's CreateAuditEntry, appending one
// audit-trail document per account.
func (s *Store) RecordAudit(ctx context.Context, entry AuditEntry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.enabled {
		s.logger.Printf("firestore disabled - skipping audit entry for account=%s op=%s", entry.AccountID, entry.Operation)
		return nil
	}
	if s.firestore == nil {
		return fmt.Errorf("firestore: client not initialized")
	}
	entryID := fmt.Sprintf("%s_%d", entry.Operation, entry.Timestamp.UnixNano())
	docPath := fmt.Sprintf("accounts/%s/auditTrail/%s", entry.AccountID, entryID)
	_, err := s.firestore.Doc(docPath).Set(ctx, map[string]interface{}{
		"operation":    entry.Operation,
		"actor":        entry.Actor,
		"timestamp":    entry.Timestamp,
		"previousHash": entry.PreviousHash,
		"entryHash":    entry.EntryHash,
		"details":      entry.Details,
	})
	if err != nil {
		return fmt.Errorf("firestore: recording audit entry: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	return err != nil && err.Error() != "" && (err.Error() == "rpc error: code = NotFound desc = document not found" ||
		contains(err.Error(), "NotFound"))
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// Close releases the underlying Firestore client.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firestore != nil {
		return s.firestore.Close()
	}
	return nil
}
