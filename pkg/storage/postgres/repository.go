// Copyright 2025 Aura Project

package postgres

import (
	"context"
	"fmt"

	"github.com/aura-network/aura/pkg/ceremony"
	"github.com/aura-network/aura/pkg/ids"
	"github.com/aura-network/aura/pkg/journal"
)

// JournalRepository mirrors one account's fact map into journal_facts,
// upserting per FactKey so a relational consumer can query facts without
// replaying the CRDT merge.
type JournalRepository struct {
	client *Client
}

func NewJournalRepository(client *Client) *JournalRepository {
	return &JournalRepository{client: client}
}

// UpsertFact persists the winning value for one fact key, keyed by
// (account_id, fact_key) so a later write for the same key replaces it.
func (r *JournalRepository) UpsertFact(ctx context.Context, accountID ids.AccountId, key journal.FactKey, value journal.FactValue) error {
	hash := value.ValueHash()
	_, err := r.client.DB().ExecContext(ctx, `
		INSERT INTO journal_facts (account_id, fact_key, type_id, sub_type, actor, timestamp_ns, value_hash, encoding, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (account_id, fact_key) DO UPDATE SET
			type_id = EXCLUDED.type_id,
			sub_type = EXCLUDED.sub_type,
			actor = EXCLUDED.actor,
			timestamp_ns = EXCLUDED.timestamp_ns,
			value_hash = EXCLUDED.value_hash,
			encoding = EXCLUDED.encoding,
			updated_at = now()
	`, accountID.String(), string(key), value.TypeID, value.SubType, value.Actor.String(), value.Timestamp, hash.String(), value.Encoding)
	if err != nil {
		return fmt.Errorf("postgres: upserting fact %s: %w", key, err)
	}
	return nil
}

// FactRow is one persisted fact, projected back for relational queries.
type FactRow struct {
	FactKey     journal.FactKey
	TypeID      string
	SubType     string
	Actor       string
	TimestampNs int64
	ValueHash   string
}

// ListFacts returns every fact persisted for an account, ordered by key.
func (r *JournalRepository) ListFacts(ctx context.Context, accountID ids.AccountId) ([]FactRow, error) {
	rows, err := r.client.DB().QueryContext(ctx, `
		SELECT fact_key, type_id, sub_type, actor, timestamp_ns, value_hash
		FROM journal_facts WHERE account_id = $1 ORDER BY fact_key
	`, accountID.String())
	if err != nil {
		return nil, fmt.Errorf("postgres: listing facts: %w", err)
	}
	defer rows.Close()

	var out []FactRow
	for rows.Next() {
		var row FactRow
		var key string
		if err := rows.Scan(&key, &row.TypeID, &row.SubType, &row.Actor, &row.TimestampNs, &row.ValueHash); err != nil {
			return nil, fmt.Errorf("postgres: scanning fact row: %w", err)
		}
		row.FactKey = journal.FactKey(key)
		out = append(out, row)
	}
	return out, rows.Err()
}

// CeremonyAuditRepository mirrors ceremony.Record lifecycle transitions
// into an audit table that keeps one row per ceremony, overwritten with the
// latest state on each transition, independent of the in-memory tracker's
// TTL-bounded map.
type CeremonyAuditRepository struct {
	client *Client
}

func NewCeremonyAuditRepository(client *Client) *CeremonyAuditRepository {
	return &CeremonyAuditRepository{client: client}
}

// RecordTransition upserts the ceremony's current snapshot, so querying
// ceremony_audit always reflects the latest known state for that id.
func (r *CeremonyAuditRepository) RecordTransition(ctx context.Context, rec *ceremony.Record) error {
	var committedAt interface{}
	if rec.CommittedAt != nil {
		committedAt = *rec.CommittedAt
	}
	_, err := r.client.DB().ExecContext(ctx, `
		INSERT INTO ceremony_audit (ceremony_id, kind, initiator, k, n, state, consensus_id, failure_reason, started_at, committed_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (ceremony_id) DO UPDATE SET
			state = EXCLUDED.state,
			consensus_id = EXCLUDED.consensus_id,
			failure_reason = EXCLUDED.failure_reason,
			committed_at = EXCLUDED.committed_at,
			recorded_at = now()
	`, rec.ID.String(), rec.Kind, rec.Initiator.String(), rec.K, rec.N, string(rec.State), rec.ConsensusID, rec.FailureReason, rec.StartedAt, committedAt)
	if err != nil {
		return fmt.Errorf("postgres: recording ceremony transition: %w", err)
	}
	return nil
}

// CeremoniesByState returns every audited ceremony id currently in state.
func (r *CeremonyAuditRepository) CeremoniesByState(ctx context.Context, state ceremony.State) ([]string, error) {
	rows, err := r.client.DB().QueryContext(ctx, `SELECT ceremony_id FROM ceremony_audit WHERE state = $1`, string(state))
	if err != nil {
		return nil, fmt.Errorf("postgres: querying ceremonies by state: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scanning ceremony id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
