// Package activation implements the Activation Filter (§4.4): the set of
// gates every role's Agent Loop Runtime runs before invoking its role
// runner, plus the per-(role, scope) agent memory the gates read and
// update. Grounded on the teacher's repository-pattern store files
// (pkg/queue/types.go, pkg/database/config.go) reworked onto pgx/v5
// against the filter_configs/agent_memory tables.
package activation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoFilterConfig is returned by LoadFilterConfig when a role has no
// configured filter row. Callers should fall back to a permissive
// zero-value FilterConfig (no cooldown, no anchor gate) rather than treat
// this as fatal — §7 "Data store missing tables ... features ... return
// null / empty and the system stays usable" extends to missing rows.
var ErrNoFilterConfig = errors.New("activation: no filter config for role")

// FilterConfig is one role's declarative activation gate configuration
// (§4.4: "{cooldownMs, minNewSeqSinceLast, hashKeys[], anchorNode?}").
type FilterConfig struct {
	Role               string
	CooldownMs         int64
	MinNewSeqSinceLast int
	HashKeys           []string
	AnchorNode         string // empty means the anchor-node gate is disabled
}

// Memory is a role's per-scope agent memory row.
type Memory struct {
	Role             string
	ScopeID          string
	LastActivatedAt  *time.Time
	LastProcessedSeq int64
	LastHash         string
	LastDriftHash    string
}

// Store persists filter configs and agent memory.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store over an existing connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// LoadFilterConfig loads the declarative filter for role.
func (s *Store) LoadFilterConfig(ctx context.Context, role string) (*FilterConfig, error) {
	var cfg FilterConfig
	var anchor *string
	err := s.pool.QueryRow(ctx, `
		SELECT role, cooldown_ms, min_new_seq_since_last, hash_keys, anchor_node
		FROM filter_configs
		WHERE role = $1`, role).
		Scan(&cfg.Role, &cfg.CooldownMs, &cfg.MinNewSeqSinceLast, &cfg.HashKeys, &anchor)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoFilterConfig
	}
	if err != nil {
		return nil, fmt.Errorf("load filter config for %s: %w", role, err)
	}
	if anchor != nil {
		cfg.AnchorNode = *anchor
	}
	return &cfg, nil
}

// UpsertFilterConfig creates or replaces a role's filter config.
func (s *Store) UpsertFilterConfig(ctx context.Context, cfg FilterConfig) error {
	var anchor *string
	if cfg.AnchorNode != "" {
		anchor = &cfg.AnchorNode
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO filter_configs (role, cooldown_ms, min_new_seq_since_last, hash_keys, anchor_node)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (role) DO UPDATE SET
			cooldown_ms = EXCLUDED.cooldown_ms,
			min_new_seq_since_last = EXCLUDED.min_new_seq_since_last,
			hash_keys = EXCLUDED.hash_keys,
			anchor_node = EXCLUDED.anchor_node`,
		cfg.Role, cfg.CooldownMs, cfg.MinNewSeqSinceLast, cfg.HashKeys, anchor)
	if err != nil {
		return fmt.Errorf("upsert filter config for %s: %w", cfg.Role, err)
	}
	return nil
}

// LoadMemory loads a role's memory for a scope. A nil, nil return means
// the role has never activated in that scope (fresh-scope semantics: an
// all-zero Memory is the correct permissive default).
func (s *Store) LoadMemory(ctx context.Context, role, scopeID string) (*Memory, error) {
	var mem Memory
	var lastHash, lastDriftHash *string
	err := s.pool.QueryRow(ctx, `
		SELECT role, scope_id, last_activated_at, last_processed_seq, last_hash, last_drift_hash
		FROM agent_memory
		WHERE role = $1 AND scope_id = $2`, role, scopeID).
		Scan(&mem.Role, &mem.ScopeID, &mem.LastActivatedAt, &mem.LastProcessedSeq, &lastHash, &lastDriftHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load agent memory for %s/%s: %w", role, scopeID, err)
	}
	if lastHash != nil {
		mem.LastHash = *lastHash
	}
	if lastDriftHash != nil {
		mem.LastDriftHash = *lastDriftHash
	}
	return &mem, nil
}

// MemoryUpdate is the set of fields a successful role activation writes
// back to its memory row (§4.5 step 7: "Updates agent memory atomically").
type MemoryUpdate struct {
	ActivatedAt  time.Time
	ProcessedSeq int64
	Hash         string // set when the role is not a drift-consumer
	DriftHash    string // set when the role is a drift-consumer
	IsDriftHash  bool
}

// UpdateMemory atomically upserts a role's memory for a scope. Owned
// exclusively by that role's own loop (§5 "Agent memory: exclusively
// owned by its role's loop"), so a plain upsert is race-free in practice.
func (s *Store) UpdateMemory(ctx context.Context, role, scopeID string, upd MemoryUpdate) error {
	if upd.IsDriftHash {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO agent_memory (role, scope_id, last_activated_at, last_processed_seq, last_drift_hash)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (role, scope_id) DO UPDATE SET
				last_activated_at = EXCLUDED.last_activated_at,
				last_processed_seq = EXCLUDED.last_processed_seq,
				last_drift_hash = EXCLUDED.last_drift_hash`,
			role, scopeID, upd.ActivatedAt, upd.ProcessedSeq, upd.DriftHash)
		if err != nil {
			return fmt.Errorf("update agent memory (drift) for %s/%s: %w", role, scopeID, err)
		}
		return nil
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_memory (role, scope_id, last_activated_at, last_processed_seq, last_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (role, scope_id) DO UPDATE SET
			last_activated_at = EXCLUDED.last_activated_at,
			last_processed_seq = EXCLUDED.last_processed_seq,
			last_hash = EXCLUDED.last_hash`,
		role, scopeID, upd.ActivatedAt, upd.ProcessedSeq, upd.Hash)
	if err != nil {
		return fmt.Errorf("update agent memory for %s/%s: %w", role, scopeID, err)
	}
	return nil
}

// FindStale returns every agent_memory row last activated before the
// given cutoff, across all roles. Used by the orphan sweep to find
// scopes a role loop may have wedged on (§C.1): the bus's own
// redelivery handles message-level stalls, but a scope can still wedge
// if a proposal is lost between bus ack and WAL append, leaving no
// in-flight message to redeliver.
func (s *Store) FindStale(ctx context.Context, cutoff time.Time) ([]Memory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role, scope_id, last_activated_at, last_processed_seq, last_hash, last_drift_hash
		FROM agent_memory
		WHERE last_activated_at IS NOT NULL AND last_activated_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stale agent memory: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var mem Memory
		var lastHash, lastDriftHash *string
		if err := rows.Scan(&mem.Role, &mem.ScopeID, &mem.LastActivatedAt, &mem.LastProcessedSeq, &lastHash, &lastDriftHash); err != nil {
			return nil, fmt.Errorf("scan stale agent memory row: %w", err)
		}
		if lastHash != nil {
			mem.LastHash = *lastHash
		}
		if lastDriftHash != nil {
			mem.LastDriftHash = *lastDriftHash
		}
		out = append(out, mem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale agent memory rows: %w", err)
	}
	return out, nil
}
