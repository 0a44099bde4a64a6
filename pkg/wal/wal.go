// Package wal implements the Write-Ahead Event Log (§4.2): a dense,
// append-only, totally-ordered record of every envelope published on the
// bus, used for SSE catchup and durable replay. Adapted from the
// teacher's pkg/services.EventService, which played the same role (ent
// Event rows feeding WebSocket catchup) over a different backend — here
// hand-written SQL against pgx/v5 replaces the ent query builder (§4.2
// requires a dense BIGSERIAL seq that ent's generic ID type does not
// expose).
package wal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/governed-swarm/swarmrt/pkg/events"
)

// masker redacts secret-shaped content from a durably-stored payload
// before it is written (SPEC_FULL §C.6). Satisfied by *masking.Service;
// kept as a narrow interface here so pkg/wal doesn't need to import
// pkg/masking's full surface.
type masker interface {
	Mask(data string) string
}

// Store appends and replays events.Envelope rows against context_events.
type Store struct {
	pool   *pgxpool.Pool
	masker masker
}

// NewStore creates a new Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// SetMasker enables payload redaction on every subsequent AppendEvent. Nil
// (the default) stores payloads unmasked.
func (s *Store) SetMasker(m masker) {
	s.masker = m
}

// AppendEvent inserts env and returns the seq assigned by the database.
// Implements events.WALAppender. scope_id is extracted from the payload
// when present; bootstrap/global envelopes are stored with an empty
// scope_id and are visible on every scope's catchup query below.
func (s *Store) AppendEvent(ctx context.Context, env events.Envelope) (int64, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload for %s: %w", env.Type, err)
	}

	scopeID := scopeIDFromPayload(payload)

	if s.masker != nil {
		payload = []byte(s.masker.Mask(string(payload)))
	}

	var seq int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO context_events (scope_id, type, source, ts, payload)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING seq`,
		scopeID, string(env.Type), env.Source, env.TS, payload,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("append event %s to WAL: %w", env.Type, err)
	}
	return seq, nil
}

// EventsSince returns events with seq > sinceSeq, oldest first, capped at
// limit. scopeID == "" means every scope (the unfiltered GlobalChannel
// catchup query); otherwise only that scope's events plus any
// scope-less (bootstrap) envelopes are returned.
func (s *Store) EventsSince(ctx context.Context, scopeID string, sinceSeq int64, limit int) ([]events.Envelope, error) {
	var rows pgx.Rows
	var err error

	if scopeID == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT seq, type, source, ts, payload FROM context_events
			 WHERE seq > $1 ORDER BY seq ASC LIMIT $2`,
			sinceSeq, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT seq, type, source, ts, payload FROM context_events
			 WHERE seq > $1 AND (scope_id = $2 OR scope_id = '') ORDER BY seq ASC LIMIT $3`,
			sinceSeq, scopeID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query events since %d: %w", sinceSeq, err)
	}
	defer rows.Close()

	var out []events.Envelope
	for rows.Next() {
		var (
			seq     int64
			typ     string
			source  string
			ts      time.Time
			payload []byte
		)
		if err := rows.Scan(&seq, &typ, &source, &ts, &payload); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		var decoded any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, fmt.Errorf("unmarshal payload at seq %d: %w", seq, err)
		}
		out = append(out, events.Envelope{
			Type:    events.Type(typ),
			TS:      ts,
			Source:  source,
			Payload: decoded,
			Seq:     seq,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return out, nil
}

// TailEvents returns the most recent limit events for a scope (or every
// scope if scopeID == ""), newest first — used by GET /summary to give a
// fresh client the current state without walking the whole log.
func (s *Store) TailEvents(ctx context.Context, scopeID string, limit int) ([]events.Envelope, error) {
	var rows pgx.Rows
	var err error

	if scopeID == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT seq, type, source, ts, payload FROM context_events
			 ORDER BY seq DESC LIMIT $1`,
			limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT seq, type, source, ts, payload FROM context_events
			 WHERE scope_id = $1 OR scope_id = '' ORDER BY seq DESC LIMIT $2`,
			scopeID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("tail events: %w", err)
	}
	defer rows.Close()

	var out []events.Envelope
	for rows.Next() {
		var (
			seq     int64
			typ     string
			source  string
			ts      time.Time
			payload []byte
		)
		if err := rows.Scan(&seq, &typ, &source, &ts, &payload); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		var decoded any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, fmt.Errorf("unmarshal payload at seq %d: %w", seq, err)
		}
		out = append(out, events.Envelope{
			Type:    events.Type(typ),
			TS:      ts,
			Source:  source,
			Payload: decoded,
			Seq:     seq,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return out, nil
}

func scopeIDFromPayload(payload []byte) string {
	var probe struct {
		ScopeID string `json:"scope_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.ScopeID
}
