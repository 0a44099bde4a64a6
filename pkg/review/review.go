// Package review implements the Human-Review Queue (§4.13): the single
// mitl_pending table multiplexing two payload shapes — a StateGraph-
// advance proposal awaiting MITL approval, and a finality decision
// awaiting a human response — distinguished by an envelope "kind" field
// stored in the proposal column. Grounded on pkg/activation's and
// pkg/stategraph's repository-pattern store files, reworked onto the
// single pending table instead of per-entity tables.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// busPublisher is the subset of bus.Client the queue needs to publish
// approved/rejected/finality decisions back onto the bus.
type busPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte) (uint64, error)
}

// ErrNotFound is returned when proposalID names no pending row.
var ErrNotFound = errors.New("review: pending row not found")

// ErrWrongKind is returned by ApprovePending/RejectPending against a
// finality_review row, and by ResolveFinalityPending against a
// proposal_review row (§4.13: "Rejects when the row's payload is a
// finality_review — use the finality API instead").
var ErrWrongKind = errors.New("review: wrong pending kind for this operation")

type kind string

const (
	kindProposalReview kind = "proposal_review"
	kindFinalityReview kind = "finality_review"
)

// envelope is the shape actually stored in mitl_pending.proposal: a kind
// discriminator plus the scope it belongs to (read back out for
// HasPendingFinalityReview's I7 check) wrapping the caller's raw body.
type envelope struct {
	Kind    kind            `json:"kind"`
	ScopeID string          `json:"scope_id"`
	Body    json.RawMessage `json:"body"`
}

// Pending is one row of the Human-Review Queue, as returned by GetPending.
type Pending struct {
	ProposalID    string
	Kind          string
	ScopeID       string
	Body          json.RawMessage
	ActionPayload json.RawMessage
	Status        string
	CreatedAt     time.Time
}

// FinalityOption is one of the human responses offered against a
// finality_review row (§4.11 step 7, §4.9's finality action options).
type FinalityOption struct {
	Option string `json:"option"`
	Days   *int   `json:"days,omitempty"`
}

// FinalityReview is the body of a finality_review row: the dimension
// breakdown, blockers, and options a HITL reviewer needs (§4.11 step 7).
type FinalityReview struct {
	ScopeID             string             `json:"scope_id"`
	GoalScore           float64            `json:"goal_score"`
	DimensionBreakdown  map[string]float64 `json:"dimension_breakdown"`
	Blockers            []string           `json:"blockers"`
	Options             []FinalityOption   `json:"options"`
	ConvergenceSnapshot  any               `json:"convergence_snapshot"`
}

// proposalRejection mirrors pkg/governance.Rejection's wire shape.
type proposalRejection struct {
	ActionType string `json:"action_type"`
	ProposalID string `json:"proposal_id"`
	ScopeID    string `json:"scope_id"`
	Reason     string `json:"reason"`
}

// finalityAction mirrors pkg/executor's "finality" action wire shape.
type finalityAction struct {
	ActionType string `json:"action_type"`
	ScopeID    string `json:"scope_id"`
	Option     string `json:"option"`
	Days       *int   `json:"days,omitempty"`
}

// Store persists mitl_pending rows and publishes the bus messages each
// resolution implies.
// masker redacts secret-shaped content before a payload is surfaced to a
// human reviewer (SPEC_FULL §C.6). Satisfied by *masking.Service.
type masker interface {
	Mask(data string) string
}

type Store struct {
	pool      *pgxpool.Pool
	publisher busPublisher
	masker    masker
}

// NewStore creates a Store.
func NewStore(pool *pgxpool.Pool, publisher busPublisher) *Store {
	return &Store{pool: pool, publisher: publisher}
}

// SetMasker enables payload redaction on GetPending's output. Nil (the
// default) surfaces pending rows unmasked. Storage itself is left
// unmasked: ApprovePending/executor consumers need the exact
// action_payload to act on.
func (s *Store) SetMasker(m masker) {
	s.masker = m
}

// AddPending upserts a proposal_review row, idempotent per proposalID
// (§4.13: "upsert; idempotent per proposal_id"). Satisfies the
// reviewQueue interface pkg/governance's MITL branch depends on.
func (s *Store) AddPending(ctx context.Context, proposalID string, proposal, actionPayload any) error {
	bodyJSON, err := json.Marshal(proposal)
	if err != nil {
		return fmt.Errorf("marshal proposal %s: %w", proposalID, err)
	}
	scopeID, err := scopeIDOf(bodyJSON)
	if err != nil {
		return fmt.Errorf("extract scope_id from proposal %s: %w", proposalID, err)
	}
	actionJSON, err := json.Marshal(actionPayload)
	if err != nil {
		return fmt.Errorf("marshal action payload for proposal %s: %w", proposalID, err)
	}
	envJSON, err := json.Marshal(envelope{Kind: kindProposalReview, ScopeID: scopeID, Body: bodyJSON})
	if err != nil {
		return fmt.Errorf("marshal pending envelope for proposal %s: %w", proposalID, err)
	}

	return s.upsert(ctx, proposalID, envJSON, actionJSON)
}

// AddFinalityReview inserts a finality_review row for scopeID and
// returns its generated proposal_id. Callers must check
// HasPendingFinalityReview first to honor I7 ("at most one pending
// finality_review exists per scope").
func (s *Store) AddFinalityReview(ctx context.Context, scopeID string, review FinalityReview) (string, error) {
	bodyJSON, err := json.Marshal(review)
	if err != nil {
		return "", fmt.Errorf("marshal finality review for scope %s: %w", scopeID, err)
	}
	envJSON, err := json.Marshal(envelope{Kind: kindFinalityReview, ScopeID: scopeID, Body: bodyJSON})
	if err != nil {
		return "", fmt.Errorf("marshal pending envelope for scope %s: %w", scopeID, err)
	}

	id := uuid.NewString()
	if err := s.upsert(ctx, id, envJSON, []byte(`{}`)); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) upsert(ctx context.Context, proposalID string, envJSON, actionJSON []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO mitl_pending (proposal_id, proposal, action_payload, status)
		 VALUES ($1, $2, $3, 'pending')
		 ON CONFLICT (proposal_id) DO UPDATE SET
		   proposal = EXCLUDED.proposal, action_payload = EXCLUDED.action_payload, status = 'pending'`,
		proposalID, envJSON, actionJSON)
	if err != nil {
		return fmt.Errorf("upsert pending row %s: %w", proposalID, err)
	}
	return nil
}

// GetPending lists pending rows oldest first (§4.13: "list rows with
// status='pending', oldest first").
func (s *Store) GetPending(ctx context.Context) ([]Pending, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT proposal_id, proposal, action_payload, status, created_at
		 FROM mitl_pending WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending rows: %w", err)
	}
	defer rows.Close()

	var out []Pending
	for rows.Next() {
		var id string
		var envJSON, actionJSON []byte
		var status string
		var createdAt time.Time
		if err := rows.Scan(&id, &envJSON, &actionJSON, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan pending row: %w", err)
		}
		var env envelope
		if err := json.Unmarshal(envJSON, &env); err != nil {
			return nil, fmt.Errorf("unmarshal pending envelope %s: %w", id, err)
		}
		body := env.Body
		if s.masker != nil {
			body = json.RawMessage(s.masker.Mask(string(body)))
			actionJSON = []byte(s.masker.Mask(string(actionJSON)))
		}
		out = append(out, Pending{
			ProposalID:    id,
			Kind:          string(env.Kind),
			ScopeID:       env.ScopeID,
			Body:          body,
			ActionPayload: actionJSON,
			Status:        status,
			CreatedAt:     createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending rows: %w", err)
	}
	return out, nil
}

// HasPendingFinalityReview reports whether scopeID already has a
// pending finality_review row, enforcing I7.
func (s *Store) HasPendingFinalityReview(ctx context.Context, scopeID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM mitl_pending
			WHERE status = 'pending'
			AND proposal->>'kind' = $1
			AND proposal->>'scope_id' = $2
		 )`,
		string(kindFinalityReview), scopeID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending finality review for scope %s: %w", scopeID, err)
	}
	return exists, nil
}

// ApprovePending publishes the row's pre-built Action (result=approved,
// approved_by=human) to swarm.actions.advance_state and deletes the row
// (§4.13). Returns ErrWrongKind against a finality_review row.
func (s *Store) ApprovePending(ctx context.Context, proposalID string) error {
	env, actionJSON, err := s.loadRow(ctx, proposalID)
	if err != nil {
		return err
	}
	if env.Kind != kindProposalReview {
		return ErrWrongKind
	}

	if _, err := s.publisher.Publish(ctx, "swarm.actions.advance_state", actionJSON); err != nil {
		return fmt.Errorf("publish approved action for %s: %w", proposalID, err)
	}
	return s.delete(ctx, proposalID)
}

// RejectPending publishes a rejection on swarm.rejections.advance_state
// and deletes the row. Returns ErrWrongKind against a finality_review
// row (use ResolveFinalityPending instead).
func (s *Store) RejectPending(ctx context.Context, proposalID, reason string) error {
	env, _, err := s.loadRow(ctx, proposalID)
	if err != nil {
		return err
	}
	if env.Kind != kindProposalReview {
		return ErrWrongKind
	}

	payload, err := json.Marshal(proposalRejection{
		ActionType: "advance_state",
		ProposalID: proposalID,
		ScopeID:    env.ScopeID,
		Reason:     reason,
	})
	if err != nil {
		return fmt.Errorf("marshal rejection for %s: %w", proposalID, err)
	}
	if _, err := s.publisher.Publish(ctx, "swarm.rejections.advance_state", payload); err != nil {
		return fmt.Errorf("publish rejection for %s: %w", proposalID, err)
	}
	return s.delete(ctx, proposalID)
}

// ResolveFinalityPending publishes a finality action on
// swarm.actions.finality and deletes the row. Returns ErrWrongKind
// against a proposal_review row.
func (s *Store) ResolveFinalityPending(ctx context.Context, proposalID, option string, days *int) error {
	env, _, err := s.loadRow(ctx, proposalID)
	if err != nil {
		return err
	}
	if env.Kind != kindFinalityReview {
		return ErrWrongKind
	}

	payload, err := json.Marshal(finalityAction{
		ActionType: "finality",
		ScopeID:    env.ScopeID,
		Option:     option,
		Days:       days,
	})
	if err != nil {
		return fmt.Errorf("marshal finality action for %s: %w", proposalID, err)
	}
	if _, err := s.publisher.Publish(ctx, "swarm.actions.finality", payload); err != nil {
		return fmt.Errorf("publish finality action for %s: %w", proposalID, err)
	}
	return s.delete(ctx, proposalID)
}

func (s *Store) loadRow(ctx context.Context, proposalID string) (envelope, []byte, error) {
	var envJSON, actionJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT proposal, action_payload FROM mitl_pending WHERE proposal_id = $1 AND status = 'pending'`,
		proposalID,
	).Scan(&envJSON, &actionJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return envelope{}, nil, ErrNotFound
		}
		return envelope{}, nil, fmt.Errorf("load pending row %s: %w", proposalID, err)
	}
	var env envelope
	if err := json.Unmarshal(envJSON, &env); err != nil {
		return envelope{}, nil, fmt.Errorf("unmarshal pending envelope %s: %w", proposalID, err)
	}
	return env, actionJSON, nil
}

func (s *Store) delete(ctx context.Context, proposalID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM mitl_pending WHERE proposal_id = $1`, proposalID); err != nil {
		return fmt.Errorf("delete pending row %s: %w", proposalID, err)
	}
	return nil
}

// ExpireStale deletes pending rows older than ttl, per the retention
// config's mitl_pending_ttl (SPEC_FULL §C.2). A row surviving this long
// means nobody ever resolved it; dropping it prevents an indefinitely
// growing queue, at the cost of the proposal/review it represented never
// being acted on.
func (s *Store) ExpireStale(ctx context.Context, ttl time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM mitl_pending WHERE status = 'pending' AND created_at < $1`,
		time.Now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("expire stale pending rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scopeIDOf(raw []byte) (string, error) {
	var v struct {
		ScopeID string `json:"scope_id"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	if v.ScopeID == "" {
		return "", fmt.Errorf("payload has no scope_id field")
	}
	return v.ScopeID, nil
}
