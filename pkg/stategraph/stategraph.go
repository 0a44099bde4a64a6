// Package stategraph implements the State-Graph Store (§4.3): a single
// row per scope advanced by epoch-CAS, serializing pipeline progress
// through a fixed closed set of nodes.
package stategraph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Node is one of the fixed closed set of pipeline nodes a scope cycles
// through. States not in this set cannot advance.
type Node string

const (
	NodeContextIngested Node = "ContextIngested"
	NodeFactsExtracted  Node = "FactsExtracted"
	NodeDriftChecked    Node = "DriftChecked"
)

// transitions is the closed finite successor function. A node absent from
// this map has no successor and cannot advance.
var transitions = map[Node]Node{
	NodeContextIngested: NodeFactsExtracted,
	NodeFactsExtracted:  NodeDriftChecked,
	NodeDriftChecked:    NodeContextIngested,
}

// NextNode returns the successor of from, or ("", false) if from cannot
// advance.
func NextNode(from Node) (Node, bool) {
	to, ok := transitions[from]
	return to, ok
}

// State is the current row for one scope.
type State struct {
	ScopeID   string
	RunID     string
	LastNode  Node
	Epoch     int64
	UpdatedAt time.Time
}

// TransitionGate evaluates whether a proposed transition may proceed,
// given the current drift classification. Implemented by pkg/policy.
type TransitionGate interface {
	CanTransition(ctx context.Context, scopeID string, from, to Node, drift any) (allowed bool, reason string, err error)
}

// ErrStaleEpoch is returned by AdvanceState when expectedEpoch no longer
// matches the stored row — a concurrent caller already won the CAS.
var ErrStaleEpoch = errors.New("stategraph: stale epoch")

// ErrTransitionDenied is returned when a governance gate blocks the
// transition.
type ErrTransitionDenied struct {
	Reason string
}

func (e *ErrTransitionDenied) Error() string {
	return fmt.Sprintf("stategraph: transition denied: %s", e.Reason)
}

// Store persists StateGraph rows in swarm_state.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InitState inserts the initial row for a scope if one does not already
// exist (insert-or-ignore, idempotent).
func (s *Store) InitState(ctx context.Context, scopeID, runID string, initialNode Node) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO swarm_state (scope_id, run_id, last_node, epoch)
		 VALUES ($1, $2, $3, 0)
		 ON CONFLICT (scope_id) DO NOTHING`,
		scopeID, runID, string(initialNode))
	if err != nil {
		return fmt.Errorf("init state for scope %s: %w", scopeID, err)
	}
	return nil
}

// LoadState returns the current row for scopeID.
func (s *Store) LoadState(ctx context.Context, scopeID string) (*State, error) {
	var st State
	var lastNode string
	err := s.pool.QueryRow(ctx,
		`SELECT scope_id, run_id, last_node, epoch, updated_at FROM swarm_state WHERE scope_id = $1`,
		scopeID,
	).Scan(&st.ScopeID, &st.RunID, &lastNode, &st.Epoch, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load state for scope %s: %w", scopeID, err)
	}
	st.LastNode = Node(lastNode)
	return &st, nil
}

// AdvanceState performs the epoch-CAS advance described in §4.3:
//  1. If the stored epoch != expectedEpoch, return (nil, ErrStaleEpoch) —
//     a concurrent caller already won, or the caller is stale.
//  2. If gate is non-nil, evaluate the transition gate; on deny return
//     (nil, *ErrTransitionDenied).
//  3. Otherwise advance lastNode to its successor, epoch++, commit.
//
// Exactly one concurrent caller with a given expectedEpoch succeeds: the
// UPDATE's WHERE epoch = expectedEpoch predicate serializes the race.
func (s *Store) AdvanceState(ctx context.Context, scopeID string, expectedEpoch int64, gate TransitionGate, drift any) (*State, error) {
	current, err := s.LoadState(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("advance state for scope %s: no such scope", scopeID)
	}
	if current.Epoch != expectedEpoch {
		return nil, ErrStaleEpoch
	}

	to, ok := NextNode(current.LastNode)
	if !ok {
		return nil, fmt.Errorf("advance state for scope %s: node %s has no successor", scopeID, current.LastNode)
	}

	if gate != nil {
		allowed, reason, err := gate.CanTransition(ctx, scopeID, current.LastNode, to, drift)
		if err != nil {
			return nil, fmt.Errorf("evaluate transition gate for scope %s: %w", scopeID, err)
		}
		if !allowed {
			return nil, &ErrTransitionDenied{Reason: reason}
		}
	}

	var updated State
	var lastNode string
	err = s.pool.QueryRow(ctx,
		`UPDATE swarm_state
		 SET last_node = $1, epoch = epoch + 1, updated_at = now()
		 WHERE scope_id = $2 AND epoch = $3
		 RETURNING scope_id, run_id, last_node, epoch, updated_at`,
		string(to), scopeID, expectedEpoch,
	).Scan(&updated.ScopeID, &updated.RunID, &lastNode, &updated.Epoch, &updated.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Another caller's CAS won the race between our load and update.
			return nil, ErrStaleEpoch
		}
		return nil, fmt.Errorf("advance state for scope %s: %w", scopeID, err)
	}
	updated.LastNode = Node(lastNode)
	return &updated, nil
}
