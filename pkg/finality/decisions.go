package finality

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DecisionStore appends the human response to a finality review
// (approve_finality/provide_resolution/escalate/defer) per scope
// (§4.9's "finality" actions, §4.11 step 1). scope_finality_decisions is
// an append-only history table, so LatestDecision reads the newest row
// rather than relying on a unique-per-scope upsert. Satisfies
// pkg/executor's finalityRecorder interface via RecordDecision, and this
// package's own decisionReader via LatestDecision.
type DecisionStore struct {
	pool *pgxpool.Pool
}

// NewDecisionStore creates a DecisionStore.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

// RecordDecision appends a new finality decision row for scopeID.
func (d *DecisionStore) RecordDecision(ctx context.Context, scopeID, option string, days *int) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO scope_finality_decisions (scope_id, option, days) VALUES ($1, $2, $3)`,
		scopeID, option, days)
	if err != nil {
		return fmt.Errorf("record finality decision for scope %s: %w", scopeID, err)
	}
	return nil
}

// LatestDecision returns the most recently recorded finality decision for
// scopeID, found=false if none has ever been recorded.
func (d *DecisionStore) LatestDecision(ctx context.Context, scopeID string) (option string, days *int, found bool, err error) {
	err = d.pool.QueryRow(ctx,
		`SELECT option, days FROM scope_finality_decisions
		 WHERE scope_id = $1 ORDER BY created_at DESC LIMIT 1`,
		scopeID,
	).Scan(&option, &days)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, false, nil
		}
		return "", nil, false, fmt.Errorf("load finality decision for scope %s: %w", scopeID, err)
	}
	return option, days, true, nil
}
