package graph

import (
	"context"
	"fmt"
)

// FinalitySnapshot is the one-round-trip aggregation query result feeding
// the Finality Evaluator (§4.10, §4.11).
type FinalitySnapshot struct {
	ClaimsActiveMinConfidence    float64
	ClaimsActiveCount            int
	ClaimsActiveAvgConfidence    float64
	ContradictionsUnresolved     int
	ContradictionsTotal          int
	RisksCriticalActiveCount     int
	GoalsCompletionRatio         float64
	ScopeRiskScore               float64
	ScopeIdleCycles              int
	ScopeLastDeltaAgeMs          int64
}

var severityWeight = map[string]float64{
	SeverityLow:      0.1,
	SeverityMedium:   0.3,
	SeverityHigh:     0.6,
	SeverityCritical: 1.0,
}

// Aggregate computes a FinalitySnapshot for scopeID in a single
// round-trip query, plus the idle-cycle/last-delta-age fields sourced
// from the WAL's most recent event for the scope (passed in by the
// caller, since that lives in a different table/package — see
// pkg/finality's wiring of Aggregate).
func (s *Store) Aggregate(ctx context.Context, scopeID string) (*FinalitySnapshot, error) {
	var snap FinalitySnapshot

	err := s.pool.QueryRow(ctx, `
		WITH active_claims AS (
			SELECT confidence FROM nodes
			WHERE scope_id = $1 AND type = 'claim' AND status = 'active'
		),
		contradiction_edges AS (
			SELECT e.from_node_id, e.to_node_id FROM edges e
			WHERE e.scope_id = $1 AND e.type = 'contradicts'
		),
		unresolved AS (
			SELECT c.from_node_id, c.to_node_id FROM contradiction_edges c
			WHERE NOT EXISTS (
				SELECT 1 FROM edges r
				WHERE r.scope_id = $1 AND r.type = 'resolves'
				AND ((r.from_node_id = c.from_node_id AND r.to_node_id = c.to_node_id)
				  OR (r.from_node_id = c.to_node_id AND r.to_node_id = c.from_node_id))
			)
		),
		active_risks AS (
			SELECT severity FROM nodes
			WHERE scope_id = $1 AND type = 'risk' AND status = 'active'
		)
		SELECT
			COALESCE((SELECT MIN(confidence) FROM active_claims), 1) AS min_conf,
			(SELECT COUNT(*) FROM active_claims) AS claims_count,
			COALESCE((SELECT AVG(confidence) FROM active_claims), 1) AS avg_conf,
			(SELECT COUNT(*) FROM unresolved) AS unresolved_count,
			(SELECT COUNT(*) FROM contradiction_edges) AS total_contradictions,
			(SELECT COUNT(*) FROM active_risks WHERE severity = 'critical') AS critical_risks
		`, scopeID).Scan(
		&snap.ClaimsActiveMinConfidence,
		&snap.ClaimsActiveCount,
		&snap.ClaimsActiveAvgConfidence,
		&snap.ContradictionsUnresolved,
		&snap.ContradictionsTotal,
		&snap.RisksCriticalActiveCount,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate finality snapshot for scope %s: %w", scopeID, err)
	}

	var goalsTotal, goalsResolved int
	if err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM nodes WHERE scope_id = $1 AND type = 'goal') AS goals_total,
			(SELECT COUNT(*) FROM nodes n WHERE n.scope_id = $1 AND n.type = 'goal'
				AND EXISTS (
					SELECT 1 FROM edges r WHERE r.scope_id = $1 AND r.type = 'resolves'
					AND (r.from_node_id = n.id OR r.to_node_id = n.id)
				)) AS goals_resolved
		`, scopeID).Scan(&goalsTotal, &goalsResolved); err != nil {
		return nil, fmt.Errorf("aggregate goal completion for scope %s: %w", scopeID, err)
	}
	if goalsTotal == 0 {
		snap.GoalsCompletionRatio = 1
	} else {
		snap.GoalsCompletionRatio = float64(goalsResolved) / float64(goalsTotal)
	}

	riskScore, err := s.scopeRiskScore(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	snap.ScopeRiskScore = riskScore

	return &snap, nil
}

func (s *Store) scopeRiskScore(ctx context.Context, scopeID string) (float64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT severity FROM nodes WHERE scope_id = $1 AND type = 'risk' AND status = 'active'`,
		scopeID)
	if err != nil {
		return 0, fmt.Errorf("load active risk severities for scope %s: %w", scopeID, err)
	}
	defer rows.Close()

	var total float64
	var count int
	for rows.Next() {
		var severity *string
		if err := rows.Scan(&severity); err != nil {
			return 0, fmt.Errorf("scan risk severity: %w", err)
		}
		if severity != nil {
			total += severityWeight[*severity]
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate risk severities: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	return total / float64(count), nil
}
