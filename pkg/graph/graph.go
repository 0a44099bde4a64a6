// Package graph implements the Semantic Graph (§4.10): scope-partitioned
// claim/goal/risk nodes with CRDT-style monotonic confidence, contradicts/
// resolves edges, and the aggregation query that feeds the Finality
// Evaluator (§4.11).
package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NodeType is the type of a semantic-graph node.
type NodeType string

const (
	NodeClaim NodeType = "claim"
	NodeGoal  NodeType = "goal"
	NodeRisk  NodeType = "risk"
)

// EdgeType is the type of a semantic-graph edge.
type EdgeType string

const (
	EdgeContradicts EdgeType = "contradicts"
	EdgeResolves    EdgeType = "resolves"
)

// Severity levels for risk nodes.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const createdByFactsSync = "facts-sync"
const createdByUser = "user"

const (
	statusActive     = "active"
	statusIrrelevant = "irrelevant"
)

// FactsExtraction is the subset of a facts-extraction result the Sync
// operation consumes (mirrors events.FactsExtractedPayload).
type FactsExtraction struct {
	Claims         []string
	Goals          []string
	Risks          []string
	Contradictions []string
	Confidence     float64
}

// Store runs semantic-graph mutations and the aggregation query against
// nodes/edges.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type node struct {
	id         int64
	content    string
	confidence float64
	status     string
}

// Sync applies a facts-extraction result to the scope's graph: upserting
// claim/goal/risk nodes, deactivating stale fact-sourced nodes (I5), and
// inserting contradicts edges (I3). Runs entirely in one transaction
// (§4.10: "All mutations run in a transaction").
func (s *Store) Sync(ctx context.Context, scopeID string, fx FactsExtraction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin sync transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	claimIDs, err := s.upsertContentNodes(ctx, tx, scopeID, NodeClaim, fx.Claims, fx.Confidence)
	if err != nil {
		return err
	}
	if _, err := s.upsertContentNodes(ctx, tx, scopeID, NodeGoal, fx.Goals, fx.Confidence); err != nil {
		return err
	}
	if _, err := s.upsertContentNodes(ctx, tx, scopeID, NodeRisk, fx.Risks, fx.Confidence); err != nil {
		return err
	}

	if err := s.syncContradictions(ctx, tx, scopeID, fx.Contradictions, claimIDs); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit sync transaction: %w", err)
	}
	return nil
}

// upsertContentNodes applies steps 2-4 of §4.10's sync operation for one
// node type, returning the content→id map of every node now matched
// (new or reactivated).
func (s *Store) upsertContentNodes(ctx context.Context, tx pgx.Tx, scopeID string, typ NodeType, contents []string, confidence float64) (map[string]int64, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, content, confidence, status FROM nodes
		 WHERE scope_id = $1 AND type = $2 AND created_by = $3`,
		scopeID, string(typ), createdByFactsSync)
	if err != nil {
		return nil, fmt.Errorf("load existing %s nodes: %w", typ, err)
	}
	var existing []node
	for rows.Next() {
		var n node
		if err := rows.Scan(&n.id, &n.content, &n.confidence, &n.status); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan %s node: %w", typ, err)
		}
		existing = append(existing, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s nodes: %w", typ, err)
	}
	rows.Close()

	matched := make(map[int64]bool, len(existing))
	resolved := make(map[string]int64, len(contents))

	for _, raw := range contents {
		content := strings.TrimSpace(raw)
		if content == "" {
			continue
		}

		var hit *node
		for i := range existing {
			e := &existing[i]
			if e.content == content || strings.HasPrefix(content, e.content) {
				hit = e
				break
			}
		}

		if hit != nil {
			matched[hit.id] = true
			resolved[content] = hit.id

			newConfidence := hit.confidence
			if confidence >= hit.confidence {
				newConfidence = confidence
			}
			if hit.status != statusActive || newConfidence != hit.confidence {
				if _, err := tx.Exec(ctx,
					`UPDATE nodes SET status = $1, confidence = $2, updated_at = now() WHERE id = $3`,
					statusActive, newConfidence, hit.id); err != nil {
					return nil, fmt.Errorf("reactivate %s node %d: %w", typ, hit.id, err)
				}
				hit.status = statusActive
				hit.confidence = newConfidence
			}
			continue
		}

		var id int64
		if err := tx.QueryRow(ctx,
			`INSERT INTO nodes (scope_id, type, content, confidence, status, created_by)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			scopeID, string(typ), content, confidence, statusActive, createdByFactsSync,
		).Scan(&id); err != nil {
			return nil, fmt.Errorf("insert %s node: %w", typ, err)
		}
		matched[id] = true
		resolved[content] = id
	}

	// I5: any previously-active fact-sourced node not matched becomes irrelevant.
	for _, e := range existing {
		if e.status == statusActive && !matched[e.id] {
			if _, err := tx.Exec(ctx,
				`UPDATE nodes SET status = $1, updated_at = now() WHERE id = $2`,
				statusIrrelevant, e.id); err != nil {
				return nil, fmt.Errorf("mark %s node %d irrelevant: %w", typ, e.id, err)
			}
		}
	}

	return resolved, nil
}

// syncContradictions implements §4.10 step 5: resolve both sides of each
// "A... vs B..." contradiction string to claim node ids and insert a
// contradicts edge when both resolve, are distinct, and no resolves edge
// already connects them (I3).
func (s *Store) syncContradictions(ctx context.Context, tx pgx.Tx, scopeID string, contradictions []string, claimIDs map[string]int64) error {
	for _, c := range contradictions {
		left, right, ok := splitContradiction(c)
		if !ok {
			continue
		}

		leftID, leftOK := resolveClaim(left, claimIDs)
		rightID, rightOK := resolveClaim(right, claimIDs)
		if !leftOK || !rightOK || leftID == rightID {
			continue
		}

		var resolvesExists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(
				SELECT 1 FROM edges
				WHERE scope_id = $1 AND type = $2
				AND ((from_node_id = $3 AND to_node_id = $4) OR (from_node_id = $4 AND to_node_id = $3))
			 )`,
			scopeID, string(EdgeResolves), leftID, rightID,
		).Scan(&resolvesExists); err != nil {
			return fmt.Errorf("check resolves edge for contradiction %q: %w", c, err)
		}
		if resolvesExists {
			continue
		}

		var contradictsExists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(
				SELECT 1 FROM edges
				WHERE scope_id = $1 AND type = $2
				AND ((from_node_id = $3 AND to_node_id = $4) OR (from_node_id = $4 AND to_node_id = $3))
			 )`,
			scopeID, string(EdgeContradicts), leftID, rightID,
		).Scan(&contradictsExists); err != nil {
			return fmt.Errorf("check contradicts edge for contradiction %q: %w", c, err)
		}
		if contradictsExists {
			continue
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO edges (scope_id, type, from_node_id, to_node_id) VALUES ($1, $2, $3, $4)`,
			scopeID, string(EdgeContradicts), leftID, rightID); err != nil {
			return fmt.Errorf("insert contradicts edge for %q: %w", c, err)
		}
	}
	return nil
}

// splitContradiction parses the `NLI: "A..." vs "B..."` shape into its two
// quoted sides. Returns ok=false if the string does not contain both
// quoted sides.
func splitContradiction(s string) (left, right string, ok bool) {
	parts := strings.SplitN(s, " vs ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	left = extractQuoted(parts[0])
	right = extractQuoted(parts[1])
	if left == "" || right == "" {
		return "", "", false
	}
	return left, right, true
}

func extractQuoted(s string) string {
	start := strings.Index(s, `"`)
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(s, `"`)
	if end <= start {
		return ""
	}
	return strings.TrimSpace(s[start+1 : end])
}

// resolveClaim resolves a contradiction-side string to a claim node id:
// exact match first, then a prefix (startsWith) match.
func resolveClaim(side string, claimIDs map[string]int64) (int64, bool) {
	if id, ok := claimIDs[side]; ok {
		return id, true
	}
	for content, id := range claimIDs {
		if strings.HasPrefix(content, side) || strings.HasPrefix(side, content) {
			return id, true
		}
	}
	return 0, false
}

// AppendResolutionGoal records a manual human resolution (§4.10
// "Resolution goal append"): appends a new goal node with created_by=user,
// and inserts a resolves edge for any unresolved contradiction whose
// referenced claims appear (as a substring, precision-over-recall) in
// text.
func (s *Store) AppendResolutionGoal(ctx context.Context, scopeID, text string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin resolution transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO nodes (scope_id, type, content, confidence, status, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		scopeID, string(NodeGoal), text, 1.0, statusActive, createdByUser); err != nil {
		return fmt.Errorf("insert resolution goal node: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT e.from_node_id, e.to_node_id, a.content, b.content
		 FROM edges e
		 JOIN nodes a ON a.id = e.from_node_id
		 JOIN nodes b ON b.id = e.to_node_id
		 WHERE e.scope_id = $1 AND e.type = $2
		 AND NOT EXISTS (
			SELECT 1 FROM edges r WHERE r.scope_id = e.scope_id AND r.type = $3
			AND ((r.from_node_id = e.from_node_id AND r.to_node_id = e.to_node_id)
			  OR (r.from_node_id = e.to_node_id AND r.to_node_id = e.from_node_id))
		 )`,
		scopeID, string(EdgeContradicts), string(EdgeResolves))
	if err != nil {
		return fmt.Errorf("load unresolved contradictions: %w", err)
	}
	type pair struct {
		from, to       int64
		fromTxt, toTxt string
	}
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.from, &p.to, &p.fromTxt, &p.toTxt); err != nil {
			rows.Close()
			return fmt.Errorf("scan unresolved contradiction: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate unresolved contradictions: %w", err)
	}
	rows.Close()

	lowerText := strings.ToLower(text)
	for _, p := range pairs {
		if referencesClaim(lowerText, p.fromTxt) || referencesClaim(lowerText, p.toTxt) {
			if _, err := tx.Exec(ctx,
				`INSERT INTO edges (scope_id, type, from_node_id, to_node_id) VALUES ($1, $2, $3, $4)`,
				scopeID, string(EdgeResolves), p.from, p.to); err != nil {
				return fmt.Errorf("insert resolves edge (%d,%d): %w", p.from, p.to, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit resolution transaction: %w", err)
	}
	return nil
}

// referencesClaim is the string-match heuristic used by
// AppendResolutionGoal: true if a meaningful prefix of claimContent
// appears in text.
func referencesClaim(lowerText, claimContent string) bool {
	c := strings.ToLower(strings.TrimSpace(claimContent))
	if c == "" {
		return false
	}
	probeLen := len(c)
	if probeLen > 40 {
		probeLen = 40
	}
	return strings.Contains(lowerText, c[:probeLen])
}
