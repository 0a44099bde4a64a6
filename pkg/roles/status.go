package roles

import (
	"context"
	"fmt"
	"strings"

	"github.com/governed-swarm/swarmrt/pkg/events"
	"github.com/governed-swarm/swarmrt/pkg/objectstore"
	"github.com/governed-swarm/swarmrt/pkg/stategraph"
)

// statusStore is the subset of objectstore.Store the status runner needs.
type statusStore interface {
	GetLatestFacts(ctx context.Context, v any) error
	GetLatestDrift(ctx context.Context, v any) error
}

// StatusRunner implements the status runner (§4.6): a human-readable scope
// summary, not part of the correctness core. Invoked synchronously by the
// feed server's GET /summary handler rather than through the bus-driven
// Agent Loop Runtime (see roles.Status's doc comment).
type StatusRunner struct {
	store statusStore
}

// NewStatusRunner creates a StatusRunner.
func NewStatusRunner(store statusStore) *StatusRunner {
	return &StatusRunner{store: store}
}

// Summary is the human-readable scope summary GET /summary serves.
type Summary struct {
	ScopeID    string `json:"scope_id"`
	Node       string `json:"node"`
	Text       string `json:"text"`
	ClaimCount int    `json:"claim_count"`
	RiskCount  int    `json:"risk_count"`
	DriftLevel string `json:"drift_level"`
}

// Run produces a Summary for scopeID at its current StateGraph node.
func (r *StatusRunner) Run(ctx context.Context, scopeID string, node stategraph.Node) (Summary, error) {
	var facts events.FactsExtractedPayload
	if err := r.store.GetLatestFacts(ctx, &facts); err != nil && err != objectstore.ErrNotFound {
		return Summary{}, fmt.Errorf("load facts for scope %s: %w", scopeID, err)
	}

	var drift events.DriftAnalyzedPayload
	if err := r.store.GetLatestDrift(ctx, &drift); err != nil && err != objectstore.ErrNotFound {
		return Summary{}, fmt.Errorf("load drift for scope %s: %w", scopeID, err)
	}

	driftLevel := drift.Level
	if driftLevel == "" {
		driftLevel = "none"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "scope %s is at %s with %d active claim(s) and %d risk(s) tracked; drift %s",
		scopeID, node, len(facts.Claims), len(facts.Risks), driftLevel)
	if len(facts.Contradictions) > 0 {
		fmt.Fprintf(&b, "; %d unresolved contradiction(s)", len(facts.Contradictions))
	}

	return Summary{
		ScopeID:    scopeID,
		Node:       string(node),
		Text:       b.String(),
		ClaimCount: len(facts.Claims),
		RiskCount:  len(facts.Risks),
		DriftLevel: driftLevel,
	}, nil
}
