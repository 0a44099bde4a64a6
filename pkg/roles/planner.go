package roles

import (
	"context"
	"fmt"
	"strings"

	"github.com/governed-swarm/swarmrt/pkg/activation"
	"github.com/governed-swarm/swarmrt/pkg/events"
	"github.com/governed-swarm/swarmrt/pkg/objectstore"
)

// plannerStore is the subset of objectstore.Store the planner runner
// needs.
type plannerStore interface {
	GetLatestFacts(ctx context.Context, v any) error
	GetLatestDrift(ctx context.Context, v any) error
}

// PlannerRunner implements the planner runner (§4.6): given the current
// facts, drift classification, and the caller-supplied governance
// suggestions (the union of matching pkg/policy SuggestedActionRule
// actions), emits a ranked remediation list. Ranking is deterministic:
// suggestions keep the order they arrive in (governance's own rule
// ordering already encodes priority), each annotated with the drift level/
// type that motivated it.
type PlannerRunner struct {
	store plannerStore
}

// NewPlannerRunner creates a PlannerRunner.
func NewPlannerRunner(store plannerStore) *PlannerRunner {
	return &PlannerRunner{store: store}
}

// Run implements Runner.
func (r *PlannerRunner) Run(ctx context.Context, in Input) (Output, error) {
	var drift events.DriftAnalyzedPayload
	if err := r.store.GetLatestDrift(ctx, &drift); err != nil && err != objectstore.ErrNotFound {
		return Output{}, fmt.Errorf("load drift for scope %s: %w", in.ScopeID, err)
	}

	reason := "no drift on record"
	if drift.Level != "" {
		reason = fmt.Sprintf("drift level %s (%s)", drift.Level, strings.Join(drift.Types, ","))
	}

	actions := make([]events.RankedAction, 0, len(in.GovernanceSuggestions))
	for i, suggestion := range in.GovernanceSuggestions {
		actions = append(actions, events.RankedAction{
			Action: suggestion,
			Rank:   i + 1,
			Reason: reason,
		})
	}

	payload := events.ActionsPlannedPayload{ScopeID: in.ScopeID, Actions: actions}

	hashParts := make([]string, 0, len(actions))
	for _, a := range actions {
		hashParts = append(hashParts, a.Action)
	}
	hash := activation.ContentHash(hashParts...)

	return Output{Payload: payload, Hash: hash}, nil
}
