package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/governed-swarm/swarmrt/pkg/activation"
	"github.com/governed-swarm/swarmrt/pkg/events"
	"github.com/governed-swarm/swarmrt/pkg/llm"
	"github.com/governed-swarm/swarmrt/pkg/objectstore"
)

// driftStore is the subset of objectstore.Store the drift runner needs.
type driftStore interface {
	PutDrift(ctx context.Context, v any) error
	GetLatestFacts(ctx context.Context, v any) error
	GetLatestDrift(ctx context.Context, v any) error
}

// DriftRunner implements the drift runner (§4.6): loads the current facts
// and the previous drift record, classifies drift via the same extraction
// worker the facts runner uses (§6: one POST /extract call returns both
// {facts, drift}; this runner submits the current facts as context and
// keeps only the drift half of the response), and persists the
// classification to drift/latest.json plus history.
type DriftRunner struct {
	extraction extraction
	store      driftStore
}

// NewDriftRunner creates a DriftRunner.
func NewDriftRunner(extraction extraction, store driftStore) *DriftRunner {
	return &DriftRunner{extraction: extraction, store: store}
}

// Run implements Runner.
func (r *DriftRunner) Run(ctx context.Context, in Input) (Output, error) {
	var currentFacts events.FactsExtractedPayload
	if err := r.store.GetLatestFacts(ctx, &currentFacts); err != nil {
		return Output{}, fmt.Errorf("load current facts for scope %s: %w", in.ScopeID, err)
	}

	var previousDrift events.DriftAnalyzedPayload
	if err := r.store.GetLatestDrift(ctx, &previousDrift); err != nil {
		if err != objectstore.ErrNotFound {
			return Output{}, fmt.Errorf("load previous drift: %w", err)
		}
		// No prior classification: previousDrift stays zero-valued (level "").
	}

	encodedFacts, err := json.Marshal(currentFacts)
	if err != nil {
		return Output{}, fmt.Errorf("marshal current facts: %w", err)
	}

	resp, err := r.extraction.Extract(ctx, llm.ExtractRequest{
		Context:       []string{string(encodedFacts)},
		PreviousFacts: previousDrift,
	})
	if err != nil {
		return Output{}, fmt.Errorf("classify drift for scope %s: %w", in.ScopeID, err)
	}

	drift, err := decodeDrift(in.ScopeID, resp.Drift)
	if err != nil {
		return Output{}, err
	}

	if err := r.store.PutDrift(ctx, drift); err != nil {
		return Output{}, fmt.Errorf("persist drift for scope %s: %w", in.ScopeID, err)
	}

	hash := activation.ContentHash(drift.Level, strings.Join(drift.Types, "\x1f"), drift.Notes)
	return Output{Payload: drift, Hash: hash}, nil
}

func decodeDrift(scopeID string, raw any) (events.DriftAnalyzedPayload, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return events.DriftAnalyzedPayload{}, fmt.Errorf("marshal extraction worker drift: %w", err)
	}
	var drift events.DriftAnalyzedPayload
	if err := json.Unmarshal(encoded, &drift); err != nil {
		return events.DriftAnalyzedPayload{}, fmt.Errorf("decode extraction worker drift: %w", err)
	}
	drift.ScopeID = scopeID
	return drift, nil
}
