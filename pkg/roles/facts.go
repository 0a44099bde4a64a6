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

// factsTailDepth is "the last N WAL entries" (§4.6); N is not pinned by
// the reference, chosen generously enough to give the extraction worker
// useful context without an unbounded request body.
const factsTailDepth = 50

// extraction is the subset of llm.ExtractionClient the facts runner needs.
type extraction interface {
	Extract(ctx context.Context, req llm.ExtractRequest) (*llm.ExtractResponse, error)
}

// factsStore is the subset of objectstore.Store the facts runner needs.
type factsStore interface {
	PutFacts(ctx context.Context, v any) error
	GetLatestFacts(ctx context.Context, v any) error
}

// FactsRunner implements the facts runner (§4.6): loads the last N WAL
// entries, posts them and the previous facts to the extraction worker,
// stores the result to facts/latest.json plus a history key, and returns
// the new facts hash for the activation filter's next dedup check.
type FactsRunner struct {
	extraction extraction
	store      factsStore
}

// NewFactsRunner creates a FactsRunner.
func NewFactsRunner(extraction extraction, store factsStore) *FactsRunner {
	return &FactsRunner{extraction: extraction, store: store}
}

// Run implements Runner.
func (r *FactsRunner) Run(ctx context.Context, in Input) (Output, error) {
	contextStrings := make([]string, 0, len(in.StoredContext))
	for _, env := range in.StoredContext {
		encoded, err := json.Marshal(env)
		if err != nil {
			return Output{}, fmt.Errorf("marshal stored context entry: %w", err)
		}
		contextStrings = append(contextStrings, string(encoded))
	}

	var previousFacts events.FactsExtractedPayload
	if err := r.store.GetLatestFacts(ctx, &previousFacts); err != nil {
		if err != objectstore.ErrNotFound {
			return Output{}, fmt.Errorf("load previous facts: %w", err)
		}
		// No prior extraction: previousFacts stays zero-valued.
	}

	resp, err := r.extraction.Extract(ctx, llm.ExtractRequest{
		Context:       contextStrings,
		PreviousFacts: previousFacts,
	})
	if err != nil {
		return Output{}, fmt.Errorf("extract facts for scope %s: %w", in.ScopeID, err)
	}

	facts, err := decodeFacts(in.ScopeID, resp.Facts)
	if err != nil {
		return Output{}, err
	}

	// Idempotent under identical input: the hash is a pure function of
	// the extracted content, so re-running on the same extraction yields
	// the same hash regardless of how many times it runs.
	facts.FactsHash = activation.ContentHash(
		strings.Join(facts.Claims, "\x1f"),
		strings.Join(facts.Goals, "\x1f"),
		strings.Join(facts.Risks, "\x1f"),
		strings.Join(facts.Contradictions, "\x1f"),
	)

	if err := r.store.PutFacts(ctx, facts); err != nil {
		return Output{}, fmt.Errorf("persist facts for scope %s: %w", in.ScopeID, err)
	}

	return Output{Payload: facts, Hash: facts.FactsHash}, nil
}

func decodeFacts(scopeID string, raw any) (events.FactsExtractedPayload, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return events.FactsExtractedPayload{}, fmt.Errorf("marshal extraction worker facts: %w", err)
	}
	var facts events.FactsExtractedPayload
	if err := json.Unmarshal(encoded, &facts); err != nil {
		return events.FactsExtractedPayload{}, fmt.Errorf("decode extraction worker facts: %w", err)
	}
	facts.ScopeID = scopeID
	return facts, nil
}
