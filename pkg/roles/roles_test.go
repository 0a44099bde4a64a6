package roles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/governed-swarm/swarmrt/pkg/events"
	"github.com/governed-swarm/swarmrt/pkg/llm"
	"github.com/governed-swarm/swarmrt/pkg/objectstore"
)

type fakeExtraction struct {
	resp *llm.ExtractResponse
}

func (f *fakeExtraction) Extract(context.Context, llm.ExtractRequest) (*llm.ExtractResponse, error) {
	return f.resp, nil
}

type fakeStore struct {
	facts    events.FactsExtractedPayload
	drift    events.DriftAnalyzedPayload
	hasFacts bool
	hasDrift bool

	putFacts any
	putDrift any
}

func (s *fakeStore) PutFacts(_ context.Context, v any) error { s.putFacts = v; return nil }
func (s *fakeStore) PutDrift(_ context.Context, v any) error { s.putDrift = v; return nil }

func (s *fakeStore) GetLatestFacts(_ context.Context, v any) error {
	if !s.hasFacts {
		return objectstore.ErrNotFound
	}
	*v.(*events.FactsExtractedPayload) = s.facts
	return nil
}

func (s *fakeStore) GetLatestDrift(_ context.Context, v any) error {
	if !s.hasDrift {
		return objectstore.ErrNotFound
	}
	*v.(*events.DriftAnalyzedPayload) = s.drift
	return nil
}

func TestFactsRunner_IdempotentHashForIdenticalExtraction(t *testing.T) {
	resp := &llm.ExtractResponse{
		Facts: map[string]any{
			"claims": []string{"a"},
			"goals":  []string{},
			"risks":  []string{},
		},
	}
	runner := NewFactsRunner(&fakeExtraction{resp: resp}, &fakeStore{})

	out1, err := runner.Run(context.Background(), Input{ScopeID: "s1"})
	require.NoError(t, err)
	out2, err := runner.Run(context.Background(), Input{ScopeID: "s1"})
	require.NoError(t, err)

	assert.Equal(t, out1.Hash, out2.Hash)
	assert.NotEmpty(t, out1.Hash)
}

func TestDriftRunner_PersistsDriftAndTagsScope(t *testing.T) {
	store := &fakeStore{
		facts:    events.FactsExtractedPayload{ScopeID: "s1", Claims: []string{"a"}},
		hasFacts: true,
	}
	resp := &llm.ExtractResponse{
		Drift: map[string]any{"level": "medium", "types": []string{"factual"}, "notes": "n"},
	}
	runner := NewDriftRunner(&fakeExtraction{resp: resp}, store)

	out, err := runner.Run(context.Background(), Input{ScopeID: "s1"})
	require.NoError(t, err)

	persisted := store.putDrift.(events.DriftAnalyzedPayload)
	assert.Equal(t, "s1", persisted.ScopeID)
	assert.Equal(t, "medium", persisted.Level)
	assert.NotEmpty(t, out.Hash)
}

func TestPlannerRunner_RanksSuggestionsInOrder(t *testing.T) {
	store := &fakeStore{
		drift:    events.DriftAnalyzedPayload{Level: "high", Types: []string{"contradiction"}},
		hasDrift: true,
	}
	runner := NewPlannerRunner(store)

	out, err := runner.Run(context.Background(), Input{
		ScopeID:               "s1",
		GovernanceSuggestions: []string{"escalate", "notify_owner"},
	})
	require.NoError(t, err)

	payload := out.Payload.(events.ActionsPlannedPayload)
	require.Len(t, payload.Actions, 2)
	assert.Equal(t, "escalate", payload.Actions[0].Action)
	assert.Equal(t, 1, payload.Actions[0].Rank)
	assert.Contains(t, payload.Actions[0].Reason, "high")
}

func TestPlannerRunner_EmptySuggestionsYieldsEmptyPlan(t *testing.T) {
	runner := NewPlannerRunner(&fakeStore{})
	out, err := runner.Run(context.Background(), Input{ScopeID: "s1"})
	require.NoError(t, err)
	assert.Empty(t, out.Payload.(events.ActionsPlannedPayload).Actions)
}
