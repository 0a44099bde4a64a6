package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/governed-swarm/swarmrt/pkg/config"
	"github.com/governed-swarm/swarmrt/pkg/stategraph"
)

func testFile() *config.PolicyFile {
	return &config.PolicyFile{
		Version: "v1",
		Mode:    config.ModeYOLO,
		Rules: []config.SuggestedActionRule{
			{Name: "escalate-on-contradiction", When: config.DriftCondition{
				DriftLevel: []config.DriftLevel{config.DriftHigh},
				DriftType:  []config.DriftType{config.DriftTypeContradiction},
			}, Action: "escalate"},
			{Name: "notify-on-any-high", When: config.DriftCondition{
				DriftLevel: []config.DriftLevel{config.DriftHigh},
			}, Action: "notify_owner"},
		},
		TransitionRules: []config.TransitionGate{
			{From: "FactsExtracted", To: "DriftChecked", BlockWhen: config.DriftCondition{
				DriftLevel: []config.DriftLevel{config.DriftHigh},
			}, Reason: "drift_too_high"},
		},
	}
}

func TestRulesBinding_SuggestedActionsUnion(t *testing.T) {
	engine := New(testFile(), RulesBinding{})
	record, allowed, err := engine.Evaluate(context.Background(), Context{
		ScopeID: "s1",
		Drift:   DriftInfo{Level: config.DriftHigh, Types: []config.DriftType{config.DriftTypeContradiction}},
	})
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.ElementsMatch(t, []string{"escalate", "notify_owner"}, record.SuggestedActions)
}

func TestRulesBinding_TransitionGateBlocks(t *testing.T) {
	engine := New(testFile(), RulesBinding{})
	record, allowed, err := engine.Evaluate(context.Background(), Context{
		ScopeID: "s1",
		From:    stategraph.NodeFactsExtracted,
		To:      stategraph.NodeDriftChecked,
		Drift:   DriftInfo{Level: config.DriftHigh},
	})
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "drift_too_high", record.Reason)
}

func TestRulesBinding_TransitionAllowedWhenDriftLow(t *testing.T) {
	engine := New(testFile(), RulesBinding{})
	_, allowed, err := engine.Evaluate(context.Background(), Context{
		ScopeID: "s1",
		From:    stategraph.NodeFactsExtracted,
		To:      stategraph.NodeDriftChecked,
		Drift:   DriftInfo{Level: config.DriftLow},
	})
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestEngine_CanTransitionImplementsTransitionGate(t *testing.T) {
	engine := New(testFile(), RulesBinding{})
	allowed, reason, err := engine.CanTransition(context.Background(), "s1",
		stategraph.NodeFactsExtracted, stategraph.NodeDriftChecked,
		DriftInfo{Level: config.DriftHigh})
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "drift_too_high", reason)
}

func TestExprBinding_MatchesExpressionReason(t *testing.T) {
	file := testFile()
	// Zero out the structured BlockWhen so only ExprBinding's own
	// expression evaluator (not RulesBinding's delegate) can block this
	// transition — isolates what this test actually exercises.
	file.TransitionRules[0].BlockWhen = config.DriftCondition{}
	file.TransitionRules[0].Reason = "drift_level >= medium"
	engine := New(file, ExprBinding{})

	_, allowed, err := engine.Evaluate(context.Background(), Context{
		ScopeID: "s1",
		From:    stategraph.NodeFactsExtracted,
		To:      stategraph.NodeDriftChecked,
		Drift:   DriftInfo{Level: config.DriftHigh},
	})
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestExprBinding_IgnoresNonExpressionGateReason(t *testing.T) {
	engine := New(testFile(), ExprBinding{})
	_, allowed, err := engine.Evaluate(context.Background(), Context{
		ScopeID: "s1",
		From:    stategraph.NodeFactsExtracted,
		To:      stategraph.NodeDriftChecked,
		Drift:   DriftInfo{Level: config.DriftHigh},
	})
	require.NoError(t, err)
	assert.True(t, allowed) // "drift_too_high" isn't a 3-field expression
}

func TestBindingByName(t *testing.T) {
	b, err := BindingByName("")
	require.NoError(t, err)
	assert.Equal(t, "rules", b.Name())

	_, err = BindingByName("nonexistent")
	assert.Error(t, err)
}
