package activation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_FreshScopeAllowsFirstActivation(t *testing.T) {
	d := Evaluate(Input{
		Now:         time.Now(),
		Cfg:         FilterConfig{Role: "facts-role"},
		Mem:         nil,
		LatestSeq:   5,
		CurrentHash: "abc",
		CurrentNode: "ContextIngested",
	})
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(5), d.Context.LatestSeq)
}

func TestEvaluate_CooldownRejectsAndReportsRetryAfter(t *testing.T) {
	now := time.Now()
	last := now.Add(-1 * time.Second)
	d := Evaluate(Input{
		Now:         now,
		Cfg:         FilterConfig{Role: "facts-role", CooldownMs: 5000},
		Mem:         &Memory{LastActivatedAt: &last, LastProcessedSeq: 1},
		LatestSeq:   5,
		CurrentHash: "abc",
	})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCooldown, d.Reason)
	assert.InDelta(t, 4*time.Second, d.RetryAfter, float64(100*time.Millisecond))
}

func TestEvaluate_NoNewInputRejects(t *testing.T) {
	d := Evaluate(Input{
		Now:         time.Now(),
		Cfg:         FilterConfig{Role: "facts-role", MinNewSeqSinceLast: 2},
		Mem:         &Memory{LastProcessedSeq: 5},
		LatestSeq:   6,
		CurrentHash: "abc",
	})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoNewInput, d.Reason)
}

func TestEvaluate_DuplicateHashRejects(t *testing.T) {
	d := Evaluate(Input{
		Now:         time.Now(),
		Cfg:         FilterConfig{Role: "facts-role"},
		Mem:         &Memory{LastProcessedSeq: 1, LastHash: "same"},
		LatestSeq:   2,
		CurrentHash: "same",
	})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDuplicateHash, d.Reason)
}

func TestEvaluate_DuplicateHashUsesDriftHashWhenConfigured(t *testing.T) {
	d := Evaluate(Input{
		Now:          time.Now(),
		Cfg:          FilterConfig{Role: "drift-role"},
		Mem:          &Memory{LastProcessedSeq: 1, LastHash: "unrelated", LastDriftHash: "same"},
		LatestSeq:    2,
		CurrentHash:  "same",
		UseDriftHash: true,
	})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDuplicateHash, d.Reason)
}

func TestEvaluate_AnchorNodeMismatchRejects(t *testing.T) {
	d := Evaluate(Input{
		Now:         time.Now(),
		Cfg:         FilterConfig{Role: "drift-role", AnchorNode: "FactsExtracted"},
		Mem:         &Memory{LastProcessedSeq: 0},
		LatestSeq:   1,
		CurrentHash: "abc",
		CurrentNode: "ContextIngested",
	})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonAnchorMismatch, d.Reason)
}

func TestContentHash_DeterministicAndSeparatorSafe(t *testing.T) {
	assert.Equal(t, ContentHash("a", "b"), ContentHash("a", "b"))
	assert.NotEqual(t, ContentHash("ab", "c"), ContentHash("a", "bc"))
}
