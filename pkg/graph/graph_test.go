package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitContradiction(t *testing.T) {
	left, right, ok := splitContradiction(`NLI: "the deploy succeeded" vs "the deploy failed silently"`)
	assert.True(t, ok)
	assert.Equal(t, "the deploy succeeded", left)
	assert.Equal(t, "the deploy failed silently", right)
}

func TestSplitContradiction_NoVsSeparator(t *testing.T) {
	_, _, ok := splitContradiction(`NLI: "only one side"`)
	assert.False(t, ok)
}

func TestResolveClaim_ExactThenPrefix(t *testing.T) {
	claimIDs := map[string]int64{
		"the deploy succeeded at 10:02": 1,
		"rollback was triggered":        2,
	}

	id, ok := resolveClaim("the deploy succeeded at 10:02", claimIDs)
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)

	id, ok = resolveClaim("the deploy succeeded", claimIDs)
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)

	_, ok = resolveClaim("nothing matches this", claimIDs)
	assert.False(t, ok)
}

func TestReferencesClaim_SubstringHeuristic(t *testing.T) {
	assert.True(t, referencesClaim("we confirmed the deploy succeeded after review", "the deploy succeeded"))
	assert.False(t, referencesClaim("totally unrelated text", "the deploy succeeded"))
}
