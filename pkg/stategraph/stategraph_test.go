package stategraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextNode_CyclesThroughFixedStates(t *testing.T) {
	to, ok := NextNode(NodeContextIngested)
	assert.True(t, ok)
	assert.Equal(t, NodeFactsExtracted, to)

	to, ok = NextNode(NodeFactsExtracted)
	assert.True(t, ok)
	assert.Equal(t, NodeDriftChecked, to)

	to, ok = NextNode(NodeDriftChecked)
	assert.True(t, ok)
	assert.Equal(t, NodeContextIngested, to)
}

func TestNextNode_UnknownNodeHasNoSuccessor(t *testing.T) {
	_, ok := NextNode(Node("NotARealNode"))
	assert.False(t, ok)
}

func TestErrTransitionDenied_ErrorIncludesReason(t *testing.T) {
	err := &ErrTransitionDenied{Reason: "drift too high"}
	assert.Contains(t, err.Error(), "drift too high")
}
