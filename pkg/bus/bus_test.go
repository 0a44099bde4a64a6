package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeSubjects_DedupesAndAppends(t *testing.T) {
	existing := []string{"swarm.events.*", "swarm.jobs.*"}
	additional := []string{"swarm.jobs.*", "swarm.proposals.*"}

	got := mergeSubjects(existing, additional)

	assert.Equal(t, []string{"swarm.events.*", "swarm.jobs.*", "swarm.proposals.*"}, got)
}

func TestMergeSubjects_EmptyAdditionalIsNoop(t *testing.T) {
	existing := []string{"swarm.actions.*"}

	got := mergeSubjects(existing, nil)

	assert.Equal(t, existing, got)
}
