package governance

import (
	"context"
	"strings"
	"testing"

	"github.com/governed-swarm/swarmrt/pkg/agent/controller"
	"github.com/governed-swarm/swarmrt/pkg/authz"
	"github.com/governed-swarm/swarmrt/pkg/config"
	"github.com/governed-swarm/swarmrt/pkg/llm"
	"github.com/governed-swarm/swarmrt/pkg/policy"
	"github.com/governed-swarm/swarmrt/pkg/stategraph"
)

type scriptedReasoner struct {
	responses []string
	calls     int
}

func (s *scriptedReasoner) Reason(_ context.Context, _ llm.ReasonRequest) (*llm.ReasonResponse, error) {
	if s.calls >= len(s.responses) {
		return &llm.ReasonResponse{Text: "Thought: stuck\nFinal Answer: undecided"}, nil
	}
	text := s.responses[s.calls]
	s.calls++
	return &llm.ReasonResponse{Text: text}, nil
}

func TestLLMTools_Execute(t *testing.T) {
	checker := authz.NewStaticChecker([]authz.Tuple{{Principal: "governance", Relation: authz.Writer, Object: "*"}})
	tools := &llmTools{
		state:  &stategraph.State{LastNode: stategraph.NodeContextIngested, Epoch: 3},
		drift:  policy.DriftInfo{Level: config.DriftLow},
		policy: &fakePolicy{allowed: true, version: "v1"},
		authz:  checker,
		scope:  "s1",
		from:   stategraph.NodeContextIngested,
		to:     stategraph.NodeFactsExtracted,
	}

	result, err := tools.Execute(context.Background(), controller.ToolReadState, "")
	if err != nil || result.Content != "node=ContextIngested epoch=3" {
		t.Fatalf("unexpected readState result: %+v, err=%v", result, err)
	}

	result, err = tools.Execute(context.Background(), controller.ToolCheckPolicy, "")
	if err != nil || !strings.Contains(result.Content, "allowed=true") {
		t.Fatalf("unexpected checkPolicy result: %+v, err=%v", result, err)
	}
}

func TestHandle_LLMApprovalSkipsDeterministicPath(t *testing.T) {
	state := &stategraph.State{ScopeID: "s1", RunID: "run1", LastNode: stategraph.NodeContextIngested, Epoch: 1}
	busPub := &fakeBusPublisher{}
	pub := &fakePublisher{}

	agent := newTestAgent(state, &fakeDrift{}, &fakePolicy{allowed: false, reason: "would_have_blocked"},
		&fakeMode{mode: config.ModeYOLO}, pub, busPub, &fakeReview{}, nil)
	agent.deps.LLM = controller.New(&scriptedReasoner{responses: []string{
		"Thought: looks fine\nAction: publishApproval\nAction Input: override",
	}}, 6)

	err := agent.handle(context.Background(), proposalBytes(t, 1))
	if err != nil {
		t.Fatalf("handle returned error: %v", err)
	}
	if len(busPub.subjects) != 1 || busPub.subjects[0] != "swarm.actions.advance_state" {
		t.Fatalf("expected approval published, got %+v", busPub.subjects)
	}
}

func TestHandle_LLMFallsBackToDeterministicOnNoConclusion(t *testing.T) {
	state := &stategraph.State{ScopeID: "s1", RunID: "run1", LastNode: stategraph.NodeContextIngested, Epoch: 1}
	busPub := &fakeBusPublisher{}
	pub := &fakePublisher{}

	agent := newTestAgent(state, &fakeDrift{}, &fakePolicy{allowed: true, version: "v1"},
		&fakeMode{mode: config.ModeYOLO}, pub, busPub, &fakeReview{}, nil)
	agent.deps.LLM = controller.New(&scriptedReasoner{}, 1)

	err := agent.handle(context.Background(), proposalBytes(t, 1))
	if err != nil {
		t.Fatalf("handle returned error: %v", err)
	}
	if len(busPub.subjects) != 1 || busPub.subjects[0] != "swarm.actions.advance_state" {
		t.Fatalf("expected deterministic approval after LLM fallback, got %+v", busPub.subjects)
	}
}

func TestHandle_MasterModeNeverCallsLLM(t *testing.T) {
	state := &stategraph.State{ScopeID: "s1", RunID: "run1", LastNode: stategraph.NodeContextIngested, Epoch: 1}
	busPub := &fakeBusPublisher{}
	pub := &fakePublisher{}

	agent := newTestAgent(state, &fakeDrift{}, &fakePolicy{allowed: false}, &fakeMode{mode: config.ModeMaster}, pub, busPub, &fakeReview{}, nil)
	reasoner := &scriptedReasoner{}
	agent.deps.LLM = controller.New(reasoner, 6)

	err := agent.handle(context.Background(), proposalBytes(t, 1))
	if err != nil {
		t.Fatalf("handle returned error: %v", err)
	}
	if reasoner.calls != 0 {
		t.Fatalf("expected LLM never called in MASTER mode, got %d calls", reasoner.calls)
	}
}
