package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/governed-swarm/swarmrt/pkg/llm"
)

type scriptedLLM struct {
	responses []string
	calls     int
	err       error
}

func (s *scriptedLLM) Reason(_ context.Context, _ llm.ReasonRequest) (*llm.ReasonResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.calls >= len(s.responses) {
		return &llm.ReasonResponse{Text: "Thought: stuck\nFinal Answer: nothing"}, nil
	}
	text := s.responses[s.calls]
	s.calls++
	return &llm.ReasonResponse{Text: text}, nil
}

type stubTools struct {
	defs []ToolDefinition
}

func (s *stubTools) ListTools() []ToolDefinition { return s.defs }

func (s *stubTools) Execute(_ context.Context, name, _ string) (*ToolResult, error) {
	return &ToolResult{Name: name, Content: "ok"}, nil
}

func testTools() *stubTools {
	return &stubTools{defs: []ToolDefinition{
		{Name: ToolReadState, Description: "reads state"},
		{Name: ToolReadDrift, Description: "reads drift"},
		{Name: ToolCheckTransition, Description: "checks transition"},
		{Name: ToolCheckPolicy, Description: "checks policy"},
		{Name: ToolPublishApproval, Description: "approves"},
		{Name: ToolPublishRejection, Description: "rejects"},
	}}
}

func TestLoop_ConcludesOnPublishApproval(t *testing.T) {
	llmClient := &scriptedLLM{responses: []string{
		"Thought: looks fine\nAction: publishApproval\nAction Input: rules pass",
	}}
	loop := New(llmClient, 6)

	decision, ok := loop.Run(context.Background(), "system prompt", testTools())
	if !ok {
		t.Fatalf("expected loop to conclude")
	}
	if decision.Tool != ToolPublishApproval || decision.Input != "rules pass" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
	if llmClient.calls != 1 {
		t.Fatalf("expected exactly 1 LLM call, got %d", llmClient.calls)
	}
}

func TestLoop_ExecutesToolsBeforeConcluding(t *testing.T) {
	llmClient := &scriptedLLM{responses: []string{
		"Thought: check state first\nAction: readState\nAction Input:",
		"Thought: check transition\nAction: checkTransition\nAction Input: draft->submitted",
		"Thought: done\nAction: publishRejection\nAction Input: transition blocked",
	}}
	loop := New(llmClient, 6)

	decision, ok := loop.Run(context.Background(), "system prompt", testTools())
	if !ok {
		t.Fatalf("expected loop to conclude")
	}
	if decision.Tool != ToolPublishRejection {
		t.Fatalf("expected publishRejection, got %s", decision.Tool)
	}
	if llmClient.calls != 3 {
		t.Fatalf("expected 3 LLM calls, got %d", llmClient.calls)
	}
}

func TestLoop_FallsBackOnLLMError(t *testing.T) {
	llmClient := &scriptedLLM{err: errors.New("timeout")}
	loop := New(llmClient, 6)

	_, ok := loop.Run(context.Background(), "system prompt", testTools())
	if ok {
		t.Fatalf("expected fallback (ok=false) on LLM error")
	}
}

func TestLoop_FallsBackWhenIterationsExhausted(t *testing.T) {
	llmClient := &scriptedLLM{responses: []string{
		"Thought: hmm\nAction: readState\nAction Input:",
		"Thought: hmm again\nAction: readDrift\nAction Input:",
	}}
	loop := New(llmClient, 2)

	_, ok := loop.Run(context.Background(), "system prompt", testTools())
	if ok {
		t.Fatalf("expected fallback when max iterations exhausted without a publish tool")
	}
}

func TestLoop_UnknownToolGetsObservationNotFallback(t *testing.T) {
	llmClient := &scriptedLLM{responses: []string{
		"Thought: try something weird\nAction: deleteEverything\nAction Input:",
		"Thought: ok fine\nAction: publishApproval\nAction Input: after correction",
	}}
	loop := New(llmClient, 6)

	decision, ok := loop.Run(context.Background(), "system prompt", testTools())
	if !ok {
		t.Fatalf("expected loop to recover and conclude")
	}
	if decision.Tool != ToolPublishApproval {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestLoop_BareFinalAnswerIsNudgedNotAccepted(t *testing.T) {
	llmClient := &scriptedLLM{responses: []string{
		"Thought: I think it's fine\nFinal Answer: approved",
		"Thought: ok\nAction: publishApproval\nAction Input: fine",
	}}
	loop := New(llmClient, 6)

	decision, ok := loop.Run(context.Background(), "system prompt", testTools())
	if !ok {
		t.Fatalf("expected loop to conclude after nudge")
	}
	if decision.Tool != ToolPublishApproval {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestIsPublishTool(t *testing.T) {
	if !isPublishTool(ToolPublishApproval) || !isPublishTool(ToolPublishRejection) {
		t.Fatalf("publish tools should be recognized")
	}
	if isPublishTool(ToolReadState) {
		t.Fatalf("readState is not a publish tool")
	}
}
