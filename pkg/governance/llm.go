package governance

import (
	"context"
	"fmt"

	"github.com/governed-swarm/swarmrt/pkg/agent/controller"
	"github.com/governed-swarm/swarmrt/pkg/authz"
	"github.com/governed-swarm/swarmrt/pkg/policy"
	"github.com/governed-swarm/swarmrt/pkg/stategraph"
)

// llmTools implements controller.ToolExecutor over the same stores the
// deterministic path uses, scoped to one proposal (SPEC_FULL §C.5).
// checkTransition and checkPolicy both delegate to the configured
// policy.Engine binding (whichever one is active — rules or expr, §4.7),
// so the LLM-backed variant honors the same pluggable policy the
// deterministic path does.
type llmTools struct {
	state  *stategraph.State
	drift  policy.DriftInfo
	policy transitionChecker
	authz  authz.Checker
	scope  string
	from   stategraph.Node
	to     stategraph.Node
}

func (t *llmTools) ListTools() []controller.ToolDefinition {
	return []controller.ToolDefinition{
		{Name: controller.ToolReadState, Description: "Returns the current StateGraph node and epoch for this scope. No input."},
		{Name: controller.ToolReadDrift, Description: "Returns the latest drift level and types for this scope. No input."},
		{Name: controller.ToolCheckTransition, Description: "Checks whether the proposed from->to transition is allowed given current drift. No input."},
		{Name: controller.ToolCheckPolicy, Description: "Runs the full policy evaluation: transition gate plus writer authorization on the target node. No input."},
		{Name: controller.ToolPublishApproval, Description: "Concludes by approving the proposal. Input: a short reason."},
		{Name: controller.ToolPublishRejection, Description: "Concludes by rejecting the proposal. Input: a short reason."},
	}
}

func (t *llmTools) Execute(ctx context.Context, name, _ string) (*controller.ToolResult, error) {
	switch name {
	case controller.ToolReadState:
		return &controller.ToolResult{Name: name, Content: fmt.Sprintf("node=%s epoch=%d", t.state.LastNode, t.state.Epoch)}, nil

	case controller.ToolReadDrift:
		return &controller.ToolResult{Name: name, Content: fmt.Sprintf("level=%s types=%v", t.drift.Level, t.drift.Types)}, nil

	case controller.ToolCheckTransition:
		record, allowed, err := t.policy.Evaluate(ctx, policy.Context{ScopeID: t.scope, From: t.from, To: t.to, Drift: t.drift})
		if err != nil {
			return nil, fmt.Errorf("check transition: %w", err)
		}
		return &controller.ToolResult{Name: name, Content: fmt.Sprintf("allowed=%t reason=%s", allowed, record.Reason)}, nil

	case controller.ToolCheckPolicy:
		record, allowed, err := t.policy.Evaluate(ctx, policy.Context{ScopeID: t.scope, From: t.from, To: t.to, Drift: t.drift})
		if err != nil {
			return nil, fmt.Errorf("check policy: %w", err)
		}
		if !allowed {
			return &controller.ToolResult{Name: name, Content: fmt.Sprintf("allowed=false reason=%s", record.Reason)}, nil
		}
		authzDecision := authz.Authorize(ctx, t.authz, "governance", string(t.to))
		return &controller.ToolResult{Name: name, Content: fmt.Sprintf("allowed=%t reason=%s", authzDecision.Allowed, authzDecision.Reason)}, nil

	default:
		return &controller.ToolResult{Name: name, Content: "unhandled tool", IsError: true}, nil
	}
}

var _ controller.ToolExecutor = (*llmTools)(nil)

// llmSystemPrompt builds the initial ReAct prompt for one proposal. Kept
// deliberately short: the tools themselves are the source of truth, not
// the prompt's description of them.
func llmSystemPrompt(p proposal, state *stategraph.State, drift policy.DriftInfo) string {
	return fmt.Sprintf(`You are the governance agent deciding whether to approve or reject a proposed state transition.

Proposal: scope=%s from=%s to=%s expected_epoch=%d
Current state: node=%s epoch=%d
Current drift: level=%s

Use the available tools to check the transition and policy before deciding.
You MUST end by calling either publishApproval or publishRejection — a plain
Final Answer does not decide anything.

%s`, p.ScopeID, p.From, p.To, p.ExpectedEpoch, state.LastNode, state.Epoch, drift.Level,
		controller.GetFormatCorrectionReminder())
}
