package controller

import (
	"context"
	"fmt"

	"github.com/governed-swarm/swarmrt/pkg/llm"
)

// The six tools named by §4.8's LLM-backed variant. Names are bare words
// (not MCP's "server.tool" namespacing) since every tool here is local to
// the governance agent's own stores, not a remote MCP server.
const (
	ToolReadState        = "readState"
	ToolReadDrift        = "readDrift"
	ToolCheckTransition  = "checkTransition"
	ToolCheckPolicy      = "checkPolicy"
	ToolPublishApproval  = "publishApproval"
	ToolPublishRejection = "publishRejection"
)

// ToolExecutor lists and executes the tools available to one loop
// invocation. Implemented by pkg/governance against the proposal it is
// currently deciding.
type ToolExecutor interface {
	ListTools() []ToolDefinition
	Execute(ctx context.Context, name, input string) (*ToolResult, error)
}

// LLMClient is the subset of pkg/llm.ReasonClient this loop calls. An
// interface so tests can substitute a scripted client.
type LLMClient interface {
	Reason(ctx context.Context, req llm.ReasonRequest) (*llm.ReasonResponse, error)
}

// Decision is the terminal publish tool call the loop concluded with.
type Decision struct {
	Tool  string
	Input string
}

// Loop runs the bounded Reason+Act tool-calling loop.
type Loop struct {
	llm           LLMClient
	maxIterations int
}

// New creates a Loop bounded to maxIterations rounds of LLM calls
// (non-positive falls back to 6, per config.DefaultLLMConfig).
func New(client LLMClient, maxIterations int) *Loop {
	if maxIterations <= 0 {
		maxIterations = 6
	}
	return &Loop{llm: client, maxIterations: maxIterations}
}

// Run drives the loop to completion or exhaustion. ok is false whenever
// the deterministic path in pkg/governance must run instead: an LLM
// error, or MaxIterations exhausted without the transcript ending on one
// of the two publish tools (§4.8: "must end by invoking exactly one of
// the two publish tools; otherwise the deterministic path runs as a
// fallback").
func (l *Loop) Run(ctx context.Context, systemPrompt string, tools ToolExecutor) (Decision, bool) {
	toolDefs := tools.ListTools()
	toolNames := make(map[string]bool, len(toolDefs))
	for _, t := range toolDefs {
		toolNames[t.Name] = true
	}

	messages := []llm.ReasonMessage{{Role: "system", Content: systemPrompt}}

	for i := 0; i < l.maxIterations; i++ {
		resp, err := l.llm.Reason(ctx, llm.ReasonRequest{Messages: messages})
		if err != nil {
			return Decision{}, false
		}

		parsed := ParseReActResponse(resp.Text)
		messages = append(messages, llm.ReasonMessage{Role: "assistant", Content: resp.Text})

		var observation string
		switch {
		case parsed.HasAction && isPublishTool(parsed.Action):
			return Decision{Tool: parsed.Action, Input: parsed.ActionInput}, true

		case parsed.HasAction && toolNames[parsed.Action]:
			result, toolErr := tools.Execute(ctx, parsed.Action, parsed.ActionInput)
			if toolErr != nil {
				observation = FormatToolErrorObservation(toolErr)
			} else {
				observation = FormatObservation(result)
			}

		case parsed.HasAction:
			observation = FormatUnknownToolError(parsed.Action,
				fmt.Sprintf("Unknown tool '%s'", parsed.Action), toolDefs)

		case parsed.IsFinalAnswer:
			// A bare Final Answer never decides a proposal — nudge the
			// loop back toward one of the two publish tools instead of
			// treating this as a terminal state.
			observation = "Observation: a Final Answer does not decide a proposal. " +
				"Call publishApproval or publishRejection instead."

		default:
			observation = GetFormatErrorFeedback(parsed)
		}

		messages = append(messages, llm.ReasonMessage{Role: "user", Content: observation})
	}

	return Decision{}, false
}

func isPublishTool(name string) bool {
	return name == ToolPublishApproval || name == ToolPublishRejection
}
