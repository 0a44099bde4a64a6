package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

// BuildRejectionMessage builds Block Kit blocks for a governance
// rejection notification.
func BuildRejectionMessage(scopeID, fromNode, toNode, reason string) []goslack.Block {
	text := fmt.Sprintf(":x: *Transition rejected* for scope `%s`\n%s → %s\n*Reason:* %s",
		scopeID, fromNode, toNode, truncate(reason))
	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

// BuildPendingApprovalMessage builds Block Kit blocks for a new
// Human-Review Queue entry.
func BuildPendingApprovalMessage(proposalID, scopeID string) []goslack.Block {
	text := fmt.Sprintf(":hourglass: *Human review requested* for scope `%s`\nProposal: `%s`",
		scopeID, proposalID)
	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

// BuildCertificateMessage builds Block Kit blocks for a Finality
// Certificate notification.
func BuildCertificateMessage(scopeID, outcome string) []goslack.Block {
	emoji := ":white_check_mark:"
	if outcome != "converged" {
		emoji = ":warning:"
	}
	text := fmt.Sprintf("%s *Finality certificate issued* for scope `%s`\n*Outcome:* %s", emoji, scopeID, outcome)
	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

func truncate(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
