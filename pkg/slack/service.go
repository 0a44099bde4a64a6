// Package slack implements the best-effort operational webhook notifier
// (SPEC_FULL §C.3), fired on governance rejections, MITL pending-approval
// creation, and finality certificates so a human reviewer doesn't have
// to poll GET /pending. Adapted from the teacher's pkg/slack, which
// posted bot-token chat.postMessage calls threaded by a fingerprint
// match against recent channel history; this domain has no
// Slack-originated alert to thread against, so it's simplified to a
// one-way incoming-webhook post (config.NotifyConfig has a WebhookURL,
// not a bot token), keeping the same Block Kit message-building shape
// and the same nil-safe, fail-open service contract.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/governed-swarm/swarmrt/pkg/config"
)

// Service posts operational notifications to a Slack incoming webhook.
// Nil-safe: every method is a no-op when the service itself is nil or
// disabled, so callers can wire an always-present *Service regardless of
// configuration.
type Service struct {
	webhookURL string
	channel    string
	logger     *slog.Logger
}

// NewService builds a Service from configuration. Returns nil if
// notifications are disabled or no webhook URL is configured, so the
// zero value is always safe to call through.
func NewService(cfg config.NotifyConfig) *Service {
	if !cfg.Enabled || cfg.WebhookURL == "" {
		return nil
	}
	return &Service{
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		logger:     slog.Default().With("component", "slack-notify"),
	}
}

// NotifyRejection fires when governance rejects a proposed transition
// (SPEC_FULL §C.3). Fail-open: errors are logged, never returned.
func (s *Service) NotifyRejection(ctx context.Context, scopeID, fromNode, toNode, reason string) {
	if s == nil {
		return
	}
	s.post(ctx, BuildRejectionMessage(scopeID, fromNode, toNode, reason))
}

// NotifyPendingApproval fires when a proposal is queued to the Human-
// Review Queue (SPEC_FULL §C.3).
func (s *Service) NotifyPendingApproval(ctx context.Context, proposalID, scopeID string) {
	if s == nil {
		return
	}
	s.post(ctx, BuildPendingApprovalMessage(proposalID, scopeID))
}

// NotifyCertificate fires when a Finality Certificate is issued
// (SPEC_FULL §C.3).
func (s *Service) NotifyCertificate(ctx context.Context, scopeID, outcome string) {
	if s == nil {
		return
	}
	s.post(ctx, BuildCertificateMessage(scopeID, outcome))
}

func (s *Service) post(ctx context.Context, blocks []goslack.Block) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	msg := &goslack.WebhookMessage{
		Channel: s.channel,
		Blocks:  &goslack.Blocks{BlockSet: blocks},
	}
	if err := goslack.PostWebhookContext(ctx, s.webhookURL, msg); err != nil {
		s.logger.Error("slack webhook post failed", "error", fmt.Errorf("post webhook: %w", err))
	}
}
