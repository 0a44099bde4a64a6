// Package governance implements the Governance Agent (§4.8): the sole
// consumer of swarm.proposals.> that turns a role's proposed StateGraph
// advance into an approved action, a rejection, or a pending-approval
// record. Adapted from the teacher's pkg/queue.Worker poll loop (the
// same shape pkg/agentloop reworks for swarm.events.>), here driving a
// much shorter per-message sequence with no activation filter or agent
// memory — a proposal is either decided or it isn't.
package governance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/governed-swarm/swarmrt/pkg/agent/controller"
	"github.com/governed-swarm/swarmrt/pkg/authz"
	"github.com/governed-swarm/swarmrt/pkg/bus"
	"github.com/governed-swarm/swarmrt/pkg/config"
	"github.com/governed-swarm/swarmrt/pkg/events"
	"github.com/governed-swarm/swarmrt/pkg/objectstore"
	"github.com/governed-swarm/swarmrt/pkg/policy"
	"github.com/governed-swarm/swarmrt/pkg/stategraph"
)

// proposalsSubject is the wildcard every replica of the governance agent
// pulls from (§4.8: "Consumes proposals on swarm.proposals.>").
const proposalsSubject = "swarm.proposals.>"

const consumerName = "governance-agent"

// busConsumer is the subset of bus.Client the agent needs.
type busConsumer interface {
	Consume(ctx context.Context, stream, subject, consumerName string, handler func([]byte) error, opts bus.ConsumeOptions) (int, error)
}

// busPublisher is the subset of bus.Client the agent needs to publish raw
// (non-envelope) action/rejection/pending messages.
type busPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte) (uint64, error)
}

// stateReader is the subset of stategraph.Store the agent needs.
type stateReader interface {
	LoadState(ctx context.Context, scopeID string) (*stategraph.State, error)
}

// driftLoader is the subset of objectstore.Store the agent needs.
type driftLoader interface {
	GetLatestDrift(ctx context.Context, v any) error
}

// transitionChecker is the subset of policy.Engine the agent needs.
type transitionChecker interface {
	Evaluate(ctx context.Context, ec policy.Context) (policy.Record, bool, error)
}

// modeResolver is the subset of config.Config the agent needs.
type modeResolver interface {
	ModeForScope(scopeID string) config.Mode
}

// resultPublisher is the subset of events.Publisher the agent needs to
// append+fan-out the WAL-visible proposal_approved/proposal_rejected/
// proposal_pending_approval events.
type resultPublisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// reviewQueue is the subset of the Human-Review Queue (§4.13) the agent
// needs for the MITL branch. Implemented by pkg/review.Store.
type reviewQueue interface {
	AddPending(ctx context.Context, proposalID string, proposal, actionPayload any) error
}

// finalityChecker triggers a fire-and-forget finality re-evaluation after
// any proposal is decided (§4.8 step 5). Implemented by
// pkg/finality.Evaluator.
type finalityChecker interface {
	Evaluate(ctx context.Context, scopeID string) error
}

// notifier is the operational webhook notifier (SPEC_FULL §C.3),
// satisfied by pkg/slack.Service. Nil-safe on the implementation side,
// so a *Dependencies with Notifier unset just skips the fire-and-forget
// call below.
type notifier interface {
	NotifyRejection(ctx context.Context, scopeID, fromNode, toNode, reason string)
	NotifyPendingApproval(ctx context.Context, proposalID, scopeID string)
}

// Dependencies bundles everything the Governance Agent needs.
type Dependencies struct {
	Bus          busConsumer
	BusPublisher busPublisher
	Stream       string

	StateGraph stateReader
	Drift      driftLoader
	Policy     transitionChecker
	Mode       modeResolver
	Authz      authz.Checker
	Publisher  resultPublisher
	Review     reviewQueue
	Finality   finalityChecker
	Notifier   notifier

	// LLM, when set, enables the optional LLM-backed variant of step 4
	// (§4.8, SPEC_FULL §C.5). Unset means every proposal takes the
	// deterministic canTransition+authorization path below.
	LLM *controller.Loop
}

// Agent runs the Governance Agent's poll loop.
type Agent struct {
	deps Dependencies
	cfg  config.AgentLoopConfig
}

// New creates an Agent.
func New(deps Dependencies, cfg config.AgentLoopConfig) *Agent {
	return &Agent{deps: deps, cfg: cfg}
}

// Run polls swarm.proposals.> until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	backoff := a.cfg.PollInterval
	log := slog.With("component", "governance")

	for {
		if ctx.Err() != nil {
			log.Info("governance agent shutting down")
			return nil
		}

		processed, err := a.deps.Bus.Consume(ctx, a.deps.Stream, proposalsSubject, consumerName,
			func(raw []byte) error { return a.handle(ctx, raw) },
			bus.ConsumeOptions{MaxMessages: a.cfg.BatchSize, Timeout: 5 * time.Second},
		)
		if err != nil && !errors.Is(ctx.Err(), context.Canceled) {
			log.Error("consume failed", "error", err)
		}

		if processed > 0 {
			backoff = a.cfg.PollInterval
			continue
		}

		select {
		case <-ctx.Done():
			log.Info("governance agent shutting down")
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > a.cfg.MaxPollBackoff {
			backoff = a.cfg.MaxPollBackoff
		}
	}
}

// proposal mirrors pkg/agentloop.Proposal's wire shape (the governance
// agent has no compile-time dependency on pkg/agentloop; it only knows
// the JSON shape published on swarm.proposals.<jobType>).
type proposal struct {
	ProposalID     string `json:"proposal_id"`
	ProposedAction string `json:"proposed_action"`
	ScopeID        string `json:"scope_id"`
	ExpectedEpoch  int64  `json:"expected_epoch"`
	RunID          string `json:"run_id"`
	From           string `json:"from"`
	To             string `json:"to"`
	Mode           string `json:"mode"`
}

// Action is the wire payload governance publishes on
// swarm.actions.advance_state on approval, and the executor consumes.
type Action struct {
	ActionType    string `json:"action_type"`
	Result        string `json:"result"`
	ApprovedBy    string `json:"approved_by"`
	ProposalID    string `json:"proposal_id"`
	ScopeID       string `json:"scope_id"`
	RunID         string `json:"run_id"`
	ExpectedEpoch int64  `json:"expected_epoch"`
	From          string `json:"from"`
	To            string `json:"to"`
}

// Rejection is the wire payload published on swarm.rejections.<action>.
type Rejection struct {
	ActionType string `json:"action_type"`
	ProposalID string `json:"proposal_id"`
	ScopeID    string `json:"scope_id"`
	Reason     string `json:"reason"`
}

// handle implements §4.8 steps 1-5 for one proposal message.
func (a *Agent) handle(ctx context.Context, raw []byte) error {
	log := slog.With("component", "governance")

	var p proposal
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Warn("dropping malformed proposal", "error", err)
		return nil
	}

	// Step 1: ignore anything that isn't a StateGraph advance proposal —
	// swarm.proposals.> may in principle carry other proposal kinds.
	if p.ProposedAction != "advance_state" {
		return nil
	}
	if p.ProposalID == "" {
		p.ProposalID = uuid.NewString()
	}

	state, err := a.deps.StateGraph.LoadState(ctx, p.ScopeID)
	if err != nil {
		return fmt.Errorf("load state for scope %s: %w", p.ScopeID, err)
	}
	if state == nil {
		log.Warn("no StateGraph row for scope, dropping proposal", "scope_id", p.ScopeID)
		return nil
	}

	// Step 2: stale-epoch check.
	if state.Epoch != p.ExpectedEpoch {
		return a.reject(ctx, p, "state_epoch_mismatch")
	}

	// Step 3: load drift + mode.
	var driftPayload events.DriftAnalyzedPayload
	if err := a.deps.Drift.GetLatestDrift(ctx, &driftPayload); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		return fmt.Errorf("load drift for scope %s: %w", p.ScopeID, err)
	}
	drift := policy.DriftInfo{Level: config.DriftLevel(driftPayload.Level)}
	for _, t := range driftPayload.Types {
		drift.Types = append(drift.Types, config.DriftType(t))
	}

	mode := config.Mode(p.Mode)
	if a.deps.Mode != nil {
		mode = a.deps.Mode.ModeForScope(p.ScopeID)
	}

	// Step 4: mode handling. MASTER skips straight to approval (§4.7:
	// "deterministic only; LLM rationale forbidden" — so MASTER never
	// reaches the LLM path either).
	var policyVersion string
	if mode != config.ModeMaster {
		allowed, reason, pv, err := a.evaluate(ctx, p, state, drift, log)
		if err != nil {
			return err
		}
		policyVersion = pv
		if !allowed {
			return a.reject(ctx, p, reason)
		}
	}

	if mode == config.ModeMITL {
		return a.queueForReview(ctx, p)
	}

	return a.approve(ctx, p, policyVersion, mode)
}

// evaluate runs the LLM-backed variant when configured, falling back to
// the deterministic canTransition+authorization path on any error,
// timeout, or non-terminating transcript (§4.8, SPEC_FULL §C.5).
func (a *Agent) evaluate(ctx context.Context, p proposal, state *stategraph.State, drift policy.DriftInfo, log *slog.Logger) (allowed bool, reason string, policyVersion string, err error) {
	if a.deps.LLM != nil {
		if allowed, reason, ok := a.evaluateWithLLM(ctx, p, state, drift); ok {
			return allowed, reason, "llm-reasoning", nil
		}
		log.Warn("LLM-backed governance variant did not conclude, falling back to deterministic path", "scope_id", p.ScopeID)
	}
	return a.evaluateDeterministic(ctx, p, drift, log)
}

// evaluateDeterministic is §4.8 step 4's canTransition + authorization
// check, unchanged from the pre-LLM implementation.
func (a *Agent) evaluateDeterministic(ctx context.Context, p proposal, drift policy.DriftInfo, log *slog.Logger) (allowed bool, reason string, policyVersion string, err error) {
	record, ok, err := a.deps.Policy.Evaluate(ctx, policy.Context{
		ScopeID: p.ScopeID,
		From:    stategraph.Node(p.From),
		To:      stategraph.Node(p.To),
		Drift:   drift,
	})
	if err != nil {
		return false, "", "", fmt.Errorf("evaluate policy for scope %s: %w", p.ScopeID, err)
	}
	if !ok {
		return false, record.Reason, record.PolicyVersion, nil
	}

	authzDecision := authz.Authorize(ctx, a.deps.Authz, "governance", p.To)
	if !authzDecision.Allowed {
		log.Warn("authorization denied, counting policy violation", "scope_id", p.ScopeID, "reason", authzDecision.Reason)
		return false, "authorization_denied", record.PolicyVersion, nil
	}
	return true, "", record.PolicyVersion, nil
}

// evaluateWithLLM drives the bounded tool-calling loop over one
// proposal's readState/readDrift/checkTransition/checkPolicy tools. ok is
// false whenever the loop didn't conclude by invoking a publish tool.
func (a *Agent) evaluateWithLLM(ctx context.Context, p proposal, state *stategraph.State, drift policy.DriftInfo) (allowed bool, reason string, ok bool) {
	tools := &llmTools{
		state:  state,
		drift:  drift,
		policy: a.deps.Policy,
		authz:  a.deps.Authz,
		scope:  p.ScopeID,
		from:   stategraph.Node(p.From),
		to:     stategraph.Node(p.To),
	}

	decision, concluded := a.deps.LLM.Run(ctx, llmSystemPrompt(p, state, drift), tools)
	if !concluded {
		return false, "", false
	}

	switch decision.Tool {
	case controller.ToolPublishApproval:
		return true, decision.Input, true
	case controller.ToolPublishRejection:
		reason := decision.Input
		if reason == "" {
			reason = "llm_rejected"
		}
		return false, reason, true
	default:
		return false, "", false
	}
}

func (a *Agent) approve(ctx context.Context, p proposal, policyVersion string, mode config.Mode) error {
	action := Action{
		ActionType:    "advance_state",
		Result:        "approved",
		ApprovedBy:    "governance",
		ProposalID:    p.ProposalID,
		ScopeID:       p.ScopeID,
		RunID:         p.RunID,
		ExpectedEpoch: p.ExpectedEpoch,
		From:          p.From,
		To:            p.To,
	}
	payload, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal action for scope %s: %w", p.ScopeID, err)
	}
	if _, err := a.deps.BusPublisher.Publish(ctx, "swarm.actions.advance_state", payload); err != nil {
		return fmt.Errorf("publish action for scope %s: %w", p.ScopeID, err)
	}

	reason := "policy_approved"
	if mode == config.ModeMaster {
		reason = "master_override"
	}
	if err := a.deps.Publisher.Publish(ctx, events.Envelope{
		Type:   events.TypeProposalApproved,
		TS:     time.Now().UTC(),
		Source: "governance",
		Payload: events.ProposalDecisionPayload{
			ScopeID:        p.ScopeID,
			ProposalID:     p.ProposalID,
			ProposedAction: p.ProposedAction,
			Reason:         reason,
			PolicyVersion:  policyVersion,
		},
	}); err != nil {
		return fmt.Errorf("publish proposal_approved for scope %s: %w", p.ScopeID, err)
	}

	a.fireFinalityCheck(p.ScopeID)
	return nil
}

func (a *Agent) reject(ctx context.Context, p proposal, reason string) error {
	rejection := Rejection{
		ActionType: "advance_state",
		ProposalID: p.ProposalID,
		ScopeID:    p.ScopeID,
		Reason:     reason,
	}
	payload, err := json.Marshal(rejection)
	if err != nil {
		return fmt.Errorf("marshal rejection for scope %s: %w", p.ScopeID, err)
	}
	if _, err := a.deps.BusPublisher.Publish(ctx, "swarm.rejections.advance_state", payload); err != nil {
		return fmt.Errorf("publish rejection for scope %s: %w", p.ScopeID, err)
	}

	if err := a.deps.Publisher.Publish(ctx, events.Envelope{
		Type:   events.TypeProposalRejected,
		TS:     time.Now().UTC(),
		Source: "governance",
		Payload: events.ProposalDecisionPayload{
			ScopeID:        p.ScopeID,
			ProposalID:     p.ProposalID,
			ProposedAction: p.ProposedAction,
			Reason:         reason,
		},
	}); err != nil {
		return fmt.Errorf("publish proposal_rejected for scope %s: %w", p.ScopeID, err)
	}

	if a.deps.Notifier != nil {
		go a.deps.Notifier.NotifyRejection(context.Background(), p.ScopeID, p.From, p.To, reason)
	}

	a.fireFinalityCheck(p.ScopeID)
	return nil
}

func (a *Agent) queueForReview(ctx context.Context, p proposal) error {
	action := Action{
		ActionType:    "advance_state",
		Result:        "approved",
		ApprovedBy:    "human",
		ProposalID:    p.ProposalID,
		ScopeID:       p.ScopeID,
		RunID:         p.RunID,
		ExpectedEpoch: p.ExpectedEpoch,
		From:          p.From,
		To:            p.To,
	}
	if err := a.deps.Review.AddPending(ctx, p.ProposalID, p, action); err != nil {
		return fmt.Errorf("queue proposal %s for review: %w", p.ProposalID, err)
	}

	if err := a.deps.Publisher.Publish(ctx, events.Envelope{
		Type:   events.TypeProposalPendingApproval,
		TS:     time.Now().UTC(),
		Source: "governance",
		Payload: events.ProposalPendingApprovalPayload{
			ScopeID:    p.ScopeID,
			ProposalID: p.ProposalID,
		},
	}); err != nil {
		return fmt.Errorf("publish proposal_pending_approval for scope %s: %w", p.ScopeID, err)
	}

	if a.deps.Notifier != nil {
		go a.deps.Notifier.NotifyPendingApproval(context.Background(), p.ProposalID, p.ScopeID)
	}

	a.fireFinalityCheck(p.ScopeID)
	return nil
}

// fireFinalityCheck runs the finality re-evaluation fire-and-forget (§4.8
// step 5: "After any proposal is decided, fire-and-forget
// runFinalityCheck(scopeId)") so a slow/failing finality evaluation never
// delays the next proposal's ack.
func (a *Agent) fireFinalityCheck(scopeID string) {
	if a.deps.Finality == nil {
		return
	}
	go func() {
		if err := a.deps.Finality.Evaluate(context.Background(), scopeID); err != nil {
			slog.Error("finality check failed", "scope_id", scopeID, "error", err)
		}
	}()
}
