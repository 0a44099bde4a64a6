// Package executor implements the Action Executor (§4.9): the sole
// consumer of swarm.actions.> that performs the StateGraph CAS an
// approved action describes, then hands the pipeline forward. Adapted
// from the same pkg/queue.Worker poll shape pkg/agentloop and
// pkg/governance already rework, here driving the shortest of the
// three per-message sequences.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/governed-swarm/swarmrt/pkg/bus"
	"github.com/governed-swarm/swarmrt/pkg/config"
	"github.com/governed-swarm/swarmrt/pkg/events"
	"github.com/governed-swarm/swarmrt/pkg/objectstore"
	"github.com/governed-swarm/swarmrt/pkg/policy"
	"github.com/governed-swarm/swarmrt/pkg/roles"
	"github.com/governed-swarm/swarmrt/pkg/stategraph"
)

const actionsSubject = "swarm.actions.>"

const consumerName = "action-executor"

// busConsumer is the subset of bus.Client the executor needs.
type busConsumer interface {
	Consume(ctx context.Context, stream, subject, consumerName string, handler func([]byte) error, opts bus.ConsumeOptions) (int, error)
}

// busPublisher is the subset of bus.Client the executor needs to publish
// the next job ping.
type busPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte) (uint64, error)
}

// stateAdvancer is the subset of stategraph.Store the executor needs.
type stateAdvancer interface {
	AdvanceState(ctx context.Context, scopeID string, expectedEpoch int64, gate stategraph.TransitionGate, drift any) (*stategraph.State, error)
}

// driftLoader is the subset of objectstore.Store the executor needs.
type driftLoader interface {
	GetLatestDrift(ctx context.Context, v any) error
}

// resultPublisher is the subset of events.Publisher the executor needs to
// append+fan-out the WAL-visible state_transition event.
type resultPublisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// finalityRecorder persists finality-response decisions to
// scope_finality_decisions (§4.9's "for finality actions").
type finalityRecorder interface {
	RecordDecision(ctx context.Context, scopeID, option string, days *int) error
}

// Dependencies bundles everything the Action Executor needs.
type Dependencies struct {
	Bus          busConsumer
	BusPublisher busPublisher
	Stream       string

	StateGraph stateAdvancer
	Drift      driftLoader
	Gate       stategraph.TransitionGate
	Publisher  resultPublisher
	Finality   finalityRecorder
}

// Executor runs the Action Executor's poll loop.
type Executor struct {
	deps Dependencies
	cfg  config.AgentLoopConfig
}

// New creates an Executor.
func New(deps Dependencies, cfg config.AgentLoopConfig) *Executor {
	return &Executor{deps: deps, cfg: cfg}
}

// Run polls swarm.actions.> until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	backoff := e.cfg.PollInterval
	log := slog.With("component", "executor")

	for {
		if ctx.Err() != nil {
			log.Info("action executor shutting down")
			return nil
		}

		processed, err := e.deps.Bus.Consume(ctx, e.deps.Stream, actionsSubject, consumerName,
			func(raw []byte) error { return e.handle(ctx, raw) },
			bus.ConsumeOptions{MaxMessages: e.cfg.BatchSize, Timeout: 5 * time.Second},
		)
		if err != nil && !errors.Is(ctx.Err(), context.Canceled) {
			log.Error("consume failed", "error", err)
		}

		if processed > 0 {
			backoff = e.cfg.PollInterval
			continue
		}

		select {
		case <-ctx.Done():
			log.Info("action executor shutting down")
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > e.cfg.MaxPollBackoff {
			backoff = e.cfg.MaxPollBackoff
		}
	}
}

// action mirrors pkg/governance.Action's wire shape (the executor has no
// compile-time dependency on pkg/governance; it only knows the JSON shape
// published on swarm.actions.advance_state).
type action struct {
	ActionType    string `json:"action_type"`
	Result        string `json:"result"`
	ApprovedBy    string `json:"approved_by"`
	ProposalID    string `json:"proposal_id"`
	ScopeID       string `json:"scope_id"`
	RunID         string `json:"run_id"`
	ExpectedEpoch int64  `json:"expected_epoch"`
	From          string `json:"from"`
	To            string `json:"to"`

	// Finality-response fields, present only when ActionType == "finality".
	Option string `json:"option,omitempty"`
	Days   *int   `json:"days,omitempty"`
}

// jobPing is the payload published on swarm.jobs.<jobType> (§6).
type jobPing struct {
	ScopeID string `json:"scope_id"`
	RunID   string `json:"run_id"`
}

// handle implements §4.9's two action kinds.
func (e *Executor) handle(ctx context.Context, raw []byte) error {
	log := slog.With("component", "executor")

	var a action
	if err := json.Unmarshal(raw, &a); err != nil {
		log.Warn("dropping malformed action", "error", err)
		return nil
	}

	switch a.ActionType {
	case "finality":
		return e.handleFinality(ctx, a)
	case "advance_state":
		return e.handleAdvanceState(ctx, a)
	default:
		log.Warn("dropping action of unknown type", "action_type", a.ActionType)
		return nil
	}
}

func (e *Executor) handleFinality(ctx context.Context, a action) error {
	if e.deps.Finality == nil {
		return fmt.Errorf("handle finality action for scope %s: no finality recorder configured", a.ScopeID)
	}
	if err := e.deps.Finality.RecordDecision(ctx, a.ScopeID, a.Option, a.Days); err != nil {
		return fmt.Errorf("record finality decision for scope %s: %w", a.ScopeID, err)
	}
	return nil
}

func (e *Executor) handleAdvanceState(ctx context.Context, a action) error {
	log := slog.With("component", "executor")

	// Step 1: a human-approved action skips the governance recheck — the
	// human already decided, so the gate passed is nil.
	var gate stategraph.TransitionGate
	var drift any
	if a.ApprovedBy != "human" {
		// Step 2: reload drift and governance.
		var driftPayload events.DriftAnalyzedPayload
		if err := e.deps.Drift.GetLatestDrift(ctx, &driftPayload); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
			return fmt.Errorf("load drift for scope %s: %w", a.ScopeID, err)
		}
		driftInfo := policy.DriftInfo{Level: config.DriftLevel(driftPayload.Level)}
		for _, t := range driftPayload.Types {
			driftInfo.Types = append(driftInfo.Types, config.DriftType(t))
		}
		gate = e.deps.Gate
		drift = driftInfo
	}

	// Step 3: attempt the CAS.
	updated, err := e.deps.StateGraph.AdvanceState(ctx, a.ScopeID, a.ExpectedEpoch, gate, drift)
	if err != nil {
		if errors.Is(err, stategraph.ErrStaleEpoch) {
			log.Info("already advanced, skipping", "scope_id", a.ScopeID, "proposal_id", a.ProposalID)
			return nil
		}
		var denied *stategraph.ErrTransitionDenied
		if errors.As(err, &denied) {
			log.Warn("transition denied on recheck", "scope_id", a.ScopeID, "reason", denied.Reason)
			return nil
		}
		return fmt.Errorf("advance state for scope %s: %w", a.ScopeID, err)
	}

	// Step 4: look up and publish the next job.
	if nextJob, ok := nextJobForNode(updated.LastNode); ok {
		payload, err := json.Marshal(jobPing{ScopeID: a.ScopeID, RunID: updated.RunID})
		if err != nil {
			return fmt.Errorf("marshal next job payload for scope %s: %w", a.ScopeID, err)
		}
		if _, err := e.deps.BusPublisher.Publish(ctx, "swarm.jobs."+nextJob, payload); err != nil {
			return fmt.Errorf("publish next job for scope %s: %w", a.ScopeID, err)
		}
	}

	// Step 5: publish the state_transition event.
	if err := e.deps.Publisher.Publish(ctx, events.Envelope{
		Type:   events.TypeStateTransition,
		TS:     time.Now().UTC(),
		Source: "executor",
		Payload: events.StateTransitionPayload{
			ScopeID: a.ScopeID,
			From:    a.From,
			To:      string(updated.LastNode),
			Epoch:   updated.Epoch,
			RunID:   updated.RunID,
		},
	}); err != nil {
		return fmt.Errorf("publish state_transition for scope %s: %w", a.ScopeID, err)
	}
	return nil
}

// nextJobForNode maps a StateGraph node to the job type whose role
// requires that node to run (§4.9 step 4: "next_job_for_node(lastNode)"),
// derived from the same compile-time roles.Registry the agent loop uses
// to gate role invocation — there is exactly one role per node in the
// closed cycle, so the mapping is total over advanceable nodes.
func nextJobForNode(node stategraph.Node) (string, bool) {
	for _, spec := range roles.Registry {
		if spec.RequiresNode == node {
			return spec.JobType, true
		}
	}
	return "", false
}
