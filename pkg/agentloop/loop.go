// Package agentloop implements the generic Agent Loop Runtime (§4.5):
// the long-running per-role loop shared by the facts, drift, and planner
// roles. Adapted from the teacher's pkg/queue.Worker (its select/stopCh
// run loop, jittered poll interval, and health/status tracking), here
// polling a durable bus consumer instead of claiming ent rows, and
// dispatching to a pkg/roles.Runner instead of a SessionExecutor.
package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/governed-swarm/swarmrt/pkg/activation"
	"github.com/governed-swarm/swarmrt/pkg/authz"
	"github.com/governed-swarm/swarmrt/pkg/bus"
	"github.com/governed-swarm/swarmrt/pkg/config"
	"github.com/governed-swarm/swarmrt/pkg/events"
	"github.com/governed-swarm/swarmrt/pkg/roles"
	"github.com/governed-swarm/swarmrt/pkg/stategraph"
)

// eventsSubject is the wildcard subject every role-durable consumer pulls
// from (§4.5 step 1: "Pulls a batch of events from swarm.events.>").
const eventsSubject = "swarm.events.>"

// tailDepth bounds how many recent WAL entries feed both the activation
// filter's input hash and the role runner's stored_context (§4.6: "loads
// the last N WAL entries").
const tailDepth = 50

// busConsumer is the subset of bus.Client the loop needs.
type busConsumer interface {
	Consume(ctx context.Context, stream, subject, consumerName string, handler func([]byte) error, opts bus.ConsumeOptions) (int, error)
}

// busPublisher is the subset of bus.Client the loop needs to emit raw
// (non-envelope) proposal messages (§4.5 step 8).
type busPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte) (uint64, error)
}

// walReader is the subset of wal.Store the loop needs.
type walReader interface {
	TailEvents(ctx context.Context, scopeID string, limit int) ([]events.Envelope, error)
}

// stateReader is the subset of stategraph.Store the loop needs. The loop
// never calls AdvanceState itself: a role proposes an advance, the
// governance agent and action executor (§4.8, §4.9) decide and apply it.
type stateReader interface {
	LoadState(ctx context.Context, scopeID string) (*stategraph.State, error)
}

// activationStore is the subset of activation.Store the loop needs.
type activationStore interface {
	LoadFilterConfig(ctx context.Context, role string) (*activation.FilterConfig, error)
	LoadMemory(ctx context.Context, role, scopeID string) (*activation.Memory, error)
	UpdateMemory(ctx context.Context, role, scopeID string, upd activation.MemoryUpdate) error
}

// processedStore is the subset of ProcessedStore the loop needs.
type processedStore interface {
	AlreadyProcessed(ctx context.Context, consumer, msgID string) (bool, error)
	MarkProcessed(ctx context.Context, consumer, msgID string) error
}

// resultPublisher is the subset of events.Publisher the loop needs.
type resultPublisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// SuggestionsFunc supplies the planner role's governance-suggestion
// union (§4.6); nil for roles that don't need it.
type SuggestionsFunc func(ctx context.Context, scopeID string) ([]string, error)

// Dependencies bundles everything one role's loop needs. Fields are
// interfaces at the narrowest point that satisfies the loop's needs, so
// pkg/bus, pkg/wal, and pkg/stategraph's concrete types satisfy them
// directly without adapters.
type Dependencies struct {
	Bus          busConsumer
	BusPublisher busPublisher
	Stream       string

	Activation activationStore
	StateGraph stateReader
	Authz      authz.Checker
	Publisher  resultPublisher
	WAL        walReader
	Processed  processedStore
	Runner     roles.Runner

	// Suggestions is consulted before invoking the runner when the role's
	// Spec requires governance suggestions (currently only the planner).
	Suggestions SuggestionsFunc
}

// Loop runs one role's Agent Loop Runtime.
type Loop struct {
	spec roles.Spec
	deps Dependencies
	cfg  config.AgentLoopConfig
}

// New creates a Loop for spec.
func New(spec roles.Spec, deps Dependencies, cfg config.AgentLoopConfig) *Loop {
	return &Loop{spec: spec, deps: deps, cfg: cfg}
}

// Run polls until ctx is cancelled, at which point it returns nil (§4.5:
// "The loop exits cleanly on an external cancellation signal"). Idle
// polling backs off exponentially from cfg.PollInterval up to
// cfg.MaxPollBackoff (§5); a non-empty batch resets the backoff.
func (l *Loop) Run(ctx context.Context) error {
	backoff := l.cfg.PollInterval
	log := slog.With("role", l.spec.Role)

	for {
		if ctx.Err() != nil {
			log.Info("agent loop shutting down")
			return nil
		}

		processed, err := l.deps.Bus.Consume(ctx, l.deps.Stream, eventsSubject, l.spec.Role,
			func(raw []byte) error { return l.handle(ctx, raw) },
			bus.ConsumeOptions{MaxMessages: l.cfg.BatchSize, Timeout: 5 * time.Second},
		)
		if err != nil && !errors.Is(ctx.Err(), context.Canceled) {
			log.Error("consume failed", "error", err)
		}

		if processed > 0 {
			backoff = l.cfg.PollInterval
			continue
		}

		select {
		case <-ctx.Done():
			log.Info("agent loop shutting down")
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.cfg.MaxPollBackoff {
			backoff = l.cfg.MaxPollBackoff
		}
	}
}

// handle implements §4.5 steps 2-9 for one delivered message. A non-nil
// return naks the message for redelivery (transient errors); a nil
// return acks it, whether because the work succeeded or because a
// non-transient condition (malformed input, policy denial, nothing new
// to do) means redelivery would never help.
func (l *Loop) handle(ctx context.Context, raw []byte) error {
	log := slog.With("role", l.spec.Role)

	var env events.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn("dropping malformed envelope", "error", err)
		return nil
	}

	scopeID := scopeIDFromPayload(env.Payload)
	if scopeID == "" {
		return nil // no scope to act on (e.g. a bootstrap/global envelope)
	}

	msgID := fmt.Sprintf("%d", env.Seq)
	already, err := l.deps.Processed.AlreadyProcessed(ctx, l.spec.Role, msgID)
	if err != nil {
		return fmt.Errorf("check processed for %s: %w", l.spec.Role, err)
	}
	if already {
		return nil
	}

	state, err := l.deps.StateGraph.LoadState(ctx, scopeID)
	if err != nil {
		return fmt.Errorf("load state for scope %s: %w", scopeID, err)
	}
	if state == nil {
		log.Warn("no StateGraph row for scope, skipping", "scope_id", scopeID)
		return nil
	}

	mem, err := l.deps.Activation.LoadMemory(ctx, l.spec.Role, scopeID)
	if err != nil {
		return fmt.Errorf("load agent memory for %s/%s: %w", l.spec.Role, scopeID, err)
	}

	cfg, err := l.deps.Activation.LoadFilterConfig(ctx, l.spec.Role)
	if err != nil {
		if errors.Is(err, activation.ErrNoFilterConfig) {
			cfg = &activation.FilterConfig{Role: l.spec.Role, AnchorNode: string(l.spec.RequiresNode)}
		} else {
			return fmt.Errorf("load filter config for %s: %w", l.spec.Role, err)
		}
	}

	tail, err := l.deps.WAL.TailEvents(ctx, scopeID, tailDepth)
	if err != nil {
		return fmt.Errorf("tail WAL for scope %s: %w", scopeID, err)
	}

	var latestSeq int64
	if len(tail) > 0 {
		latestSeq = tail[0].Seq
	}
	currentHash := inputHash(tail)
	useDriftHash := l.spec.Role == roles.Drift

	decision := activation.Evaluate(activation.Input{
		Now:          time.Now(),
		Cfg:          *cfg,
		Mem:          mem,
		LatestSeq:    latestSeq,
		CurrentHash:  currentHash,
		UseDriftHash: useDriftHash,
		CurrentNode:  string(state.LastNode),
	})
	if !decision.Allowed {
		if decision.Reason == activation.ReasonCooldown {
			// §4.4: "asks the bus to redeliver the message after the
			// cooldown window (nak-with-delay), never to ack-drop."
			return fmt.Errorf("cooldown active for %s/%s, retry after %s", l.spec.Role, scopeID, decision.RetryAfter)
		}
		log.Debug("activation filter rejected", "scope_id", scopeID, "reason", decision.Reason)
		return nil
	}

	authzDecision := authz.Authorize(ctx, l.deps.Authz, l.spec.Role, string(l.spec.RequiresNode))
	if !authzDecision.Allowed {
		log.Warn("authorization denied", "scope_id", scopeID, "reason", authzDecision.Reason)
		return nil
	}

	var suggestions []string
	if l.deps.Suggestions != nil {
		suggestions, err = l.deps.Suggestions(ctx, scopeID)
		if err != nil {
			return fmt.Errorf("load governance suggestions for scope %s: %w", scopeID, err)
		}
	}

	out, err := l.deps.Runner.Run(ctx, roles.Input{
		ScopeID:               scopeID,
		StoredContext:         tail,
		GovernanceSuggestions: suggestions,
	})
	if err != nil {
		return fmt.Errorf("run role %s for scope %s: %w", l.spec.Role, scopeID, err)
	}

	if err := l.deps.Publisher.Publish(ctx, events.Envelope{
		Type:    l.spec.ResultEventType,
		TS:      time.Now().UTC(),
		Source:  l.spec.Role,
		Payload: out.Payload,
	}); err != nil {
		return fmt.Errorf("publish result for %s: %w", l.spec.Role, err)
	}

	memUpdate := activation.MemoryUpdate{ActivatedAt: time.Now(), ProcessedSeq: latestSeq}
	if useDriftHash {
		memUpdate.IsDriftHash = true
		memUpdate.DriftHash = currentHash
	} else {
		memUpdate.Hash = currentHash
	}
	if err := l.deps.Activation.UpdateMemory(ctx, l.spec.Role, scopeID, memUpdate); err != nil {
		return fmt.Errorf("update agent memory for %s/%s: %w", l.spec.Role, scopeID, err)
	}

	if l.spec.ProposesAdvance {
		if err := l.emitProposal(ctx, scopeID, state); err != nil {
			return err
		}
	}

	if err := l.deps.Processed.MarkProcessed(ctx, l.spec.Role, msgID); err != nil {
		return fmt.Errorf("mark processed for %s/%s: %w", l.spec.Role, msgID, err)
	}
	return nil
}

// Proposal is the payload published on swarm.proposals.<jobType> (§4.5
// step 8, §8 P2/P5 via the epoch carried through to the CAS advance).
// ProposedAction is always "advance_state": every proposal this runtime
// emits is a StateGraph advance (§4.8 step 1 still checks it, since the
// governance agent consumes the shared swarm.proposals.> wildcard and
// must not assume every message on it is one).
type Proposal struct {
	ProposalID     string `json:"proposal_id"`
	ProposedAction string `json:"proposed_action"`
	ScopeID        string `json:"scope_id"`
	ExpectedEpoch  int64  `json:"expected_epoch"`
	RunID          string `json:"run_id"`
	From           string `json:"from"`
	To             string `json:"to"`
	Mode           string `json:"mode"`
}

func (l *Loop) emitProposal(ctx context.Context, scopeID string, state *stategraph.State) error {
	proposal := Proposal{
		ProposalID:     uuid.NewString(),
		ProposedAction: "advance_state",
		ScopeID:        scopeID,
		ExpectedEpoch:  state.Epoch,
		RunID:          state.RunID,
		From:           string(state.LastNode),
		To:             string(l.spec.AdvancesTo),
		Mode:           l.spec.Mode,
	}
	payload, err := json.Marshal(proposal)
	if err != nil {
		return fmt.Errorf("marshal proposal for scope %s: %w", scopeID, err)
	}
	subject := "swarm.proposals." + l.spec.JobType
	if _, err := l.deps.BusPublisher.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish proposal for scope %s: %w", scopeID, err)
	}
	return nil
}

func scopeIDFromPayload(payload any) string {
	m, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	scopeID, _ := m["scope_id"].(string)
	return scopeID
}

func inputHash(tail []events.Envelope) string {
	parts := make([]string, 0, len(tail))
	for _, env := range tail {
		encoded, err := json.Marshal(env.Payload)
		if err != nil {
			continue
		}
		parts = append(parts, string(encoded))
	}
	return activation.ContentHash(parts...)
}

// Group runs a set of Loops concurrently and waits for all to exit.
// Adapted from the teacher's pkg/queue.WorkerPool, minus its ent-specific
// health/capacity tracking (no analogue in this domain's agent loops).
type Group struct {
	loops []*Loop
}

// NewGroup creates a Group over the given loops.
func NewGroup(loops ...*Loop) *Group {
	return &Group{loops: loops}
}

// Run starts every loop and blocks until ctx is cancelled and every loop
// has exited.
func (g *Group) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, loop := range g.loops {
		wg.Add(1)
		go func(l *Loop) {
			defer wg.Done()
			if err := l.Run(ctx); err != nil {
				slog.Error("agent loop exited with error", "error", err)
			}
		}(loop)
	}
	wg.Wait()
}
