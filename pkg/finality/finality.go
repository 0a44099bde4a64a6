// Package finality implements the Finality Evaluator (§4.11, §4.11a):
// the nine-step Evaluate(scopeId) algorithm that turns a semantic-graph
// snapshot and convergence history into one of ACTIVE/RESOLVED/
// ESCALATED/BLOCKED/EXPIRED, optionally queuing a human-review request
// or minting a finality certificate. Grounded on pkg/policy's Engine
// (declarative rule evaluation over a closed condition-expression
// language) reworked onto finality.yaml's rule groups instead of
// policy.yaml's.
package finality

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/governed-swarm/swarmrt/pkg/config"
	"github.com/governed-swarm/swarmrt/pkg/convergence"
	"github.com/governed-swarm/swarmrt/pkg/events"
	"github.com/governed-swarm/swarmrt/pkg/graph"
	"github.com/governed-swarm/swarmrt/pkg/review"
)

// graphAggregator is the subset of pkg/graph.Store Evaluate needs.
type graphAggregator interface {
	Aggregate(ctx context.Context, scopeID string) (*graph.FinalitySnapshot, error)
}

// convergenceStore is the subset of pkg/convergence.Store Evaluate needs.
type convergenceStore interface {
	RecordPoint(ctx context.Context, scopeID string, round int, dims convergence.DimensionActuals, goalScore, vLyapunov float64) error
	LoadHistory(ctx context.Context, scopeID string, depth int) ([]convergence.Point, error)
}

// decisionReader is the subset of DecisionStore Evaluate needs to check
// step 1's prior-human-decision short-circuit.
type decisionReader interface {
	LatestDecision(ctx context.Context, scopeID string) (option string, days *int, found bool, err error)
}

// reviewQueue is the subset of pkg/review.Store the HITL gate needs.
type reviewQueue interface {
	HasPendingFinalityReview(ctx context.Context, scopeID string) (bool, error)
	AddFinalityReview(ctx context.Context, scopeID string, r review.FinalityReview) (string, error)
}

// certificateIssuer builds, signs, and persists a finality certificate
// in one call, satisfied structurally by pkg/certificate.Issuer.
type certificateIssuer interface {
	IssueAndPersist(ctx context.Context, scopeID, decision string, goalScore float64, dims map[string]float64) (certificateID string, envelope string, err error)
}

// resultPublisher is the subset of events.Publisher Evaluate needs to
// emit session_finalized.
type resultPublisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// certNotifier is the operational webhook notifier (SPEC_FULL §C.3),
// satisfied by pkg/slack.Service.
type certNotifier interface {
	NotifyCertificate(ctx context.Context, scopeID, outcome string)
}

// Dependencies wires Evaluator's collaborators.
type Dependencies struct {
	Graph        graphAggregator
	Convergence  convergenceStore
	Decisions    decisionReader
	Review       reviewQueue
	Certificates certificateIssuer
	Publisher    resultPublisher
	Notifier     certNotifier
}

// Evaluator runs the Finality Evaluator against a config.FinalityFile.
type Evaluator struct {
	deps Dependencies
	cfg  *config.FinalityFile
}

// New creates an Evaluator.
func New(deps Dependencies, cfg *config.FinalityFile) *Evaluator {
	return &Evaluator{deps: deps, cfg: cfg}
}

// Result is the detailed outcome of one Evaluate call.
type Result struct {
	Status       config.FinalityStatus
	GoalScore    float64
	ReviewQueued bool
	ReviewID     string
}

// Evaluate implements the finalityChecker interface pkg/governance
// depends on: fire-and-forget re-evaluation after every governance
// decision. The detailed Result is discarded here; callers that need it
// (the feed API, tests) use EvaluateDetailed directly.
func (e *Evaluator) Evaluate(ctx context.Context, scopeID string) error {
	_, err := e.EvaluateDetailed(ctx, scopeID)
	return err
}

// EvaluateDetailed runs the full nine-step algorithm (§4.11).
func (e *Evaluator) EvaluateDetailed(ctx context.Context, scopeID string) (Result, error) {
	// Step 2 runs ahead of step 1's short-circuit check: a prior
	// approve_finality decision still needs a fresh goal_score to stamp
	// onto the certificate and session_finalized event.
	snap, err := e.deps.Graph.Aggregate(ctx, scopeID)
	if err != nil {
		return Result{}, fmt.Errorf("aggregate finality snapshot for scope %s: %w", scopeID, err)
	}
	dims := dimensionsFromSnapshot(snap)
	weights := e.cfg.GoalGradient.Weights
	score := goalScore(weights, dims)

	// Step 1: prior human decision.
	option, _, found, err := e.deps.Decisions.LatestDecision(ctx, scopeID)
	if err != nil {
		return Result{}, fmt.Errorf("load prior finality decision for scope %s: %w", scopeID, err)
	}
	if found && option == "approve_finality" {
		if err := e.finalize(ctx, scopeID, score, dims); err != nil {
			return Result{}, err
		}
		return Result{Status: config.FinalityResolved, GoalScore: score}, nil
	}

	// Step 3: record a convergence point, load history (including it).
	vLyapunov := convergence.Lyapunov(weights, dims)
	prior, err := e.deps.Convergence.LoadHistory(ctx, scopeID, e.cfg.Convergence.HistoryDepth)
	if err != nil {
		return Result{}, fmt.Errorf("load convergence history for scope %s: %w", scopeID, err)
	}
	round := 1
	if len(prior) > 0 {
		round = prior[len(prior)-1].Round + 1
	}
	if err := e.deps.Convergence.RecordPoint(ctx, scopeID, round, dims, score, vLyapunov); err != nil {
		return Result{}, fmt.Errorf("record convergence point for scope %s: %w", scopeID, err)
	}
	history, err := e.deps.Convergence.LoadHistory(ctx, scopeID, e.cfg.Convergence.HistoryDepth)
	if err != nil {
		return Result{}, fmt.Errorf("reload convergence history for scope %s: %w", scopeID, err)
	}

	idleCycles, lastDeltaAgeMs := idleness(history, time.Now())
	snap.ScopeIdleCycles = idleCycles
	snap.ScopeLastDeltaAgeMs = lastDeltaAgeMs
	values := snapshotValues(snap)

	// Step 4: divergence short-circuit.
	if rate, ok := convergence.Rate(history); ok && len(history) >= 3 && rate < e.cfg.Convergence.DivergenceRate {
		return Result{Status: config.FinalityEscalated, GoalScore: score}, nil
	}

	// Step 5: content gate (E) — reject vacuous success.
	if snap.ClaimsActiveCount == 0 && snap.GoalsCompletionRatio == 1 {
		return Result{Status: config.FinalityActive, GoalScore: score}, nil
	}

	// Step 6: RESOLVED gate.
	resolvedConditionsOK := true
	if group, ok := e.cfg.Finality[string(config.FinalityResolved)]; ok {
		satisfied, err := evalRuleGroup(group, values)
		if err != nil {
			return Result{}, fmt.Errorf("evaluate RESOLVED conditions for scope %s: %w", scopeID, err)
		}
		resolvedConditionsOK = satisfied
	}
	monotonic := convergence.Monotonic(history, e.cfg.Convergence.Beta)
	trajectoryQuality := convergence.TrajectoryQuality(history)
	quiescent := quiescenceSatisfied(e.cfg.Quiescence, snap)
	if resolvedConditionsOK && score >= e.cfg.GoalGradient.AutoThreshold && monotonic &&
		trajectoryQuality >= 0.7 && quiescent {
		if err := e.finalize(ctx, scopeID, score, dims); err != nil {
			return Result{}, err
		}
		return Result{Status: config.FinalityResolved, GoalScore: score}, nil
	}

	// Step 7: HITL gate.
	if e.cfg.GoalGradient.NearThreshold <= score && score < e.cfg.GoalGradient.AutoThreshold {
		reviewID, err := e.queueForReview(ctx, scopeID, score, dims, history)
		if err != nil {
			return Result{}, err
		}
		return Result{Status: config.FinalityActive, GoalScore: score, ReviewQueued: reviewID != "", ReviewID: reviewID}, nil
	}

	// Step 8: remaining rule groups, first match wins.
	for _, status := range []config.FinalityStatus{config.FinalityEscalated, config.FinalityBlocked, config.FinalityExpired} {
		group, ok := e.cfg.Finality[string(status)]
		if !ok {
			continue
		}
		satisfied, err := evalRuleGroup(group, values)
		if err != nil {
			return Result{}, fmt.Errorf("evaluate %s conditions for scope %s: %w", status, scopeID, err)
		}
		if satisfied {
			return Result{Status: status, GoalScore: score}, nil
		}
	}

	// Step 9: default.
	return Result{Status: config.FinalityActive, GoalScore: score}, nil
}

func (e *Evaluator) finalize(ctx context.Context, scopeID string, score float64, dims convergence.DimensionActuals) error {
	certID, _, err := e.deps.Certificates.IssueAndPersist(ctx, scopeID, "approve_finality", score, dimensionsToMap(dims))
	if err != nil {
		return fmt.Errorf("issue finality certificate for scope %s: %w", scopeID, err)
	}
	env := events.Envelope{
		Type:   events.TypeSessionFinalized,
		TS:     time.Now(),
		Source: "finality-evaluator",
		Payload: events.SessionFinalizedPayload{
			ScopeID:       scopeID,
			Status:        string(config.FinalityResolved),
			CertificateID: certID,
			GoalScore:     score,
		},
	}
	if err := e.deps.Publisher.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish session_finalized for scope %s: %w", scopeID, err)
	}
	if e.deps.Notifier != nil {
		go e.deps.Notifier.NotifyCertificate(context.Background(), scopeID, "converged")
	}
	return nil
}

func (e *Evaluator) queueForReview(ctx context.Context, scopeID string, score float64, dims convergence.DimensionActuals, history []convergence.Point) (string, error) {
	has, err := e.deps.Review.HasPendingFinalityReview(ctx, scopeID)
	if err != nil {
		return "", fmt.Errorf("check pending finality review for scope %s: %w", scopeID, err)
	}
	if has {
		return "", nil
	}

	_, bottleneck := convergence.Pressures(e.cfg.GoalGradient.Weights, dims)
	rate, _ := convergence.Rate(history)
	estimatedRounds := convergence.EstimatedRounds(rate, currentV(history))
	plateau := convergence.Plateau(e.cfg.Convergence, history)

	deferDays := e.cfg.ReviewDeferDays
	r := review.FinalityReview{
		ScopeID:            scopeID,
		GoalScore:          score,
		DimensionBreakdown: dimensionsToMap(dims),
		Blockers:           blockers(e.cfg, score, dims, history, bottleneck),
		// Order matches §8 scenario 3's literal output: approve_finality,
		// provide_resolution, escalate, defer(days).
		Options: []review.FinalityOption{
			{Option: "approve_finality"},
			{Option: "provide_resolution"},
			{Option: "escalate"},
			{Option: "defer", Days: &deferDays},
		},
		ConvergenceSnapshot: map[string]any{
			"bottleneck":       bottleneck,
			"rate":             rate,
			"estimated_rounds": estimatedRounds,
			"plateaued":        plateau.Plateaued,
			"oscillating":      convergence.Oscillating(history),
		},
	}
	id, err := e.deps.Review.AddFinalityReview(ctx, scopeID, r)
	if err != nil {
		return "", fmt.Errorf("queue finality review for scope %s: %w", scopeID, err)
	}
	return id, nil
}

func blockers(cfg *config.FinalityFile, score float64, dims convergence.DimensionActuals, history []convergence.Point, bottleneck string) []string {
	var out []string
	if score < cfg.GoalGradient.AutoThreshold {
		out = append(out, fmt.Sprintf("goal_score %.3f below auto_threshold %.3f", score, cfg.GoalGradient.AutoThreshold))
	}
	if !convergence.Monotonic(history, cfg.Convergence.Beta) {
		out = append(out, "goal_score is not monotonically non-decreasing")
	}
	if q := convergence.TrajectoryQuality(history); q < 0.7 {
		out = append(out, fmt.Sprintf("trajectory_quality %.3f below 0.7", q))
	}
	out = append(out, fmt.Sprintf("bottleneck dimension: %s", bottleneck))
	return out
}

func currentV(history []convergence.Point) float64 {
	if len(history) == 0 {
		return 0
	}
	return history[len(history)-1].VLyapunov
}

func dimensionsFromSnapshot(snap *graph.FinalitySnapshot) convergence.DimensionActuals {
	confidence := snap.ClaimsActiveAvgConfidence / 0.85
	if confidence > 1 {
		confidence = 1
	}
	resolution := 1.0
	if snap.ContradictionsTotal > 0 {
		resolution = 1 - float64(snap.ContradictionsUnresolved)/float64(snap.ContradictionsTotal)
	}
	risk := 1 - math.Min(snap.ScopeRiskScore, 1)
	return convergence.DimensionActuals{
		Confidence: confidence,
		Resolution: resolution,
		Goals:      snap.GoalsCompletionRatio,
		Risk:       risk,
	}
}

func dimensionsToMap(dims convergence.DimensionActuals) map[string]float64 {
	return map[string]float64{
		"confidence": dims.Confidence,
		"resolution": dims.Resolution,
		"goals":      dims.Goals,
		"risk":       dims.Risk,
	}
}

func goalScore(weights config.DimensionWeights, dims convergence.DimensionActuals) float64 {
	return weights.Confidence*dims.Confidence +
		weights.Resolution*dims.Resolution +
		weights.Goals*dims.Goals +
		weights.Risk*dims.Risk
}

// idleness derives scope_idle_cycles/scope_last_delta_age_ms purely from
// convergence_history (§4.10's Aggregate explicitly defers these two
// fields to its caller): idle_cycles is the number of trailing rounds
// since the goal_score last actually changed, and last_delta_age_ms is
// how long ago that change was recorded.
func idleness(history []convergence.Point, now time.Time) (idleCycles int, lastDeltaAgeMs int64) {
	if len(history) == 0 {
		return 0, 0
	}
	lastChangeIdx := 0
	for i := 1; i < len(history); i++ {
		if history[i].GoalScore != history[i-1].GoalScore {
			lastChangeIdx = i
		}
	}
	idleCycles = len(history) - 1 - lastChangeIdx
	lastDeltaAgeMs = now.Sub(history[lastChangeIdx].CreatedAt).Milliseconds()
	if lastDeltaAgeMs < 0 {
		lastDeltaAgeMs = 0
	}
	return idleCycles, lastDeltaAgeMs
}

func quiescenceSatisfied(q config.QuiescenceConfig, snap *graph.FinalitySnapshot) bool {
	if !q.Enabled() {
		return true
	}
	return snap.ScopeIdleCycles >= q.MinIdleCycles &&
		time.Duration(snap.ScopeLastDeltaAgeMs)*time.Millisecond >= q.Window
}

func snapshotValues(snap *graph.FinalitySnapshot) map[string]float64 {
	return map[string]float64{
		"claims_active_min_confidence":    snap.ClaimsActiveMinConfidence,
		"claims_active_count":             float64(snap.ClaimsActiveCount),
		"claims_active_avg_confidence":    snap.ClaimsActiveAvgConfidence,
		"contradictions_unresolved_count": float64(snap.ContradictionsUnresolved),
		"contradictions_total_count":      float64(snap.ContradictionsTotal),
		"risks_critical_active_count":     float64(snap.RisksCriticalActiveCount),
		"goals_completion_ratio":          snap.GoalsCompletionRatio,
		"scope_risk_score":                snap.ScopeRiskScore,
		"scope_idle_cycles":               float64(snap.ScopeIdleCycles),
		"scope_last_delta_age_ms":         float64(snap.ScopeLastDeltaAgeMs),
	}
}

func evalRuleGroup(group config.RuleGroup, values map[string]float64) (bool, error) {
	if len(group.Conditions) == 0 {
		return true, nil
	}
	if group.Mode == config.GateModeAny {
		for _, c := range group.Conditions {
			ok, err := evalCondition(c, values)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	for _, c := range group.Conditions {
		ok, err := evalCondition(c, values)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// evalCondition parses and evaluates one "key op value" condition
// expression against the fixed FinalitySnapshot-derived key set.
func evalCondition(expr string, values map[string]float64) (bool, error) {
	fields := strings.Fields(expr)
	if len(fields) != 3 {
		return false, fmt.Errorf("malformed finality condition %q", expr)
	}
	key, opStr, valStr := fields[0], fields[1], fields[2]

	actual, ok := values[key]
	if !ok {
		return false, fmt.Errorf("unknown finality condition key %q", key)
	}
	want, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		return false, fmt.Errorf("finality condition %q: %w", expr, err)
	}

	switch config.ConditionOperator(opStr) {
	case config.OpGTE:
		return actual >= want, nil
	case config.OpLTE:
		return actual <= want, nil
	case config.OpGT:
		return actual > want, nil
	case config.OpLT:
		return actual < want, nil
	case config.OpEQ:
		return actual == want, nil
	default:
		return false, fmt.Errorf("finality condition %q: unknown operator %q", expr, opStr)
	}
}
