package finality

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/governed-swarm/swarmrt/pkg/config"
	"github.com/governed-swarm/swarmrt/pkg/convergence"
	"github.com/governed-swarm/swarmrt/pkg/events"
	"github.com/governed-swarm/swarmrt/pkg/graph"
	"github.com/governed-swarm/swarmrt/pkg/review"
)

func TestDimensionsFromSnapshot_ClampsConfidenceAt1(t *testing.T) {
	dims := dimensionsFromSnapshot(&graph.FinalitySnapshot{
		ClaimsActiveAvgConfidence: 0.95,
		ContradictionsTotal:      0,
		GoalsCompletionRatio:     0.5,
		ScopeRiskScore:           0.2,
	})
	assert.Equal(t, 1.0, dims.Confidence)
	assert.Equal(t, 1.0, dims.Resolution) // no contradictions -> vacuously resolved
	assert.Equal(t, 0.5, dims.Goals)
	assert.InDelta(t, 0.8, dims.Risk, 1e-9)
}

func TestDimensionsFromSnapshot_ResolutionRatio(t *testing.T) {
	dims := dimensionsFromSnapshot(&graph.FinalitySnapshot{
		ContradictionsTotal:      4,
		ContradictionsUnresolved: 1,
	})
	assert.InDelta(t, 0.75, dims.Resolution, 1e-9)
}

func TestGoalScore_WeightedSum(t *testing.T) {
	weights := config.DefaultDimensionWeights()
	dims := convergence.DimensionActuals{Confidence: 1, Resolution: 1, Goals: 1, Risk: 1}
	assert.InDelta(t, 1.0, goalScore(weights, dims), 1e-9)
}

func TestEvalCondition_Operators(t *testing.T) {
	values := map[string]float64{"contradictions_unresolved_count": 3}
	ok, err := evalCondition("contradictions_unresolved_count >= 3", values)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = evalCondition("contradictions_unresolved_count < 3", values)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalCondition_UnknownKey(t *testing.T) {
	_, err := evalCondition("nonexistent_key >= 1", map[string]float64{})
	assert.Error(t, err)
}

func TestEvalCondition_Malformed(t *testing.T) {
	_, err := evalCondition("not a condition", map[string]float64{})
	assert.Error(t, err)
}

func TestEvalRuleGroup_AnyMatchesOnFirstTrue(t *testing.T) {
	group := config.RuleGroup{
		Mode:       config.GateModeAny,
		Conditions: []string{"a >= 10", "b >= 1"},
	}
	ok, err := evalRuleGroup(group, map[string]float64{"a": 0, "b": 1})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalRuleGroup_AllRequiresEveryCondition(t *testing.T) {
	group := config.RuleGroup{
		Mode:       config.GateModeAll,
		Conditions: []string{"a >= 1", "b >= 1"},
	}
	ok, err := evalRuleGroup(group, map[string]float64{"a": 1, "b": 0})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalRuleGroup_VacuousWhenNoConditions(t *testing.T) {
	ok, err := evalRuleGroup(config.RuleGroup{Mode: config.GateModeAll}, map[string]float64{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIdleness_NoChangeAcrossWholeWindow(t *testing.T) {
	now := time.Now()
	history := []convergence.Point{
		{GoalScore: 0.5, CreatedAt: now.Add(-3 * time.Minute)},
		{GoalScore: 0.5, CreatedAt: now.Add(-2 * time.Minute)},
		{GoalScore: 0.5, CreatedAt: now.Add(-1 * time.Minute)},
	}
	idleCycles, lastDeltaAgeMs := idleness(history, now)
	assert.Equal(t, 2, idleCycles)
	assert.InDelta(t, 3*time.Minute.Milliseconds(), lastDeltaAgeMs, 100)
}

func TestIdleness_ResetsAtLastChange(t *testing.T) {
	now := time.Now()
	history := []convergence.Point{
		{GoalScore: 0.3, CreatedAt: now.Add(-5 * time.Minute)},
		{GoalScore: 0.6, CreatedAt: now.Add(-3 * time.Minute)},
		{GoalScore: 0.6, CreatedAt: now.Add(-2 * time.Minute)},
		{GoalScore: 0.6, CreatedAt: now.Add(-1 * time.Minute)},
	}
	idleCycles, lastDeltaAgeMs := idleness(history, now)
	assert.Equal(t, 2, idleCycles)
	assert.InDelta(t, 3*time.Minute.Milliseconds(), lastDeltaAgeMs, 100)
}

func TestIdleness_EmptyHistory(t *testing.T) {
	idleCycles, lastDeltaAgeMs := idleness(nil, time.Now())
	assert.Equal(t, 0, idleCycles)
	assert.Equal(t, int64(0), lastDeltaAgeMs)
}

func TestQuiescenceSatisfied_DisabledGateAlwaysPasses(t *testing.T) {
	assert.True(t, quiescenceSatisfied(config.QuiescenceConfig{}, &graph.FinalitySnapshot{}))
}

func TestQuiescenceSatisfied_RequiresBothIdleCyclesAndWindow(t *testing.T) {
	q := config.QuiescenceConfig{MinIdleCycles: 5, Window: 10 * time.Minute}
	snap := &graph.FinalitySnapshot{ScopeIdleCycles: 5, ScopeLastDeltaAgeMs: (10 * time.Minute).Milliseconds()}
	assert.True(t, quiescenceSatisfied(q, snap))

	snap.ScopeIdleCycles = 4
	assert.False(t, quiescenceSatisfied(q, snap))
}

// --- fakes for EvaluateDetailed end-to-end tests ---

type fakeGraphAggregator struct {
	snap *graph.FinalitySnapshot
}

func (f *fakeGraphAggregator) Aggregate(ctx context.Context, scopeID string) (*graph.FinalitySnapshot, error) {
	snap := *f.snap
	return &snap, nil
}

type fakeConvergenceStore struct {
	history []convergence.Point
}

func (f *fakeConvergenceStore) RecordPoint(ctx context.Context, scopeID string, round int, dims convergence.DimensionActuals, goalScore, vLyapunov float64) error {
	f.history = append(f.history, convergence.Point{Round: round, Dimensions: dims, GoalScore: goalScore, VLyapunov: vLyapunov, CreatedAt: time.Now()})
	return nil
}

func (f *fakeConvergenceStore) LoadHistory(ctx context.Context, scopeID string, depth int) ([]convergence.Point, error) {
	return f.history, nil
}

type fakeDecisionReader struct {
	option string
	found  bool
}

func (f *fakeDecisionReader) LatestDecision(ctx context.Context, scopeID string) (string, *int, bool, error) {
	return f.option, nil, f.found, nil
}

type fakeReviewQueue struct {
	hasPending bool
	queued     []review.FinalityReview
}

func (f *fakeReviewQueue) HasPendingFinalityReview(ctx context.Context, scopeID string) (bool, error) {
	return f.hasPending, nil
}

func (f *fakeReviewQueue) AddFinalityReview(ctx context.Context, scopeID string, r review.FinalityReview) (string, error) {
	f.queued = append(f.queued, r)
	return "review-1", nil
}

type fakeCertificateIssuer struct {
	issued []string
}

func (f *fakeCertificateIssuer) IssueAndPersist(ctx context.Context, scopeID, decision string, goalScore float64, dims map[string]float64) (string, string, error) {
	f.issued = append(f.issued, scopeID)
	return "cert-1", "h.p.s", nil
}

type fakeResultPublisher struct {
	published []events.Envelope
}

func (f *fakeResultPublisher) Publish(ctx context.Context, env events.Envelope) error {
	f.published = append(f.published, env)
	return nil
}

func newTestEvaluator(snap *graph.FinalitySnapshot, decisions fakeDecisionReader, review_ *fakeReviewQueue) (*Evaluator, *fakeConvergenceStore, *fakeCertificateIssuer, *fakeResultPublisher) {
	conv := &fakeConvergenceStore{}
	cert := &fakeCertificateIssuer{}
	pub := &fakeResultPublisher{}
	ev := New(Dependencies{
		Graph:        &fakeGraphAggregator{snap: snap},
		Convergence:  conv,
		Decisions:    &decisions,
		Review:       review_,
		Certificates: cert,
		Publisher:    pub,
	}, config.DefaultFinalityFile())
	return ev, conv, cert, pub
}

func TestEvaluateDetailed_PriorApproveFinalityShortCircuitsResolved(t *testing.T) {
	snap := &graph.FinalitySnapshot{ClaimsActiveCount: 1, GoalsCompletionRatio: 0.9}
	ev, _, cert, pub := newTestEvaluator(snap, fakeDecisionReader{option: "approve_finality", found: true}, &fakeReviewQueue{})

	result, err := ev.EvaluateDetailed(context.Background(), "scope-1")
	require.NoError(t, err)
	assert.Equal(t, config.FinalityResolved, result.Status)
	assert.Len(t, cert.issued, 1)
	require.Len(t, pub.published, 1)
	assert.Equal(t, events.TypeSessionFinalized, pub.published[0].Type)
}

func TestEvaluateDetailed_ContentGateReturnsActive(t *testing.T) {
	snap := &graph.FinalitySnapshot{ClaimsActiveCount: 0, GoalsCompletionRatio: 1}
	ev, conv, _, _ := newTestEvaluator(snap, fakeDecisionReader{}, &fakeReviewQueue{})

	result, err := ev.EvaluateDetailed(context.Background(), "scope-2")
	require.NoError(t, err)
	assert.Equal(t, config.FinalityActive, result.Status)
	assert.Len(t, conv.history, 1) // step 3 still records before the content gate short-circuits
}

func TestEvaluateDetailed_ResolvedGateFiresCertificateAndEvent(t *testing.T) {
	snap := &graph.FinalitySnapshot{
		ClaimsActiveCount:         5,
		ClaimsActiveAvgConfidence: 0.85,
		ContradictionsTotal:       0,
		GoalsCompletionRatio:      1,
		ScopeRiskScore:            0,
	}
	ev, _, cert, pub := newTestEvaluator(snap, fakeDecisionReader{}, &fakeReviewQueue{})

	result, err := ev.EvaluateDetailed(context.Background(), "scope-3")
	require.NoError(t, err)
	assert.Equal(t, config.FinalityResolved, result.Status)
	assert.Len(t, cert.issued, 1)
	require.Len(t, pub.published, 1)
}

func TestEvaluateDetailed_HITLGateQueuesReview(t *testing.T) {
	snap := &graph.FinalitySnapshot{
		ClaimsActiveCount:         3,
		ClaimsActiveAvgConfidence: 0.6,
		ContradictionsTotal:       0,
		GoalsCompletionRatio:      0.5,
		ScopeRiskScore:            0,
	}
	reviewQ := &fakeReviewQueue{}
	ev, _, _, _ := newTestEvaluator(snap, fakeDecisionReader{}, reviewQ)

	result, err := ev.EvaluateDetailed(context.Background(), "scope-4")
	require.NoError(t, err)
	assert.Equal(t, config.FinalityActive, result.Status)
	assert.True(t, result.ReviewQueued)
	assert.Len(t, reviewQ.queued, 1)
	assert.Equal(t, "scope-4", reviewQ.queued[0].ScopeID)
}

func TestEvaluateDetailed_HITLGateSkipsWhenAlreadyPending(t *testing.T) {
	snap := &graph.FinalitySnapshot{
		ClaimsActiveCount:         3,
		ClaimsActiveAvgConfidence: 0.6,
		ContradictionsTotal:       0,
		GoalsCompletionRatio:      0.5,
		ScopeRiskScore:            0,
	}
	reviewQ := &fakeReviewQueue{hasPending: true}
	ev, _, _, _ := newTestEvaluator(snap, fakeDecisionReader{}, reviewQ)

	result, err := ev.EvaluateDetailed(context.Background(), "scope-5")
	require.NoError(t, err)
	assert.False(t, result.ReviewQueued)
	assert.Empty(t, reviewQ.queued)
}

// TestEvaluateDetailed_NearFinalityHITL reproduces §8 scenario 3's literal
// inputs (claims_active_avg_confidence=0.7, contradictions_unresolved=1,
// contradictions_total=2, goals_completion_ratio=0.6, risk=0.1, near=0.0,
// auto=1.0) and asserts the literal output: a review queued with a
// dimension_breakdown for all four dimensions and options
// [approve_finality, provide_resolution, escalate, defer(7)].
func TestEvaluateDetailed_NearFinalityHITL(t *testing.T) {
	snap := &graph.FinalitySnapshot{
		ClaimsActiveCount:         1,
		ClaimsActiveAvgConfidence: 0.7,
		ContradictionsTotal:       2,
		ContradictionsUnresolved:  1,
		GoalsCompletionRatio:      0.6,
		ScopeRiskScore:            0.1,
	}
	cfg := config.DefaultFinalityFile()
	cfg.GoalGradient.NearThreshold = 0.0
	cfg.GoalGradient.AutoThreshold = 1.0
	cfg.ReviewDeferDays = 7

	reviewQ := &fakeReviewQueue{}
	ev := New(Dependencies{
		Graph:        &fakeGraphAggregator{snap: snap},
		Convergence:  &fakeConvergenceStore{},
		Decisions:    &fakeDecisionReader{},
		Review:       reviewQ,
		Certificates: &fakeCertificateIssuer{},
		Publisher:    &fakeResultPublisher{},
	}, cfg)

	result, err := ev.EvaluateDetailed(context.Background(), "scope-near-finality")
	require.NoError(t, err)
	assert.Equal(t, config.FinalityActive, result.Status)
	assert.True(t, result.ReviewQueued)
	require.Len(t, reviewQ.queued, 1)

	queued := reviewQ.queued[0]
	assert.Contains(t, queued.DimensionBreakdown, "confidence")
	assert.Contains(t, queued.DimensionBreakdown, "resolution")
	assert.Contains(t, queued.DimensionBreakdown, "goals")
	assert.Contains(t, queued.DimensionBreakdown, "risk")

	sevenDays := 7
	assert.Equal(t, []review.FinalityOption{
		{Option: "approve_finality"},
		{Option: "provide_resolution"},
		{Option: "escalate"},
		{Option: "defer", Days: &sevenDays},
	}, queued.Options)
}
