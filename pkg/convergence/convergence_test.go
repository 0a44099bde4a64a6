package convergence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/governed-swarm/swarmrt/pkg/config"
)

func equalWeights() config.DimensionWeights {
	return config.DefaultDimensionWeights()
}

func TestLyapunov_ZeroWhenAllDimensionsPerfect(t *testing.T) {
	v := Lyapunov(equalWeights(), DimensionActuals{Confidence: 1, Resolution: 1, Goals: 1, Risk: 1})
	assert.InDelta(t, 0, v, 1e-9)
}

func TestLyapunov_PositiveWhenImperfect(t *testing.T) {
	v := Lyapunov(equalWeights(), DimensionActuals{Confidence: 0.5, Resolution: 0.5, Goals: 0.5, Risk: 0.5})
	assert.Greater(t, v, 0.0)
}

func TestPressures_IdentifiesBottleneck(t *testing.T) {
	_, bottleneck := Pressures(equalWeights(), DimensionActuals{
		Confidence: 0.9, Resolution: 0.9, Goals: 0.1, Risk: 0.9,
	})
	assert.Equal(t, "goals", bottleneck)
}

func TestRate_RequiresAtLeastTwoPoints(t *testing.T) {
	_, ok := Rate([]Point{{VLyapunov: 0.5}})
	assert.False(t, ok)
}

func TestRate_PositiveWhenVDecreasing(t *testing.T) {
	history := []Point{
		{Round: 1, VLyapunov: 1.0},
		{Round: 2, VLyapunov: 0.5},
		{Round: 3, VLyapunov: 0.25},
	}
	rate, ok := Rate(history)
	assert.True(t, ok)
	assert.InDelta(t, math.Log(2), rate, 1e-9)
}

func TestEstimatedRounds_ZeroWhenAlreadyConverged(t *testing.T) {
	rounds := EstimatedRounds(0.5, 0.001)
	assert.NotNil(t, rounds)
	assert.Equal(t, 0, *rounds)
}

func TestEstimatedRounds_NilWhenRateTooLow(t *testing.T) {
	assert.Nil(t, EstimatedRounds(0.0005, 0.5))
}

func TestEstimatedRounds_CapsAt1000(t *testing.T) {
	rounds := EstimatedRounds(1e-3+1e-9, 0.99)
	assert.NotNil(t, rounds)
	assert.LessOrEqual(t, *rounds, 1000)
}

func TestMonotonic_TrueWhenNonDecreasing(t *testing.T) {
	history := []Point{{GoalScore: 0.1}, {GoalScore: 0.2}, {GoalScore: 0.3}}
	assert.True(t, Monotonic(history, 3))
}

func TestMonotonic_FalseWhenDecreasingBeyondTolerance(t *testing.T) {
	history := []Point{{GoalScore: 0.5}, {GoalScore: 0.1}, {GoalScore: 0.3}}
	assert.False(t, Monotonic(history, 3))
}

func TestDirectionChanges_CountsFlips(t *testing.T) {
	history := []Point{
		{GoalScore: 0.1}, {GoalScore: 0.3}, {GoalScore: 0.2}, {GoalScore: 0.5}, {GoalScore: 0.4},
	}
	// deltas: +0.2, -0.1, +0.3, -0.1 => flips at each consecutive pair => 3
	assert.Equal(t, 3, DirectionChanges(history))
}

func TestOscillating_TrueWithTwoOrMoreFlips(t *testing.T) {
	history := []Point{
		{GoalScore: 0.1}, {GoalScore: 0.3}, {GoalScore: 0.2}, {GoalScore: 0.5}, {GoalScore: 0.4},
	}
	assert.True(t, Oscillating(history))
}

func TestPlateau_DeclaresPlateauAfterTauBelowThreshold(t *testing.T) {
	cfg := config.ConvergenceConfig{EMAAlpha: 0.3, PlateauThreshold: 0.01, Tau: 2}
	history := []Point{
		{GoalScore: 0.80},
		{GoalScore: 0.801},
		{GoalScore: 0.8015},
		{GoalScore: 0.8017},
	}
	state := Plateau(cfg, history)
	assert.True(t, state.Plateaued)
	assert.GreaterOrEqual(t, state.ConsecutiveBelow, cfg.Tau)
}

func TestTrajectoryQuality_PerfectWhenNoFlips(t *testing.T) {
	history := []Point{{GoalScore: 0.1}, {GoalScore: 0.2}, {GoalScore: 0.3}}
	assert.Equal(t, 1.0, TrajectoryQuality(history))
}
