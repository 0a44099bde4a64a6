// Package convergence implements the Convergence Tracker (§4.12): pure
// analytics over a persisted per-scope history of goal-dimension scores,
// plus the two DB calls (record/load) that feed it. Grounded on
// luxfi-consensus's dependency graph, which pulls in both
// github.com/montanaflynn/stats and gonum for its own convergence-style
// numerics — used here for the mean in the convergence-rate calculation
// rather than a hand-rolled loop.
package convergence

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/montanaflynn/stats"

	"github.com/governed-swarm/swarmrt/pkg/config"
)

// epsilon is the Lyapunov floor below which a scope is considered
// converged for the estimated-rounds calculation (§4.12).
const epsilon = 0.005

// vFloor keeps V_{i-1} away from zero in the convergence-rate log ratio.
const vFloor = 1e-10

// DimensionActuals is one round's four goal-score dimension values,
// matching config.DimensionWeights' fields (targets default to 1 across
// all four per §4.12).
type DimensionActuals struct {
	Confidence float64
	Resolution float64
	Goals      float64
	Risk       float64
}

// Point is one persisted convergence-history row.
type Point struct {
	Round      int
	Dimensions DimensionActuals
	GoalScore  float64
	VLyapunov  float64
	CreatedAt  time.Time
}

// Store persists convergence_history rows. recordConvergencePoint and
// loadConvergenceHistory are the only DB calls §4.12 allows; everything
// else in this package is a pure function over the loaded []Point.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// RecordPoint appends one convergence-history row for scopeID.
func (s *Store) RecordPoint(ctx context.Context, scopeID string, round int, dims DimensionActuals, goalScore, vLyapunov float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO convergence_history (scope_id, round, dimensions, goal_score, v_lyapunov)
		 VALUES ($1, $2, $3, $4, $5)`,
		scopeID, round,
		map[string]float64{
			"confidence": dims.Confidence,
			"resolution": dims.Resolution,
			"goals":      dims.Goals,
			"risk":       dims.Risk,
		},
		goalScore, vLyapunov)
	if err != nil {
		return fmt.Errorf("record convergence point for scope %s: %w", scopeID, err)
	}
	return nil
}

// LoadHistory returns the most recent depth rows for scopeID, oldest
// first (ascending round), the order every analysis function below
// expects.
func (s *Store) LoadHistory(ctx context.Context, scopeID string, depth int) ([]Point, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT round, dimensions, goal_score, v_lyapunov, created_at
		 FROM convergence_history
		 WHERE scope_id = $1
		 ORDER BY round DESC
		 LIMIT $2`,
		scopeID, depth)
	if err != nil {
		return nil, fmt.Errorf("load convergence history for scope %s: %w", scopeID, err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		var dims map[string]float64
		if err := rows.Scan(&p.Round, &dims, &p.GoalScore, &p.VLyapunov, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan convergence point for scope %s: %w", scopeID, err)
		}
		p.Dimensions = DimensionActuals{
			Confidence: dims["confidence"],
			Resolution: dims["resolution"],
			Goals:      dims["goals"],
			Risk:       dims["risk"],
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate convergence history for scope %s: %w", scopeID, err)
	}

	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

// TrimHistory deletes every convergence_history row for scopeID older
// than the keepRounds most recent, per the retention config's
// convergence_keep_rounds (SPEC_FULL §C.2). The evaluated scope keeps
// converging on its own recent history; rounds past the keep window no
// longer feed any calculation in this package.
func (s *Store) TrimHistory(ctx context.Context, scopeID string, keepRounds int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM convergence_history
		 WHERE scope_id = $1 AND round NOT IN (
			 SELECT round FROM convergence_history
			 WHERE scope_id = $1
			 ORDER BY round DESC
			 LIMIT $2
		 )`,
		scopeID, keepRounds)
	if err != nil {
		return 0, fmt.Errorf("trim convergence history for scope %s: %w", scopeID, err)
	}
	return tag.RowsAffected(), nil
}

// TrimAllScopes runs TrimHistory for every scope with convergence history,
// the cleanup service's sweep (unlike ExpireStale, scoped per-scope_id
// since "most recent N rounds" is meaningless without a scope).
func (s *Store) TrimAllScopes(ctx context.Context, keepRounds int) (int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT scope_id FROM convergence_history`)
	if err != nil {
		return 0, fmt.Errorf("list convergence scopes: %w", err)
	}
	var scopeIDs []string
	for rows.Next() {
		var scopeID string
		if err := rows.Scan(&scopeID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan convergence scope: %w", err)
		}
		scopeIDs = append(scopeIDs, scopeID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate convergence scopes: %w", err)
	}

	var total int64
	for _, scopeID := range scopeIDs {
		n, err := s.TrimHistory(ctx, scopeID, keepRounds)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Lyapunov computes V = Σ w_d × (target_d − actual_d)² with targets fixed
// at 1 across all four dimensions (§4.12).
func Lyapunov(weights config.DimensionWeights, actual DimensionActuals) float64 {
	return weights.Confidence*square(1-actual.Confidence) +
		weights.Resolution*square(1-actual.Resolution) +
		weights.Goals*square(1-actual.Goals) +
		weights.Risk*square(1-actual.Risk)
}

func square(x float64) float64 { return x * x }

// Pressures computes per-dimension pressure w_d × max(0, 1 − actual_d)
// and names the bottleneck (the largest pressure; ties broken in
// confidence/resolution/goals/risk order).
func Pressures(weights config.DimensionWeights, actual DimensionActuals) (pressures map[string]float64, bottleneck string) {
	pressures = map[string]float64{
		"confidence": weights.Confidence * math.Max(0, 1-actual.Confidence),
		"resolution": weights.Resolution * math.Max(0, 1-actual.Resolution),
		"goals":      weights.Goals * math.Max(0, 1-actual.Goals),
		"risk":       weights.Risk * math.Max(0, 1-actual.Risk),
	}
	order := []string{"confidence", "resolution", "goals", "risk"}
	bottleneck = order[0]
	for _, name := range order[1:] {
		if pressures[name] > pressures[bottleneck] {
			bottleneck = name
		}
	}
	return pressures, bottleneck
}

// Rate computes the convergence rate α: the mean of −ln(V_i / V_{i-1})
// over the last min(5, len(history)-1) consecutive pairs, V floored to
// vFloor to avoid log(0). Returns ok=false if fewer than two points are
// available.
func Rate(history []Point) (rate float64, ok bool) {
	if len(history) < 2 {
		return 0, false
	}

	n := len(history) - 1
	if n > 5 {
		n = 5
	}
	start := len(history) - n

	ratios := make([]float64, 0, n)
	for i := start; i < len(history); i++ {
		prev := math.Max(history[i-1].VLyapunov, vFloor)
		cur := math.Max(history[i].VLyapunov, vFloor)
		ratios = append(ratios, -math.Log(cur/prev))
	}

	mean, err := stats.Mean(ratios)
	if err != nil {
		return 0, false
	}
	return mean, true
}

// EstimatedRounds computes ⌈−ln(ε / V_current) / α⌉, the remaining
// rounds to finality at the current convergence rate. Returns nil if the
// scope is diverging or progressing too slowly to estimate (α ≤ 1e-3),
// 0 if already converged (V_current ≤ ε), and caps the estimate at 1000.
func EstimatedRounds(rate, currentV float64) *int {
	if currentV <= epsilon {
		zero := 0
		return &zero
	}
	if rate <= 1e-3 {
		return nil
	}

	rounds := int(math.Ceil(-math.Log(epsilon/currentV) / rate))
	if rounds > 1000 {
		rounds = 1000
	}
	if rounds < 0 {
		return nil
	}
	return &rounds
}

// Monotonic reports whether the last beta goal scores are non-decreasing
// within tolerance (§4.11a gate B). True vacuously when there are fewer
// than beta points.
func Monotonic(history []Point, beta int) bool {
	const tolerance = 0.001
	if len(history) < 2 {
		return true
	}
	window := history
	if len(window) > beta {
		window = window[len(window)-beta:]
	}
	for i := 1; i < len(window); i++ {
		if window[i].GoalScore < window[i-1].GoalScore-tolerance {
			return false
		}
	}
	return true
}

// DirectionChanges counts sign flips between consecutive goal-score
// deltas across the loaded history (zero deltas don't count as a flip
// either way).
func DirectionChanges(history []Point) int {
	var deltas []float64
	for i := 1; i < len(history); i++ {
		d := history[i].GoalScore - history[i-1].GoalScore
		if d != 0 {
			deltas = append(deltas, d)
		}
	}
	changes := 0
	for i := 1; i < len(deltas); i++ {
		if (deltas[i] > 0) != (deltas[i-1] > 0) {
			changes++
		}
	}
	return changes
}

// TrajectoryQuality computes 1 − 0.5 × (direction_changes / max_possible)
// over the loaded history (§4.11a gate C). max_possible is the number of
// consecutive delta pairs available; quality is 1 when too few points
// exist to flip direction.
func TrajectoryQuality(history []Point) float64 {
	maxPossible := len(history) - 2
	if maxPossible <= 0 {
		return 1
	}
	changes := DirectionChanges(history)
	return 1 - 0.5*(float64(changes)/float64(maxPossible))
}

// Oscillating reports whether recent history shows at least two
// direction changes (§4.12's oscillation signal).
func Oscillating(history []Point) bool {
	return DirectionChanges(history) >= 2
}

// PlateauState is the replayed MACI plateau-detection result (§4.12):
// an EMA of the progress ratio Δscore/remaining_gap, reset whenever the
// gap collapses to zero, with a run-length of consecutive below-
// threshold rounds.
type PlateauState struct {
	EMAProgress      float64
	ConsecutiveBelow int
	Plateaued        bool
}

// Plateau replays the EMA progress-ratio signal over the full loaded
// history (the only state this needs — cfg.EMAAlpha and
// cfg.PlateauThreshold — is config, so recomputing from history is
// cheap and keeps the tracker stateless between calls).
func Plateau(cfg config.ConvergenceConfig, history []Point) PlateauState {
	var state PlateauState
	for i := 1; i < len(history); i++ {
		prevScore := history[i-1].GoalScore
		curScore := history[i].GoalScore
		remainingGap := 1 - prevScore
		var progress float64
		if remainingGap > 0 {
			progress = (curScore - prevScore) / remainingGap
		} else {
			progress = 1
		}

		if i == 1 {
			state.EMAProgress = progress
		} else {
			state.EMAProgress = cfg.EMAAlpha*progress + (1-cfg.EMAAlpha)*state.EMAProgress
		}

		if state.EMAProgress < cfg.PlateauThreshold {
			state.ConsecutiveBelow++
		} else {
			state.ConsecutiveBelow = 0
		}
	}
	state.Plateaued = state.ConsecutiveBelow >= cfg.Tau
	return state
}
