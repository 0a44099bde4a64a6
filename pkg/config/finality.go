package config

import "time"

// FinalityFile is the declarative bundle driving the Finality Evaluator
// and Convergence Tracker (§4.11, §4.12, §6).
type FinalityFile struct {
	Version      string               `yaml:"version" validate:"required"`
	GoalGradient GoalGradientConfig   `yaml:"goal_gradient"`
	Convergence  ConvergenceConfig    `yaml:"convergence"`
	Quiescence   QuiescenceConfig     `yaml:"quiescence"`
	Finality     map[string]RuleGroup `yaml:"finality"`
	// ReviewDeferDays is the day count offered with the HITL review's
	// "defer" option (§8 scenario 3: "defer(7)").
	ReviewDeferDays int `yaml:"review_defer_days" validate:"min=1"`
}

// GoalGradientConfig holds the four dimension weights and the two
// near/auto finality thresholds (§4.11).
type GoalGradientConfig struct {
	Weights       DimensionWeights `yaml:"weights"`
	NearThreshold float64          `yaml:"near_threshold" validate:"gte=0,lte=1"`
	AutoThreshold float64          `yaml:"auto_threshold" validate:"gte=0,lte=1"`
}

// DimensionWeights are the four goal-score dimension weights; they must
// sum to 1 (validated with a small floating-point tolerance).
type DimensionWeights struct {
	Confidence float64 `yaml:"confidence"`
	Resolution float64 `yaml:"resolution"`
	Goals      float64 `yaml:"goals"`
	Risk       float64 `yaml:"risk"`
}

// Sum returns the sum of the four weights.
func (w DimensionWeights) Sum() float64 {
	return w.Confidence + w.Resolution + w.Goals + w.Risk
}

// DefaultDimensionWeights returns the spec's default weights
// (0.30/0.30/0.25/0.15).
func DefaultDimensionWeights() DimensionWeights {
	return DimensionWeights{Confidence: 0.30, Resolution: 0.30, Goals: 0.25, Risk: 0.15}
}

// ConvergenceConfig parameterizes the Convergence Tracker (§4.12).
type ConvergenceConfig struct {
	// Beta (β) is the monotonicity window: number of trailing score
	// points that must be non-decreasing.
	Beta int `yaml:"beta" validate:"min=1"`
	// Tau (τ) is the number of consecutive below-threshold plateau
	// rounds required to declare a plateau.
	Tau int `yaml:"tau" validate:"min=1"`
	// EMAAlpha is the exponential-moving-average smoothing factor for
	// the plateau progress-ratio signal.
	EMAAlpha float64 `yaml:"ema_alpha" validate:"gt=0,lte=1"`
	// PlateauThreshold is the progress-ratio EMA floor below which a
	// round counts toward a plateau.
	PlateauThreshold float64 `yaml:"plateau_threshold"`
	// HistoryDepth bounds how many convergence points are loaded/kept
	// per scope.
	HistoryDepth int `yaml:"history_depth" validate:"min=1"`
	// DivergenceRate is the convergence-rate floor below which the
	// evaluator short-circuits to ESCALATED.
	DivergenceRate float64 `yaml:"divergence_rate"`
}

// QuiescenceConfig gates RESOLVED on a minimum idle period (§4.11a gate D).
// Zero values disable the gate entirely.
type QuiescenceConfig struct {
	MinIdleCycles int           `yaml:"min_idle_cycles"`
	Window        time.Duration `yaml:"window"`
}

// Enabled reports whether the quiescence gate is configured (non-zero).
func (q QuiescenceConfig) Enabled() bool {
	return q.MinIdleCycles > 0 || q.Window > 0
}

// RuleGroup is one entry of the `finality{status -> {mode, conditions[]}}`
// map (§6): the set of conditions (combined by Mode) that must hold for
// the evaluator to consider returning this status.
type RuleGroup struct {
	Mode       GateMode `yaml:"mode"`
	Conditions []string `yaml:"conditions"`
}

// DefaultFinalityFile returns built-in defaults used when no finality.yaml
// is present, or to fill gaps left by a partial user file.
func DefaultFinalityFile() *FinalityFile {
	return &FinalityFile{
		Version:      "builtin-1",
		GoalGradient: GoalGradientConfig{
			Weights:       DefaultDimensionWeights(),
			NearThreshold: 0.55,
			AutoThreshold: 0.85,
		},
		Convergence: ConvergenceConfig{
			Beta:             3,
			Tau:              3,
			EMAAlpha:         0.3,
			PlateauThreshold: 0.01,
			HistoryDepth:     50,
			DivergenceRate:   0,
		},
		Quiescence:      QuiescenceConfig{},
		ReviewDeferDays: 7,
		Finality:        map[string]RuleGroup{
			string(FinalityEscalated): {
				Mode:       GateModeAny,
				Conditions: []string{"contradictions_unresolved_count >= 3"},
			},
			string(FinalityBlocked): {
				Mode:       GateModeAny,
				Conditions: []string{"risks_critical_active_count >= 1"},
			},
			string(FinalityExpired): {
				Mode:       GateModeAll,
				Conditions: []string{"scope_idle_cycles >= 50"},
			},
		},
	}
}
