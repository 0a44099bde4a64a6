package config

import (
	"fmt"
	"math"
)

const weightSumTolerance = 1e-6

// Validate checks structural and cross-field invariants that the yaml tags'
// `validate:"..."` hints alone cannot express (weight sums, threshold
// ordering, enum membership). It is called once at the end of Initialize.
func Validate(cfg *Config) error {
	if cfg.ObjectStore.Bucket == "" {
		return NewValidationError("object_store", "bucket", ErrMissingRequiredField)
	}

	if cfg.Policy != nil {
		if err := validatePolicy(cfg.Policy); err != nil {
			return err
		}
	}
	if cfg.Finality != nil {
		if err := validateFinality(cfg.Finality); err != nil {
			return err
		}
	}
	return nil
}

func validatePolicy(p *PolicyFile) error {
	if !p.Mode.IsValid() {
		return NewValidationError("policy", "mode", fmt.Errorf("%w: %q", ErrInvalidValue, p.Mode))
	}
	for i, r := range p.TransitionRules {
		if r.From == "" || r.To == "" {
			return NewValidationError("policy", fmt.Sprintf("transition_rules[%d]", i), ErrMissingRequiredField)
		}
	}
	for scope, override := range p.Scopes {
		if override.Mode != nil && !override.Mode.IsValid() {
			return NewValidationError("policy", fmt.Sprintf("scopes[%s].mode", scope), ErrInvalidValue)
		}
	}
	return nil
}

func validateFinality(f *FinalityFile) error {
	sum := f.GoalGradient.Weights.Sum()
	if math.Abs(sum-1.0) > weightSumTolerance {
		return NewValidationError("finality.goal_gradient.weights", "sum",
			fmt.Errorf("%w: weights sum to %f, want 1.0", ErrInvalidValue, sum))
	}
	if f.GoalGradient.NearThreshold > f.GoalGradient.AutoThreshold {
		return NewValidationError("finality.goal_gradient", "near_threshold",
			fmt.Errorf("%w: near_threshold (%f) must be <= auto_threshold (%f)",
				ErrInvalidValue, f.GoalGradient.NearThreshold, f.GoalGradient.AutoThreshold))
	}
	if f.Convergence.Beta < 1 || f.Convergence.Tau < 1 {
		return NewValidationError("finality.convergence", "beta/tau", ErrInvalidValue)
	}
	for status, group := range f.Finality {
		if !group.Mode.IsValid() {
			return NewValidationError("finality.finality", fmt.Sprintf("%s.mode", status), ErrInvalidValue)
		}
		if len(group.Conditions) == 0 {
			return NewValidationError("finality.finality", fmt.Sprintf("%s.conditions", status), ErrMissingRequiredField)
		}
	}
	return nil
}
