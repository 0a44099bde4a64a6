package policy

import (
	"context"

	"github.com/governed-swarm/swarmrt/pkg/config"
)

// RulesBinding is the default Binding: a direct reading of
// config.PolicyFile's declarative rules (§4.7 sections 2 and 3), with no
// interpretation layer in between.
type RulesBinding struct{}

// Name implements Binding.
func (RulesBinding) Name() string { return "rules" }

// Evaluate implements Binding. result/allowed is true unless a
// transition gate's block_when condition matches; suggested_actions is
// the union of every matching rule's action, regardless of the
// transition outcome (§4.7: "Multiple rules may match; their union is
// returned").
func (RulesBinding) Evaluate(_ context.Context, file *config.PolicyFile, ec Context) (Record, bool, error) {
	record := Record{Binding: "rules", Result: true, Reason: "no_matching_gate"}
	if file == nil {
		return record, true, nil
	}
	record.PolicyVersion = file.Version

	actions := make([]string, 0, 4)
	seen := make(map[string]bool, 4)
	for _, rule := range rulesForScope(file, ec.ScopeID) {
		if !matchesAny(rule.When, ec.Drift) {
			continue
		}
		if seen[rule.Action] {
			continue
		}
		seen[rule.Action] = true
		actions = append(actions, rule.Action)
	}
	record.SuggestedActions = actions

	for _, gate := range gatesForScope(file, ec.ScopeID) {
		if gate.From != string(ec.From) || gate.To != string(ec.To) {
			continue
		}
		if matchesAny(gate.BlockWhen, ec.Drift) {
			record.Result = false
			record.Reason = gate.Reason
			return record, false, nil
		}
	}

	return record, true, nil
}

// matchesAny reports whether any of drift.Types (or drift.Level alone,
// per DriftCondition.Matches's own empty-type-list rule) satisfies cond.
func matchesAny(cond config.DriftCondition, drift DriftInfo) bool {
	if len(drift.Types) == 0 {
		return cond.Matches(drift.Level, "")
	}
	for _, t := range drift.Types {
		if cond.Matches(drift.Level, t) {
			return true
		}
	}
	return false
}

func rulesForScope(file *config.PolicyFile, scopeID string) []config.SuggestedActionRule {
	rules := append([]config.SuggestedActionRule{}, file.Rules...)
	if override, ok := file.Scopes[scopeID]; ok {
		rules = append(rules, override.Rules...)
	}
	return rules
}

func gatesForScope(file *config.PolicyFile, scopeID string) []config.TransitionGate {
	gates := append([]config.TransitionGate{}, file.TransitionRules...)
	if override, ok := file.Scopes[scopeID]; ok {
		gates = append(gates, override.TransitionRules...)
	}
	return gates
}

var _ Binding = RulesBinding{}
