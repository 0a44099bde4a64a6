package config

// PolicyFile is the declarative governance policy bundle (§4.7, §6).
// It is loaded from policy.yaml (or a remote policy bundle, see
// pkg/policysrc) and consumed by pkg/policy's rules-file Binding.
type PolicyFile struct {
	// Version is an opaque identifier stamped into every DecisionRecord's
	// PolicyVersion field so audits can be tied back to the exact bundle
	// that produced them.
	Version string `yaml:"version" validate:"required"`

	// Mode is the top-level governance mode; overridable per scope.
	Mode Mode `yaml:"mode" validate:"required"`

	// Rules contribute to the suggested_actions union (§4.7.2).
	Rules []SuggestedActionRule `yaml:"rules,omitempty"`

	// TransitionRules are transition gates (§4.7.3).
	TransitionRules []TransitionGate `yaml:"transition_rules,omitempty"`

	// Scopes carries per-scope overrides, keyed by scope ID.
	Scopes map[string]ScopeOverride `yaml:"scopes,omitempty"`
}

// ScopeOverride overrides the top-level mode (and optionally appends
// additional rules) for one scope.
type ScopeOverride struct {
	Mode            *Mode                 `yaml:"mode,omitempty"`
	Rules           []SuggestedActionRule `yaml:"rules,omitempty"`
	TransitionRules []TransitionGate      `yaml:"transition_rules,omitempty"`
}

// DriftCondition is the "when" clause shared by suggested-action rules.
type DriftCondition struct {
	DriftLevel []DriftLevel `yaml:"drift_level,omitempty"`
	DriftType  []DriftType  `yaml:"drift_type,omitempty"`
}

// SuggestedActionRule maps a drift condition to a recommended remediation
// action. Multiple matching rules contribute their action to the union
// returned by Evaluate.
type SuggestedActionRule struct {
	Name   string         `yaml:"name,omitempty"`
	When   DriftCondition `yaml:"when"`
	Action string         `yaml:"action" validate:"required"`
}

// TransitionGate blocks a StateGraph transition when its block_when
// condition matches the currently loaded drift record.
type TransitionGate struct {
	From     string         `yaml:"from" validate:"required"`
	To       string         `yaml:"to" validate:"required"`
	BlockWhen DriftCondition `yaml:"block_when"`
	Reason   string         `yaml:"reason" validate:"required"`
}

// Matches reports whether the gate's block condition fires for the given
// drift level/type pair. An empty DriftLevel/DriftType list never matches
// on that dimension (both lists empty means the gate never fires).
func (c DriftCondition) Matches(level DriftLevel, typ DriftType) bool {
	levelMatch := len(c.DriftLevel) == 0
	for _, l := range c.DriftLevel {
		if l == level {
			levelMatch = true
			break
		}
	}
	if !levelMatch {
		return false
	}
	if len(c.DriftType) == 0 {
		return len(c.DriftLevel) > 0
	}
	for _, t := range c.DriftType {
		if t == typ {
			return true
		}
	}
	return false
}
