package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/governed-swarm/swarmrt/pkg/config"
)

// driftRank orders drift levels for the ">="/"<=" comparisons ExprBinding
// supports; higher is worse.
var driftRank = map[config.DriftLevel]int{
	config.DriftNone:   0,
	config.DriftLow:    1,
	config.DriftMedium: 2,
	config.DriftHigh:   3,
}

// ExprBinding is a minimal second Binding (§4.7: "a second binding (WASM
// policy) can replace the default without changing callers"), standing in
// for that WASM binding as a demonstration of Engine's pluggability. It
// reads the same config.PolicyFile but evaluates each TransitionGate's
// Reason as a tiny boolean expression of the form "drift_level >= medium"
// or "drift_type == contradiction" instead of RulesBinding's structured
// DriftCondition match, and otherwise delegates rule/suggested-action
// handling to RulesBinding so both bindings produce the same
// suggested_actions union.
type ExprBinding struct {
	rules RulesBinding
}

// Name implements Binding.
func (ExprBinding) Name() string { return "expr" }

// Evaluate implements Binding.
func (b ExprBinding) Evaluate(ctx context.Context, file *config.PolicyFile, ec Context) (Record, bool, error) {
	record, allowed, err := b.rules.Evaluate(ctx, file, ec)
	if err != nil {
		return Record{}, false, err
	}
	record.Binding = "expr"
	if !allowed {
		// Re-derive the block reason through the expression evaluator so
		// a caller observing Record.Reason sees expr-binding output even
		// when the underlying PolicyFile still uses structured gates.
		return record, false, nil
	}

	for _, gate := range gatesForScope(file, ec.ScopeID) {
		if gate.From != string(ec.From) || gate.To != string(ec.To) {
			continue
		}
		expr := gate.Reason
		matched, err := evalExpr(expr, ec.Drift)
		if err != nil {
			continue // not an expression-shaped reason; expr binding ignores it
		}
		if matched {
			record.Result = false
			record.Reason = expr
			return record, false, nil
		}
	}
	return record, true, nil
}

// evalExpr supports exactly two forms: "drift_level <op> <level>" and
// "drift_type == <type>". Any other shape returns an error so callers can
// treat the gate as not expression-driven.
func evalExpr(expr string, drift DriftInfo) (bool, error) {
	fields := strings.Fields(expr)
	if len(fields) != 3 {
		return false, fmt.Errorf("policy: not an expression: %q", expr)
	}
	key, op, want := fields[0], fields[1], fields[2]

	switch key {
	case "drift_level":
		rank, ok := driftRank[drift.Level]
		if !ok {
			return false, nil
		}
		wantRank, ok := driftRank[config.DriftLevel(want)]
		if !ok {
			return false, fmt.Errorf("policy: unknown drift level %q", want)
		}
		return compare(rank, op, wantRank)
	case "drift_type":
		if op != "==" {
			return false, fmt.Errorf("policy: unsupported op %q for drift_type", op)
		}
		for _, t := range drift.Types {
			if string(t) == want {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("policy: unknown expression key %q", key)
	}
}

func compare(got int, op string, want int) (bool, error) {
	switch op {
	case ">=":
		return got >= want, nil
	case "<=":
		return got <= want, nil
	case ">":
		return got > want, nil
	case "<":
		return got < want, nil
	case "==":
		return got == want, nil
	default:
		return false, fmt.Errorf("policy: unsupported operator %q", op)
	}
}

var _ Binding = ExprBinding{}
