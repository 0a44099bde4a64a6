// Package policy implements the Policy Engine (§4.7): a pluggable,
// declarative evaluator of transition gates and suggested-remediation
// rules over config.PolicyFile. No pack library specializes in rule
// evaluation over a closed declarative schema (no OPA/Rego, no CEL
// dependency anywhere in the examples), so Evaluate is pure Go logic
// over pkg/config's already-loaded types — justified stdlib use,
// recorded in DESIGN.md.
package policy

import (
	"context"
	"fmt"

	"github.com/governed-swarm/swarmrt/pkg/config"
	"github.com/governed-swarm/swarmrt/pkg/stategraph"
)

// DriftInfo is the subset of a drift record Evaluate consumes.
type DriftInfo struct {
	Level config.DriftLevel
	Types []config.DriftType
}

// Context bundles one evaluation's inputs: a transition to check plus the
// current drift classification driving both the transition gate and the
// suggested-actions union.
type Context struct {
	ScopeID string
	From    stategraph.Node
	To      stategraph.Node
	Drift   DriftInfo
}

// Record is the audit record every Evaluate call returns (§4.7:
// "policy_version, result, reason, obligations, suggested_actions,
// binding").
type Record struct {
	PolicyVersion    string   `json:"policy_version"`
	Result           bool     `json:"result"`
	Reason           string   `json:"reason"`
	Obligations      []string `json:"obligations,omitempty"`
	SuggestedActions []string `json:"suggested_actions,omitempty"`
	Binding          string   `json:"binding"`
}

// Binding is one pluggable policy implementation. Engine holds exactly
// one active Binding, selected at startup by config; a second binding can
// replace the default without changing any caller (§4.7: "a second
// binding (WASM policy) can replace the default without changing
// callers").
type Binding interface {
	Name() string
	Evaluate(ctx context.Context, file *config.PolicyFile, ec Context) (Record, bool, error)
}

// Engine evaluates policy through its configured Binding and doubles as a
// stategraph.TransitionGate so pkg/executor can drive AdvanceState's CAS
// straight through it.
type Engine struct {
	binding Binding
	file    *config.PolicyFile
}

// New creates an Engine over file, evaluated through binding.
func New(file *config.PolicyFile, binding Binding) *Engine {
	return &Engine{binding: binding, file: file}
}

// Evaluate runs the configured binding, returning both the audit record
// and the boolean allowed/denied outcome (§4.7's "Evaluate(context) →
// {record, allowed}").
func (e *Engine) Evaluate(ctx context.Context, ec Context) (Record, bool, error) {
	record, allowed, err := e.binding.Evaluate(ctx, e.file, ec)
	if err != nil {
		return Record{}, false, fmt.Errorf("evaluate policy for scope %s: %w", ec.ScopeID, err)
	}
	return record, allowed, nil
}

// SuggestedActions runs Evaluate purely for its suggested-actions union,
// for use as pkg/agentloop.SuggestionsFunc by the planner role.
func (e *Engine) SuggestedActions(ctx context.Context, scopeID string, drift DriftInfo) ([]string, error) {
	record, _, err := e.Evaluate(ctx, Context{ScopeID: scopeID, Drift: drift})
	if err != nil {
		return nil, err
	}
	return record.SuggestedActions, nil
}

// CanTransition implements stategraph.TransitionGate: drift is expected to
// be a DriftInfo (pkg/executor builds one from the loaded drift record
// before calling AdvanceState).
func (e *Engine) CanTransition(ctx context.Context, scopeID string, from, to stategraph.Node, drift any) (bool, string, error) {
	info, _ := drift.(DriftInfo)
	record, allowed, err := e.Evaluate(ctx, Context{ScopeID: scopeID, From: from, To: to, Drift: info})
	if err != nil {
		return false, "", err
	}
	return allowed, record.Reason, nil
}

var _ stategraph.TransitionGate = (*Engine)(nil)
