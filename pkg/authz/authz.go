// Package authz implements the writer-on-node capability check described
// in §4.7: a relationship-based `(principal, relation, object) →
// {allowed, reason}` authorization, deny-by-default on any error. No
// pack library specializes in Zanzibar-style relationship authorization,
// so this is a small stdlib implementation (net/http for the optional
// external-authorizer path) rather than a third-party dep — justified
// stdlib use, recorded in DESIGN.md.
package authz

import (
	"context"
	"fmt"
)

// Relation is a capability relation between a principal and an object.
type Relation string

// Writer is the only relation §4.5/§4.7 require: "can this agent write
// to this StateGraph node".
const Writer Relation = "writer"

// Decision is the result of a Check call.
type Decision struct {
	Allowed bool
	Reason  string
}

// Checker is the authorize(principal, relation, object) capability.
// Implementations must deny by default: any internal error should
// surface as (Decision{Allowed: false}, err), never a silent allow.
type Checker interface {
	Check(ctx context.Context, principal string, relation Relation, object string) (Decision, error)
}

// Tuple is one relationship grant: principal has relation on object.
type Tuple struct {
	Principal string
	Relation  Relation
	Object    string
}

// StaticChecker authorizes against an in-memory set of relationship
// tuples, configured at startup. Unknown (principal, relation, object)
// triples are denied.
type StaticChecker struct {
	tuples map[tupleKey]bool
}

type tupleKey struct {
	principal string
	relation  Relation
	object    string
}

// NewStaticChecker builds a StaticChecker from a fixed tuple set.
func NewStaticChecker(tuples []Tuple) *StaticChecker {
	index := make(map[tupleKey]bool, len(tuples))
	for _, t := range tuples {
		index[tupleKey{principal: t.Principal, relation: t.Relation, object: t.Object}] = true
	}
	return &StaticChecker{tuples: index}
}

// Check implements Checker. A wildcard object "*" in a tuple grants the
// relation against every object for that principal (used to let a role
// write to any node of the fixed state-machine, since the anchor-node
// gate in §4.4 already restricts which node a role may act on).
func (c *StaticChecker) Check(_ context.Context, principal string, relation Relation, object string) (Decision, error) {
	if c.tuples[tupleKey{principal: principal, relation: relation, object: object}] {
		return Decision{Allowed: true, Reason: "tuple_match"}, nil
	}
	if c.tuples[tupleKey{principal: principal, relation: relation, object: "*"}] {
		return Decision{Allowed: true, Reason: "wildcard_tuple_match"}, nil
	}
	return Decision{Allowed: false, Reason: "no_matching_tuple"}, nil
}

// Authorize is the §4.5 step 4 / §4.8 step 4 convenience wrapper: checks
// the writer relation and turns any error into an explicit deny, never a
// silent allow.
func Authorize(ctx context.Context, checker Checker, principal, object string) Decision {
	decision, err := checker.Check(ctx, principal, Writer, object)
	if err != nil {
		return Decision{Allowed: false, Reason: fmt.Sprintf("authorizer_error: %v", err)}
	}
	return decision
}
