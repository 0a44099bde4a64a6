// Package roles implements the Role Runners (§4.6) and the compile-time
// agent registry (§9 Design Notes: "Agent registry is a compile-time table
// role → {jobType, requiresNode, resultEventType, proposesAdvance,
// advancesTo}; runners are selected by role name").
package roles

import (
	"context"

	"github.com/governed-swarm/swarmrt/pkg/events"
	"github.com/governed-swarm/swarmrt/pkg/stategraph"
)

// Role names, used as the durable consumer name and as the filter_configs/
// agent_memory primary key.
const (
	Facts   = "facts-role"
	Drift   = "drift-role"
	Planner = "planner-role"
)

// Status is the status-runner's role name. It is not registered in
// Registry: §4.6 notes it is "not part of the correctness core", and §6's
// GET /summary is a synchronous read rather than a StateGraph-anchored
// pipeline stage, so it is invoked directly by the feed server instead of
// through the bus-driven Agent Loop Runtime.
const Status = "status-role"

// Spec is one role's fixed wiring: which job it answers, which StateGraph
// node it requires (the anchor-node gate, §4.4), what event it emits, and
// whether it proposes a StateGraph advance.
type Spec struct {
	Role            string
	JobType         string
	RequiresNode    stategraph.Node
	ResultEventType events.Type
	ProposesAdvance bool
	AdvancesTo      stategraph.Node
	// Mode is the proposal mode attached to the advance proposal when
	// ProposesAdvance is true (§4.5 step 8: "typically YOLO").
	Mode string
}

// Registry is the compile-time role → Spec table.
var Registry = map[string]Spec{
	Facts: {
		Role:            Facts,
		JobType:         "extract_facts",
		RequiresNode:    stategraph.NodeContextIngested,
		ResultEventType: events.TypeFactsExtracted,
		ProposesAdvance: true,
		AdvancesTo:      stategraph.NodeFactsExtracted,
		Mode:            "YOLO",
	},
	Drift: {
		Role:            Drift,
		JobType:         "check_drift",
		RequiresNode:    stategraph.NodeFactsExtracted,
		ResultEventType: events.TypeDriftAnalyzed,
		ProposesAdvance: true,
		AdvancesTo:      stategraph.NodeDriftChecked,
		Mode:            "YOLO",
	},
	Planner: {
		Role:            Planner,
		JobType:         "plan_actions",
		RequiresNode:    stategraph.NodeDriftChecked,
		ResultEventType: events.TypeActionsPlanned,
		ProposesAdvance: true,
		AdvancesTo:      stategraph.NodeContextIngested,
		Mode:            "YOLO",
	},
}

// Runner is the pure-function role runner interface: given stored context
// and the previous output, produce the new output. Implementations must
// not mutate anything outside the returned Output (object-store writes are
// the one documented exception, performed inside Run itself per §4.6).
type Runner interface {
	Run(ctx context.Context, in Input) (Output, error)
}

// Input bundles what every runner needs: (stored_context, previous_output,
// s3_adapter) per §4.6, plus whatever upstream role outputs a downstream
// role consumes (drift needs facts, planner needs facts+drift+suggestions).
type Input struct {
	ScopeID string

	// StoredContext is the scope's recent WAL history, newest first
	// (pkg/wal.Store.TailEvents).
	StoredContext []events.Envelope

	// GovernanceSuggestions feeds the planner runner (§4.6); empty for
	// other roles.
	GovernanceSuggestions []string
}

// Output is what a runner hands back to the agent loop: the event payload
// to publish plus the hash to persist for the next activation's dedup
// check (§4.4).
type Output struct {
	Payload any
	Hash    string
}
