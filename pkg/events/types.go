// Package events defines the event envelope published to the bus's
// swarm.events.* subjects, appended to the write-ahead log, and streamed
// to feed clients over SSE.
package events

import "time"

// Type is one of the closed set of swarm.events.<type> envelope kinds
// (§6 "Subjects (bus)").
type Type string

const (
	TypeContextDoc             Type = "context_doc"
	TypeResolution              Type = "resolution"
	TypeFactsExtracted          Type = "facts_extracted"
	TypeDriftAnalyzed           Type = "drift_analyzed"
	TypeActionsPlanned          Type = "actions_planned"
	TypeStateTransition         Type = "state_transition"
	TypeProposalApproved        Type = "proposal_approved"
	TypeProposalRejected        Type = "proposal_rejected"
	TypeProposalPendingApproval Type = "proposal_pending_approval"
	TypeSessionFinalized        Type = "session_finalized"
	TypeBootstrap               Type = "bootstrap"
)

// Subject returns the bus subject an envelope of this type publishes to.
func (t Type) Subject() string { return "swarm.events." + string(t) }

// Envelope is the JSON shape published to the bus and appended to the WAL:
// {type, ts, source, payload} (§6 "Event envelope").
type Envelope struct {
	Type    Type      `json:"type"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source"`
	Payload any       `json:"payload"`

	// Seq is the WAL sequence number, attached for feed catchup/replay. It
	// is never set by publishers — only by the WAL on append, and by the
	// feed when serving catchup rows.
	Seq int64 `json:"seq,omitempty"`
}

// ScopeChannel returns the SSE/fanout channel name for a scope's events.
func ScopeChannel(scopeID string) string { return "scope:" + scopeID }

// GlobalChannel is the fanout channel clients subscribe to for unfiltered
// cross-scope feed access (an operator dashboard showing every scope).
const GlobalChannel = "global"
