package api

import (
	"encoding/json"
	"time"

	"github.com/governed-swarm/swarmrt/pkg/config"
)

// HealthResponse is returned by GET /health on both servers (§6).
type HealthResponse struct {
	Status        string       `json:"status"`
	Database      string       `json:"database"`
	Configuration config.Stats `json:"configuration"`
}

// PendingResponse is one row of GET /pending, translated from
// review.Pending into the wire shape clients see (§4.13).
type PendingResponse struct {
	ProposalID string          `json:"proposal_id"`
	Kind       string          `json:"kind"`
	ScopeID    string          `json:"scope_id"`
	Body       json.RawMessage `json:"body"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SummaryResponse is returned by GET /summary.
type SummaryResponse struct {
	ScopeID    string `json:"scope_id"`
	Node       string `json:"node"`
	Text       string `json:"text"`
	ClaimCount int    `json:"claim_count"`
	RiskCount  int    `json:"risk_count"`
	DriftLevel string `json:"drift_level"`
}
