package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/governed-swarm/swarmrt/pkg/config"
	"github.com/governed-swarm/swarmrt/pkg/review"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestHealthHandler_ReportsHealthyWhenDBReachable(t *testing.T) {
	s := &FeedServer{cfg: &config.Config{}, db: fakePinger{}}
	c, rec := newTestContext(http.MethodGet, "/health")

	s.healthHandler(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestHealthHandler_ReportsUnhealthyWhenDBUnreachable(t *testing.T) {
	s := &FeedServer{cfg: &config.Config{}, db: fakePinger{err: errors.New("connection refused")}}
	c, rec := newTestContext(http.MethodGet, "/health")

	s.healthHandler(c)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
}

func TestSummaryHandler_RequiresScopeQueryParam(t *testing.T) {
	s := &FeedServer{cfg: &config.Config{}}
	c, rec := newTestContext(http.MethodGet, "/summary")

	s.summaryHandler(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToPendingResponses_TranslatesEveryField(t *testing.T) {
	now := time.Now()
	rows := []review.Pending{
		{
			ProposalID: "p1",
			Kind:       "proposal_review",
			ScopeID:    "scope-1",
			Body:       json.RawMessage(`{"a":1}`),
			Status:     "pending",
			CreatedAt:  now,
		},
	}

	out := toPendingResponses(rows)

	require.Len(t, out, 1)
	assert.Equal(t, "p1", out[0].ProposalID)
	assert.Equal(t, "proposal_review", out[0].Kind)
	assert.Equal(t, "scope-1", out[0].ScopeID)
	assert.JSONEq(t, `{"a":1}`, string(out[0].Body))
	assert.Equal(t, "pending", out[0].Status)
	assert.Equal(t, now, out[0].CreatedAt)
}

func TestToPendingResponses_EmptyInputReturnsEmptySlice(t *testing.T) {
	out := toPendingResponses(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}
