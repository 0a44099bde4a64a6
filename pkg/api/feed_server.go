// Package api implements the two HTTP servers of §6's "HTTP surface
// (core only)": the feed server (read-mostly status/event access plus
// context ingestion) and the review server (the Human-Review Queue's
// resolution endpoints). Grounded on the teacher's pkg/api.Server: a
// gin.Engine wrapped in a Server struct, constructed with its hard
// dependencies, wired the rest of the way via Set* methods, checked by
// ValidateWiring before Start.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/governed-swarm/swarmrt/pkg/config"
	"github.com/governed-swarm/swarmrt/pkg/convergence"
	"github.com/governed-swarm/swarmrt/pkg/events"
	"github.com/governed-swarm/swarmrt/pkg/graph"
	"github.com/governed-swarm/swarmrt/pkg/review"
	"github.com/governed-swarm/swarmrt/pkg/roles"
	"github.com/governed-swarm/swarmrt/pkg/stategraph"
)

// dbPinger is the subset of pgxpool.Pool the health handler needs.
type dbPinger interface {
	Ping(ctx context.Context) error
}

// SubmitContextDocRequest is the body of POST /context/docs.
type SubmitContextDocRequest struct {
	ScopeID string         `json:"scope_id" binding:"required"`
	DocID   string         `json:"doc_id" binding:"required"`
	Source  string         `json:"source,omitempty"`
	Content string         `json:"content" binding:"required"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// SubmitResolutionRequest is the body of POST /context/resolution.
type SubmitResolutionRequest struct {
	ScopeID string `json:"scope_id" binding:"required"`
	Text    string `json:"text" binding:"required"`
	Author  string `json:"author,omitempty"`
}

// FinalityResponseRequest is the body of POST /finality-response (feed) —
// unlike the review server's POST /finality-response/:id, the proposal ID
// travels in the body instead of the path.
type FinalityResponseRequest struct {
	ProposalID string `json:"proposal_id" binding:"required"`
	Option     string `json:"option" binding:"required"`
	Days       *int   `json:"days,omitempty"`
}

// FeedServer is the feed half of §6's HTTP surface: GET /events (SSE),
// GET /summary, GET /convergence, POST /context/docs,
// POST /context/resolution, GET /pending, POST /finality-response,
// GET /health.
type FeedServer struct {
	engine     *gin.Engine
	httpServer *http.Server

	cfg *config.Config
	db  dbPinger

	publisher   *events.Publisher
	connManager *events.ConnectionManager
	stateGraph  *stategraph.Store
	status      *roles.StatusRunner
	semantic    *graph.Store
	review      *review.Store
	convergence *convergence.Store
}

// NewFeedServer creates a FeedServer and registers its routes. Remaining
// dependencies are wired with the Set* methods below, then checked by
// ValidateWiring before Start.
func NewFeedServer(cfg *config.Config, db dbPinger) *FeedServer {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery(), securityHeaders())

	s := &FeedServer{engine: e, cfg: cfg, db: db}
	s.setupRoutes()
	return s
}

func (s *FeedServer) SetPublisher(p *events.Publisher)              { s.publisher = p }
func (s *FeedServer) SetConnectionManager(m *events.ConnectionManager) { s.connManager = m }
func (s *FeedServer) SetStateGraph(st *stategraph.Store)             { s.stateGraph = st }
func (s *FeedServer) SetStatusRunner(r *roles.StatusRunner)          { s.status = r }
func (s *FeedServer) SetSemanticGraph(g *graph.Store)                { s.semantic = g }
func (s *FeedServer) SetReview(r *review.Store)                      { s.review = r }
func (s *FeedServer) SetConvergence(c *convergence.Store)            { s.convergence = c }

// ValidateWiring checks that every Set* dependency has been provided.
// Call after all Set* calls, before Start/StartWithListener.
func (s *FeedServer) ValidateWiring() error {
	var errs []error
	if s.publisher == nil {
		errs = append(errs, fmt.Errorf("publisher not set (call SetPublisher)"))
	}
	if s.connManager == nil {
		errs = append(errs, fmt.Errorf("connection manager not set (call SetConnectionManager)"))
	}
	if s.stateGraph == nil {
		errs = append(errs, fmt.Errorf("state graph not set (call SetStateGraph)"))
	}
	if s.status == nil {
		errs = append(errs, fmt.Errorf("status runner not set (call SetStatusRunner)"))
	}
	if s.semantic == nil {
		errs = append(errs, fmt.Errorf("semantic graph not set (call SetSemanticGraph)"))
	}
	if s.review == nil {
		errs = append(errs, fmt.Errorf("review store not set (call SetReview)"))
	}
	if s.convergence == nil {
		errs = append(errs, fmt.Errorf("convergence store not set (call SetConvergence)"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("feed server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

func (s *FeedServer) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)
	s.engine.GET("/summary", s.summaryHandler)
	s.engine.GET("/events", s.eventsHandler)

	authed := s.engine.Group("", bearerAuth(s.cfg.System.BearerToken))
	authed.POST("/context/docs", s.submitContextDocHandler)
	authed.POST("/context/resolution", s.submitResolutionHandler)
	authed.GET("/pending", s.pendingHandler)
	authed.POST("/finality-response", s.finalityResponseHandler)
	authed.GET("/convergence", s.convergenceHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *FeedServer) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
func (s *FeedServer) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *FeedServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *FeedServer) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.db.Ping(reqCtx); err != nil {
		status = "unhealthy"
		dbStatus = err.Error()
	}

	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, HealthResponse{Status: status, Database: dbStatus, Configuration: s.cfg.Stats()})
}

func (s *FeedServer) summaryHandler(c *gin.Context) {
	scopeID := c.Query("scope")
	if scopeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope query parameter is required"})
		return
	}

	state, err := s.stateGraph.LoadState(c.Request.Context(), scopeID)
	if err != nil {
		writeError(c, err)
		return
	}

	summary, err := s.status.Run(c.Request.Context(), scopeID, state.Node)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SummaryResponse{
		ScopeID:    summary.ScopeID,
		Node:       summary.Node,
		Text:       summary.Text,
		ClaimCount: summary.ClaimCount,
		RiskCount:  summary.RiskCount,
		DriftLevel: summary.DriftLevel,
	})
}

// eventsHandler serves GET /events: a server-sent stream of event
// envelopes for one scope channel, or the unfiltered global channel when
// no scope query parameter is given. Last-Event-ID drives catchup replay
// on reconnect (§6, events.ConnectionManager.HandleConnection).
func (s *FeedServer) eventsHandler(c *gin.Context) {
	channel := events.GlobalChannel
	if scope := c.Query("scope"); scope != "" {
		channel = events.ScopeChannel(scope)
	}

	var lastSeq int64
	if id := c.GetHeader("Last-Event-ID"); id != "" {
		fmt.Sscanf(id, "%d", &lastSeq)
	}

	if err := s.connManager.HandleConnection(c.Request.Context(), c.Writer, channel, lastSeq); err != nil {
		writeError(c, err)
	}
}

func (s *FeedServer) submitContextDocHandler(c *gin.Context) {
	var req SubmitContextDocRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	env := events.Envelope{
		Type:   events.TypeContextDoc,
		TS:     time.Now().UTC(),
		Source: "feed-server",
		Payload: events.ContextDocPayload{
			ScopeID: req.ScopeID,
			DocID:   req.DocID,
			Source:  req.Source,
			Content: req.Content,
			Meta:    req.Meta,
		},
	}
	if err := s.publisher.Publish(c.Request.Context(), env); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *FeedServer) submitResolutionHandler(c *gin.Context) {
	var req SubmitResolutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.semantic.AppendResolutionGoal(c.Request.Context(), req.ScopeID, req.Text); err != nil {
		writeError(c, err)
		return
	}

	env := events.Envelope{
		Type:    events.TypeResolution,
		TS:      time.Now().UTC(),
		Source:  "feed-server",
		Payload: events.ResolutionPayload{ScopeID: req.ScopeID, Text: req.Text, Author: req.Author},
	}
	if err := s.publisher.Publish(c.Request.Context(), env); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *FeedServer) pendingHandler(c *gin.Context) {
	rows, err := s.review.GetPending(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPendingResponses(rows))
}

func (s *FeedServer) finalityResponseHandler(c *gin.Context) {
	var req FinalityResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.review.ResolveFinalityPending(c.Request.Context(), req.ProposalID, req.Option, req.Days); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

// historyDepth bounds GET /convergence replay when no finality config is
// wired (e.g. a feed-only deployment).
const historyDepth = 50

func (s *FeedServer) convergenceHandler(c *gin.Context) {
	scopeID := c.Query("scope")
	if scopeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope query parameter is required"})
		return
	}
	depth := historyDepth
	if s.cfg.Finality != nil {
		depth = s.cfg.Finality.Convergence.HistoryDepth
	}
	points, err := s.convergence.LoadHistory(c.Request.Context(), scopeID, depth)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scope_id": scopeID, "history": points})
}

func toPendingResponses(rows []review.Pending) []PendingResponse {
	out := make([]PendingResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, PendingResponse{
			ProposalID: r.ProposalID,
			Kind:       r.Kind,
			ScopeID:    r.ScopeID,
			Body:       r.Body,
			Status:     r.Status,
			CreatedAt:  r.CreatedAt,
		})
	}
	return out
}
