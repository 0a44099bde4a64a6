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
	"github.com/governed-swarm/swarmrt/pkg/review"
)

// RejectRequest is the body of POST /reject/:id.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// FinalityResolutionRequest is the body of POST /finality-response/:id —
// the proposal ID is in the path, so only option/days travel in the body.
type FinalityResolutionRequest struct {
	Option string `json:"option" binding:"required"`
	Days   *int   `json:"days,omitempty"`
}

// ReviewServer is the review half of §6's HTTP surface: GET /pending,
// POST /approve/:id, POST /reject/:id, POST /finality-response/:id,
// GET /health — every route but /health requires bearer auth (§4.13).
type ReviewServer struct {
	engine     *gin.Engine
	httpServer *http.Server

	cfg    *config.Config
	db     dbPinger
	review *review.Store
}

// NewReviewServer creates a ReviewServer and registers its routes.
func NewReviewServer(cfg *config.Config, db dbPinger, reviewStore *review.Store) *ReviewServer {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery(), securityHeaders())

	s := &ReviewServer{engine: e, cfg: cfg, db: db, review: reviewStore}
	s.setupRoutes()
	return s
}

// ValidateWiring checks that every required dependency was provided to
// NewReviewServer. Kept for parity with FeedServer's wiring contract even
// though ReviewServer currently takes all of its dependencies up front.
func (s *ReviewServer) ValidateWiring() error {
	var errs []error
	if s.review == nil {
		errs = append(errs, fmt.Errorf("review store not set"))
	}
	if s.db == nil {
		errs = append(errs, fmt.Errorf("db handle not set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("review server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

func (s *ReviewServer) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	authed := s.engine.Group("", bearerAuth(s.cfg.System.BearerToken))
	authed.GET("/pending", s.pendingHandler)
	authed.POST("/approve/:id", s.approveHandler)
	authed.POST("/reject/:id", s.rejectHandler)
	authed.POST("/finality-response/:id", s.finalityResponseHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *ReviewServer) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
func (s *ReviewServer) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *ReviewServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *ReviewServer) healthHandler(c *gin.Context) {
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

func (s *ReviewServer) pendingHandler(c *gin.Context) {
	rows, err := s.review.GetPending(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPendingResponses(rows))
}

func (s *ReviewServer) approveHandler(c *gin.Context) {
	id := c.Param("id")
	if err := s.review.ApprovePending(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "approved"})
}

func (s *ReviewServer) rejectHandler(c *gin.Context) {
	id := c.Param("id")
	var req RejectRequest
	_ = c.ShouldBindJSON(&req) // reason is optional; ignore an empty/absent body
	if err := s.review.RejectPending(c.Request.Context(), id, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

func (s *ReviewServer) finalityResponseHandler(c *gin.Context) {
	id := c.Param("id")
	var req FinalityResolutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.review.ResolveFinalityPending(c.Request.Context(), id, req.Option, req.Days); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}
