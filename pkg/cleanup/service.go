// Package cleanup implements the retention sweep of SPEC_FULL §C.2:
// expiring stale Human-Review Queue rows and trimming convergence
// history past its keep window. Adapted from the teacher's
// pkg/cleanup.Service (same ticker-driven Start/Stop shape, same
// idempotent-from-multiple-pods contract), reworked onto this domain's
// two retention targets instead of session/event soft-deletes.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/governed-swarm/swarmrt/pkg/config"
)

// pendingExpirer is the subset of pkg/review.Store the sweep needs.
type pendingExpirer interface {
	ExpireStale(ctx context.Context, ttl time.Duration) (int64, error)
}

// historyTrimmer is the subset of pkg/convergence.Store the sweep needs.
type historyTrimmer interface {
	TrimAllScopes(ctx context.Context, keepRounds int) (int64, error)
}

// Service periodically enforces retention policy (SPEC_FULL §C.2):
//   - Expires mitl_pending rows older than MITLPendingTTL
//   - Trims convergence_history to ConvergenceKeepRounds per scope
//
// Both operations are idempotent and safe to run from multiple replicas.
type Service struct {
	config *config.RetentionConfig
	review pendingExpirer
	conv   historyTrimmer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, review pendingExpirer, conv historyTrimmer) *Service {
	return &Service{config: cfg, review: review, conv: conv}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started",
		"mitl_pending_ttl", s.config.MITLPendingTTL,
		"convergence_keep_rounds", s.config.ConvergenceKeepRounds,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.expireStalePending(ctx)
	s.trimConvergenceHistory(ctx)
}

func (s *Service) expireStalePending(ctx context.Context) {
	count, err := s.review.ExpireStale(ctx, s.config.MITLPendingTTL)
	if err != nil {
		slog.Error("retention: expire stale pending rows failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: expired stale pending rows", "count", count)
	}
}

func (s *Service) trimConvergenceHistory(ctx context.Context) {
	count, err := s.conv.TrimAllScopes(ctx, s.config.ConvergenceKeepRounds)
	if err != nil {
		slog.Error("retention: trim convergence history failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: trimmed convergence history rows", "count", count)
	}
}
