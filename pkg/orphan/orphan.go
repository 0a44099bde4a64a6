// Package orphan implements the stale-scope sweep supplementing the
// Agent Loop Runtime (SPEC_FULL §C.1): the bus's own redelivery handles a
// message-level stall (a consumer crashing mid-ack), but a scope can
// still wedge if a proposal is lost between the bus ack and the WAL
// append that should have followed it, leaving no in-flight message for
// JetStream to redeliver. Adapted from the teacher's
// pkg/queue/orphan.go (same periodic-scan-and-recover shape, a ticker
// driving detectAndRecoverOrphans), generalized from polling ent
// AlertSession heartbeats to polling agent_memory.last_activated_at and
// replaying the scope's latest WAL tail back onto the bus.
package orphan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/governed-swarm/swarmrt/pkg/activation"
	"github.com/governed-swarm/swarmrt/pkg/events"
)

// memoryFinder is the subset of pkg/activation.Store the sweep needs.
type memoryFinder interface {
	FindStale(ctx context.Context, cutoff time.Time) ([]activation.Memory, error)
}

// walTailer is the subset of pkg/wal.Store the sweep needs.
type walTailer interface {
	TailEvents(ctx context.Context, scopeID string, limit int) ([]events.Envelope, error)
}

// busPublisher is the subset of pkg/bus.Client the sweep needs: a direct
// bus republish, not a Publisher.Publish, since the WAL already holds
// this envelope and must not gain a second, re-sequenced copy of it.
type busPublisher interface {
	PublishEvent(ctx context.Context, subject string, env events.Envelope) error
}

// Sweeper periodically scans agent_memory for scopes no role has
// touched in longer than Threshold and republishes each one's latest WAL
// event onto the bus, giving every role loop's consumer a fresh message
// to re-evaluate the scope against.
type Sweeper struct {
	memory memoryFinder
	wal    walTailer
	bus    busPublisher

	interval  time.Duration
	threshold time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Sweeper. interval is how often the scan runs; threshold
// is how old last_activated_at must be before a scope is considered
// stale.
func New(memory memoryFinder, wal walTailer, bus busPublisher, interval, threshold time.Duration) *Sweeper {
	return &Sweeper{memory: memory, wal: wal, bus: bus, interval: interval, threshold: threshold}
}

// Start launches the background scan loop.
func (s *Sweeper) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("orphan sweep started", "interval", s.interval, "threshold", s.threshold)
}

// Stop signals the scan loop to exit and waits for it to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("orphan sweep stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

func (s *Sweeper) scan(ctx context.Context) {
	stale, err := s.memory.FindStale(ctx, time.Now().Add(-s.threshold))
	if err != nil {
		slog.Error("orphan sweep: find stale agent memory failed", "error", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	recovered := 0
	for _, mem := range stale {
		if err := s.requeue(ctx, mem); err != nil {
			slog.Error("orphan sweep: requeue failed", "role", mem.Role, "scope_id", mem.ScopeID, "error", err)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		slog.Warn("orphan sweep: requeued wedged scopes", "count", recovered, "scanned", len(stale))
	}
}

// requeue republishes scopeID's latest WAL event onto the bus, bypassing
// the Publisher so no new seq is assigned (this is a replay, not a new
// fact). A scope with no WAL history yet has nothing to requeue.
func (s *Sweeper) requeue(ctx context.Context, mem activation.Memory) error {
	tail, err := s.wal.TailEvents(ctx, mem.ScopeID, 1)
	if err != nil {
		return fmt.Errorf("load WAL tail for scope %s: %w", mem.ScopeID, err)
	}
	if len(tail) == 0 {
		return nil
	}
	latest := tail[0]
	if err := s.bus.PublishEvent(ctx, latest.Type.Subject(), latest); err != nil {
		return fmt.Errorf("republish %s for scope %s: %w", latest.Type, mem.ScopeID, err)
	}
	return nil
}
