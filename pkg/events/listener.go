package events

import (
	"context"
	"encoding/json"
	"log/slog"
)

// EventSubscriber is the subset of pkg/bus.Bus needed for live fanout: a
// non-durable subscription that leaves no consumer state behind (§4.1
// subscribeEphemeral) — exactly what feeding SSE connections needs, since
// missed envelopes are recovered from the WAL via catchup, not redelivery.
type EventSubscriber interface {
	SubscribeEphemeral(ctx context.Context, subject string, handler func(raw []byte)) error
}

// FanoutListener subscribes to every swarm.events.> envelope and forwards
// each to the ConnectionManager, routing by the envelope payload's
// scope_id (if any) and always to GlobalChannel. Adapted from the
// teacher's NotifyListener, with PostgreSQL LISTEN/NOTIFY replaced by a bus
// ephemeral subscription — the bus already owns cross-process fanout and
// reconnect/backoff (§4.1), so this listener does not reimplement them.
type FanoutListener struct {
	bus     EventSubscriber
	manager *ConnectionManager
}

// NewFanoutListener creates a new FanoutListener.
func NewFanoutListener(bus EventSubscriber, manager *ConnectionManager) *FanoutListener {
	return &FanoutListener{bus: bus, manager: manager}
}

// Start subscribes to the swarm.events.> wildcard subject. Each received
// envelope is broadcast to GlobalChannel and, if its payload carries a
// scope_id, to that scope's channel too.
func (l *FanoutListener) Start(ctx context.Context) error {
	return l.bus.SubscribeEphemeral(ctx, "swarm.events.>", l.handle)
}

func (l *FanoutListener) handle(raw []byte) {
	l.manager.Broadcast(GlobalChannel, raw)

	var probe struct {
		Payload struct {
			ScopeID string `json:"scope_id"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		slog.Warn("fanout: failed to probe envelope for scope_id", "error", err)
		return
	}
	if probe.Payload.ScopeID != "" {
		l.manager.Broadcast(ScopeChannel(probe.Payload.ScopeID), raw)
	}
}
