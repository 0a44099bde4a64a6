package events

import "context"

// walQuerier abstracts the WAL replay query needed by WALCatchupAdapter.
// Implemented by pkg/wal.Store.
type walQuerier interface {
	EventsSince(ctx context.Context, scopeID string, sinceSeq int64, limit int) ([]Envelope, error)
}

// WALCatchupAdapter wraps a walQuerier to implement CatchupQuerier, letting
// a reconnecting SSE client (Last-Event-ID = WAL seq) replay envelopes it
// missed while disconnected.
type WALCatchupAdapter struct {
	wal walQuerier
}

// NewWALCatchupAdapter creates a CatchupQuerier backed by the WAL.
func NewWALCatchupAdapter(wal walQuerier) *WALCatchupAdapter {
	return &WALCatchupAdapter{wal: wal}
}

// GetCatchupEvents implements CatchupQuerier. channel is either
// GlobalChannel (scopeID ignored, all scopes) or a ScopeChannel(scopeID)
// value; the scope is extracted from the channel name.
func (a *WALCatchupAdapter) GetCatchupEvents(ctx context.Context, channel string, sinceSeq int64, limit int) ([]CatchupEvent, error) {
	scopeID := scopeFromChannel(channel)
	envs, err := a.wal.EventsSince(ctx, scopeID, sinceSeq, limit)
	if err != nil {
		return nil, err
	}

	result := make([]CatchupEvent, len(envs))
	for i, env := range envs {
		result[i] = CatchupEvent{Seq: env.Seq, Envelope: env}
	}
	return result, nil
}

func scopeFromChannel(channel string) string {
	const prefix = "scope:"
	if len(channel) > len(prefix) && channel[:len(prefix)] == prefix {
		return channel[len(prefix):]
	}
	return ""
}
