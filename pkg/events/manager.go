package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// catchupLimit is the maximum number of events replayed to a reconnecting
// SSE client in one go. If more were missed, the client is told to fall
// back to GET /summary instead of paginating catchup.
const catchupLimit = 200

// CatchupEvent is one WAL row returned by a catchup query.
type CatchupEvent struct {
	Seq      int64
	Envelope Envelope
}

// CatchupQuerier serves replay for a reconnecting SSE client (Last-Event-ID
// header = last seq it saw). Implemented by WALCatchupAdapter.
type CatchupQuerier interface {
	GetCatchupEvents(ctx context.Context, channel string, sinceSeq int64, limit int) ([]CatchupEvent, error)
}

// ConnectionManager manages live SSE connections and their channel
// subscriptions, broadcasting bus-fed envelopes to every connection
// subscribed to a channel. Each feed process has one ConnectionManager
// instance. Adapted from the teacher's WebSocket ConnectionManager: the
// transport is SSE (GET /events, one subscription per connection, no
// client→server subscribe/unsubscribe protocol — the scope is fixed by the
// request's query parameter), but the broadcast/catchup shape is the same.
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	catchupQuerier CatchupQuerier
	writeTimeout   time.Duration
}

// Connection represents a single SSE client.
type Connection struct {
	ID      string
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context
	cancel  context.CancelFunc
	channel string

	writeMu sync.Mutex
}

// NewConnectionManager creates a new ConnectionManager.
func NewConnectionManager(catchupQuerier CatchupQuerier, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		connections:    make(map[string]*Connection),
		channels:       make(map[string]map[string]bool),
		catchupQuerier: catchupQuerier,
		writeTimeout:   writeTimeout,
	}
}

// HandleConnection serves a GET /events SSE request for the given channel
// (GlobalChannel for an unfiltered feed, ScopeChannel(id) for a
// scope-filtered one). lastSeq comes from the Last-Event-ID reconnection
// header (0 if absent — fresh connection, no catchup). Blocks until the
// client disconnects or ctx is cancelled.
func (m *ConnectionManager) HandleConnection(ctx context.Context, w http.ResponseWriter, channel string, lastSeq int64) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	connCtx, cancel := context.WithCancel(ctx)
	c := &Connection{
		ID:      uuid.New().String(),
		w:       w,
		flusher: flusher,
		ctx:     connCtx,
		cancel:  cancel,
		channel: channel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	if lastSeq > 0 {
		m.handleCatchup(connCtx, c, lastSeq)
	}

	<-connCtx.Done()
	return nil
}

// Broadcast sends a raw JSON envelope to every connection subscribed to
// channel.
func (m *ConnectionManager) Broadcast(channel string, envelope []byte) {
	m.channelMu.RLock()
	connIDs, exists := m.channels[channel]
	if !exists {
		m.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := m.sendRaw(conn, 0, envelope); err != nil {
			slog.Warn("failed to send SSE event", "connection_id", conn.ID, "error", err)
		}
	}
}

// ActiveConnections returns the count of active SSE connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount returns the number of subscribers for a channel.
// Unexported — used by tests to poll instead of sleeping.
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	m.connections[c.ID] = c
	m.mu.Unlock()

	m.channelMu.Lock()
	if _, exists := m.channels[c.channel]; !exists {
		m.channels[c.channel] = make(map[string]bool)
	}
	m.channels[c.channel][c.ID] = true
	m.channelMu.Unlock()
}

func (m *ConnectionManager) unregisterConnection(c *Connection) {
	m.channelMu.Lock()
	if subs, exists := m.channels[c.channel]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.channels, c.channel)
		}
	}
	m.channelMu.Unlock()

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
}

// handleCatchup replays envelopes missed since lastSeq before live
// broadcast takes over. The only gap this cannot close is the window
// between catchup and connection registration; a caller that registers the
// connection before running catchup (as HandleConnection does) does not
// have that gap in the other direction, but may briefly double-deliver an
// envelope published during catchup. Clients MUST de-duplicate by seq.
func (m *ConnectionManager) handleCatchup(ctx context.Context, c *Connection, lastSeq int64) {
	if m.catchupQuerier == nil {
		return
	}

	events, err := m.catchupQuerier.GetCatchupEvents(ctx, c.channel, lastSeq, catchupLimit+1)
	if err != nil {
		slog.Error("catchup query failed", "channel", c.channel, "error", err)
		return
	}

	hasMore := len(events) > catchupLimit
	if hasMore {
		events = events[:catchupLimit]
	}

	for _, evt := range events {
		payload, err := json.Marshal(evt.Envelope)
		if err != nil {
			continue
		}
		if err := m.sendRaw(c, evt.Seq, payload); err != nil {
			slog.Warn("failed to send catchup event", "connection_id", c.ID, "error", err)
			return
		}
	}

	if hasMore {
		m.sendComment(c, "catchup-overflow: refetch via GET /summary")
	}
}

// sendRaw writes one SSE "message" event, tagging it with id (the WAL seq)
// so a future reconnect's Last-Event-ID header resumes exactly past it.
func (m *ConnectionManager) sendRaw(c *Connection, id int64, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if id > 0 {
		if _, err := fmt.Fprintf(c.w, "id: %d\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(c.w, "data: %s\n\n", data); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

func (m *ConnectionManager) sendComment(c *Connection, comment string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, _ = fmt.Fprintf(c.w, ": %s\n\n", comment)
	c.flusher.Flush()
}
