// Package bus wraps NATS JetStream as the durable named stream described
// in §4.1: publish/consume/subscribe over hierarchical subjects
// (swarm.jobs.*, swarm.events.*, swarm.proposals.*, swarm.actions.*,
// swarm.rejections.*), with at-least-once delivery and a poison-pill cap
// on redelivery.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamRetention is the default retention policy for the swarm stream:
// 7 days or 500MB, whichever is hit first.
const (
	DefaultMaxAge   = 7 * 24 * time.Hour
	DefaultMaxBytes = 500 * 1024 * 1024
)

// MaxDeliver is the poison-pill cap: after this many redeliveries a
// message is dropped (recorded, not retried).
const MaxDeliver = 5

// Client wraps a NATS connection and its JetStream context. One Client is
// shared per process across every role loop, the governance worker, and
// the executor (§5 "a single shared bus connection ... per process are
// reused across requests").
type Client struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect dials the NATS server at url and builds a JetStream context.
// name is used as the NATS client connection name for observability.
func Connect(url, name string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to bus at %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("build jetstream context: %w", err)
	}

	return &Client{nc: nc, js: js}, nil
}

// Close drains and closes the underlying NATS connection. Draining lets
// in-flight acks finish instead of losing them (§5 "released on every exit
// path").
func (c *Client) Close() error {
	return c.nc.Drain()
}

// Conn returns the underlying NATS connection, used by SubscribeEphemeral
// for core pub/sub (no JetStream consumer state).
func (c *Client) Conn() *nats.Conn { return c.nc }

// JetStream returns the underlying JetStream context.
func (c *Client) JetStream() jetstream.JetStream { return c.js }

// EnsureStream creates the stream if absent, or updates an existing one
// to include any new subjects (§4.1 ensureStream, idempotent).
func (c *Client) EnsureStream(ctx context.Context, name string, subjects []string) error {
	cfg := jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    DefaultMaxAge,
		MaxBytes:  DefaultMaxBytes,
		Storage:   jetstream.FileStorage,
	}

	stream, err := c.js.Stream(ctx, name)
	if err != nil {
		if err == jetstream.ErrStreamNotFound {
			_, err = c.js.CreateStream(ctx, cfg)
			if err != nil {
				return fmt.Errorf("create stream %s: %w", name, err)
			}
			return nil
		}
		return fmt.Errorf("look up stream %s: %w", name, err)
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("fetch stream %s info: %w", name, err)
	}
	merged := mergeSubjects(info.Config.Subjects, subjects)
	cfg.Subjects = merged
	if _, err := c.js.UpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("update stream %s: %w", name, err)
	}
	return nil
}

func mergeSubjects(existing, additional []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(additional))
	for _, s := range existing {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range additional {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
