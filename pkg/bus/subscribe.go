package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	subscribeBackoffMin = time.Second
	subscribeBackoffMax = 30 * time.Second
)

// Subscribe runs a durable push-style subscription against stream/subject:
// handler is invoked for every delivered message, success acks, a non-nil
// handler error naks for redelivery (capped at MaxDeliver). If the
// underlying consume loop drops out (connection loss, server restart),
// Subscribe retries with exponential backoff from 1s up to a 30s cap
// (§4.1: "auto-reconnect with exponential backoff (1s → 30s cap)"),
// until ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, stream, subject, consumerName string, handler func([]byte) error) error {
	backoff := subscribeBackoffMin

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.runConsumeLoop(ctx, stream, subject, consumerName, handler)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		slog.Warn("bus subscription dropped, retrying", "consumer", consumerName, "subject", subject, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > subscribeBackoffMax {
			backoff = subscribeBackoffMax
		}
	}
}

// runConsumeLoop creates (or resumes) the durable consumer and blocks
// delivering messages until ctx is cancelled or the consume context
// reports an error.
func (c *Client) runConsumeLoop(ctx context.Context, stream, subject, consumerName string, handler func([]byte) error) error {
	cons, err := c.js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    MaxDeliver,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return err
	}

	consumeErrCh := make(chan error, 1)
	consCtx, err := cons.Consume(func(msg jetstream.Msg) {
		if err := handler(msg.Data()); err != nil {
			slog.Warn("subscribe handler failed, nak'ing for redelivery",
				"consumer", consumerName, "subject", subject, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				slog.Warn("nak failed", "consumer", consumerName, "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Warn("ack failed", "consumer", consumerName, "error", ackErr)
		}
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		select {
		case consumeErrCh <- err:
		default:
		}
	}))
	if err != nil {
		return err
	}
	defer consCtx.Stop()

	select {
	case <-ctx.Done():
		return nil
	case err := <-consumeErrCh:
		return err
	}
}
