package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ConsumeOptions bounds one Consume call (§4.1: {maxMessages, timeoutMs}).
type ConsumeOptions struct {
	MaxMessages int
	Timeout     time.Duration
}

// Consume runs a durable pull consumer against stream/subject, handing
// each delivered message to handler. A nil return acks the message; a
// non-nil return naks it for redelivery, capped at MaxDeliver (§4.1: "five
// consecutive redeliveries drop the message"). Returns the number of
// messages successfully processed (acked) in this call.
func (c *Client) Consume(ctx context.Context, stream, subject, consumerName string, handler func([]byte) error, opts ConsumeOptions) (int, error) {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	cons, err := c.js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    MaxDeliver,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return 0, fmt.Errorf("create consumer %s on %s: %w", consumerName, stream, err)
	}

	msgs, err := cons.Fetch(opts.MaxMessages, jetstream.FetchMaxWait(opts.Timeout))
	if err != nil {
		return 0, fmt.Errorf("fetch from %s: %w", consumerName, err)
	}

	processed := 0
	for msg := range msgs.Messages() {
		if err := handler(msg.Data()); err != nil {
			slog.Warn("consume handler failed, nak'ing for redelivery",
				"consumer", consumerName, "subject", subject, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				slog.Warn("nak failed", "consumer", consumerName, "error", nakErr)
			}
			continue
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Warn("ack failed", "consumer", consumerName, "error", ackErr)
			continue
		}
		processed++
	}

	if err := msgs.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return processed, fmt.Errorf("fetch stream error on %s: %w", consumerName, err)
	}
	return processed, nil
}
