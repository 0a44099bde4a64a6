package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/governed-swarm/swarmrt/pkg/events"
)

// publishRetries is the bounded retry count for Publish (§4.1: "at-least-
// once, with bounded exponential-backoff retry (3 attempts)").
const publishRetries = 3

// Publish sends payload to subject with bounded exponential-backoff retry.
// Returns the stream sequence number assigned to the message.
func (c *Client) Publish(ctx context.Context, subject string, payload []byte) (uint64, error) {
	var lastErr error
	backoff := 100 * time.Millisecond

	for attempt := 0; attempt < publishRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		ack, err := c.js.Publish(ctx, subject, payload)
		if err == nil {
			return ack.Sequence, nil
		}
		lastErr = err
	}
	return 0, fmt.Errorf("publish to %s failed after %d attempts: %w", subject, publishRetries, lastErr)
}

// PublishEvent serializes env and publishes it to subject. Implements
// events.BusPublisher.
func (c *Client) PublishEvent(ctx context.Context, subject string, env events.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", env.Type, err)
	}
	_, err = c.Publish(ctx, subject, payload)
	return err
}
