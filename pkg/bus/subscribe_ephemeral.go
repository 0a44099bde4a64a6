package bus

import (
	"context"

	"github.com/nats-io/nats.go"
)

// SubscribeEphemeral runs a non-durable subscription on subject: it is a
// plain core-NATS subscription, not a JetStream consumer, so it leaves no
// consumer state behind on the server once it stops (§4.1
// subscribeEphemeral). JetStream-published messages are still delivered
// to core subscribers matching the subject, so live fanout (SSE feed,
// §4.1 FanoutListener) does not need consumer bookkeeping the WAL already
// makes redundant for replay. Blocks until ctx is cancelled.
func (c *Client) SubscribeEphemeral(ctx context.Context, subject string, handler func(raw []byte)) error {
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	<-ctx.Done()
	return ctx.Err()
}
