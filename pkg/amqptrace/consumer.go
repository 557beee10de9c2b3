// Consumer dispatches deliveries from an AMQP channel through an Emitter.
package amqptrace

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer reads deliveries and hands each to Handler via Emitter.Receive.
type Consumer struct {
	Emitter *Emitter
	Handler Handler
}

// Consume dispatches deliveries until the channel closes or ctx is done.
// It never waits for a handler; call Emitter.Wait to drain them.
func (c *Consumer) Consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	if c.Emitter == nil || c.Handler == nil {
		return fmt.Errorf("consumer requires an emitter and a handler")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.Emitter.Receive(ctx, d, c.Handler)
		}
	}
}
