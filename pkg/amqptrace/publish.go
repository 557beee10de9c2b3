// Publish interception: guarantees a headers table and lets the Notifier inject trace context.
package amqptrace

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the publish half of an AMQP channel. *amqp.Channel satisfies it.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publish ensures msg carries a headers table, emits HeaderPublish so the
// Notifier can write trace context into it, then publishes through p.
// The error from p is returned unchanged.
func (e *Emitter) Publish(ctx context.Context, p Publisher, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if msg.Headers == nil {
		msg.Headers = amqp.Table{}
	}
	if e.enabled(KindPublishHeader) {
		e.Notifier.Notify(ctx, HeaderPublish{Publication: &Publication{
			Exchange:   exchange,
			RoutingKey: key,
			Headers:    msg.Headers,
		}})
	}
	return p.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg)
}

// Channel is a Publisher that injects trace context on every publish.
type Channel struct {
	Publisher
	Emitter *Emitter
}

// PublishWithContext publishes msg through the wrapped Publisher via Emitter.Publish.
// A nil Emitter publishes untraced, still with a non-nil headers table.
func (c *Channel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	e := c.Emitter
	if e == nil {
		e = &Emitter{}
	}
	return e.Publish(ctx, c.Publisher, exchange, key, mandatory, immediate, msg)
}
