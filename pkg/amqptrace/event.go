// Notification events passed from the emitter to a Notifier.
// Event is a closed set: Started, Ended, Failed, and HeaderPublish.
package amqptrace

import (
	"context"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ID correlates an operation's start with its completion.
type ID = uuid.UUID

// EventKind identifies a notification by operation kind and lifecycle stage.
type EventKind int

// Event kinds, one per notification key.
const (
	KindReceiveStart EventKind = iota
	KindReceiveEnd
	KindReceiveFail
	KindSpanStart
	KindSpanEnd
	KindPublishHeader
	KindSpanFail
)

var kindNames = [...]string{
	KindReceiveStart:  "ReceiveStart",
	KindReceiveEnd:    "ReceiveEnd",
	KindReceiveFail:   "ReceiveFail",
	KindSpanStart:     "SpanStart",
	KindSpanEnd:       "SpanEnd",
	KindPublishHeader: "PublishTracingHeader",
	KindSpanFail:      "SpanFail",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Unknown"
	}
	return kindNames[k]
}

// Notifier receives events from an Emitter.
// Enabled is checked before any payload is built, so a Notifier that is not
// interested in a kind costs nothing on that path.
// Notify returns the context the traced operation should continue with; for
// Started events this carries the newly opened span.
type Notifier interface {
	Enabled(kind EventKind) bool
	Notify(ctx context.Context, ev Event) context.Context
}

// Operation is the correlated payload of Started, Ended and Failed events.
// Implemented by *Delivery and *Span only.
type Operation interface {
	CorrelationID() ID
	operation()
}

// Event is one of Started, Ended, Failed or HeaderPublish.
type Event interface {
	Kind() EventKind
	CorrelationID() ID
	event()
}

// Started is emitted when an operation begins.
type Started struct {
	Op Operation
	At time.Time
}

// Ended is emitted when an operation completes normally.
type Ended struct {
	Op       Operation
	Duration time.Duration
}

// Failed is emitted when an operation returns an error or panics.
type Failed struct {
	Op       Operation
	Duration time.Duration
	Err      error
}

// HeaderPublish is emitted synchronously before a message is published.
// Handlers inject trace context by mutating Publication.Headers in place.
type HeaderPublish struct {
	Publication *Publication
}

func (Started) event()       {}
func (Ended) event()         {}
func (Failed) event()        {}
func (HeaderPublish) event() {}

func (e Started) CorrelationID() ID { return e.Op.CorrelationID() }
func (e Ended) CorrelationID() ID   { return e.Op.CorrelationID() }
func (e Failed) CorrelationID() ID  { return e.Op.CorrelationID() }

// CorrelationID is always uuid.Nil: header publication is not correlated.
func (HeaderPublish) CorrelationID() ID { return uuid.Nil }

func (e Started) Kind() EventKind {
	if _, ok := e.Op.(*Span); ok {
		return KindSpanStart
	}
	return KindReceiveStart
}

func (e Ended) Kind() EventKind {
	if _, ok := e.Op.(*Span); ok {
		return KindSpanEnd
	}
	return KindReceiveEnd
}

func (e Failed) Kind() EventKind {
	if _, ok := e.Op.(*Span); ok {
		return KindSpanFail
	}
	return KindReceiveFail
}

func (HeaderPublish) Kind() EventKind { return KindPublishHeader }

// ReceiveCommand names receive operations when no routing key is available.
const ReceiveCommand = "Receive"

// Properties holds the message properties captured at receive time.
type Properties struct {
	ContentType   string
	MessageID     string
	CorrelationID string
	AppID         string
	Headers       amqp.Table
}

// Delivery records one received message. Immutable after creation.
type Delivery struct {
	ID          ID
	ConsumerTag string
	DeliveryTag uint64
	Exchange    string
	RoutingKey  string
	Redelivered bool
	Properties  Properties
	Body        []byte
}

// NewDelivery captures d under a fresh correlation ID.
func NewDelivery(d amqp.Delivery) *Delivery {
	return &Delivery{
		ID:          uuid.New(),
		ConsumerTag: d.ConsumerTag,
		DeliveryTag: d.DeliveryTag,
		Exchange:    d.Exchange,
		RoutingKey:  d.RoutingKey,
		Redelivered: d.Redelivered,
		Properties: Properties{
			ContentType:   d.ContentType,
			MessageID:     d.MessageId,
			CorrelationID: d.CorrelationId,
			AppID:         d.AppId,
			Headers:       d.Headers,
		},
		Body: d.Body,
	}
}

func (d *Delivery) CorrelationID() ID { return d.ID }
func (*Delivery) operation()          {}

// Name is the span name for the delivery: its routing key, or ReceiveCommand.
func (d *Delivery) Name() string {
	if d.RoutingKey == "" {
		return ReceiveCommand
	}
	return d.RoutingKey
}

// Label is a key/value string attached to a span.
type Label struct {
	Key   string
	Value string
}

// Span records a caller-declared nested operation.
// Labels is filled when the scope ends and is read-only afterwards.
type Span struct {
	ID      ID
	Command string
	Labels  []Label
}

func (s *Span) CorrelationID() ID { return s.ID }
func (*Span) operation()          {}

// Publication is the mutable side channel for an outgoing message.
type Publication struct {
	Exchange   string
	RoutingKey string
	Headers    amqp.Table
}
