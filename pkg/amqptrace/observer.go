// SpanObserver interface for deriving signals (metrics, logs) from closed spans.
// Observers receive span metadata after the listener ends each span.
package amqptrace

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Operation names reported in SpanInfo.
const (
	OperationReceive = "receive"
	OperationSpan    = "span"
)

// SpanInfo holds span metadata for signal derivation.
type SpanInfo struct {
	Name       string
	Operation  string
	Exchange   string
	RoutingKey string
	Timestamp  time.Time
	Duration   time.Duration
	IsError    bool
	Err        error
	Attrs      []attribute.KeyValue
}

// SpanObserver receives span metadata after each span is ended.
// Observe may be called concurrently.
type SpanObserver interface {
	Observe(info SpanInfo)
}
