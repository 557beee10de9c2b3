// Trace context serialisation for message headers using the W3C traceparent and tracestate formats.
package amqptrace

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// HeaderKey is the message header that carries the serialised trace context.
const HeaderKey = "traceparent"

// StateHeaderKey carries vendor trace state. It is only written when non-empty.
const StateHeaderKey = "tracestate"

var traceContext propagation.TraceContext

// EncodeTraceContext serialises sc. Returns "" when sc is not valid.
func EncodeTraceContext(sc trace.SpanContext) string {
	if !sc.IsValid() {
		return ""
	}
	carrier := propagation.MapCarrier{}
	traceContext.Inject(trace.ContextWithSpanContext(context.Background(), sc), carrier)
	return carrier.Get(HeaderKey)
}

// DecodeTraceContext parses a serialised trace context. The result is marked
// remote; ok is false when s is malformed.
func DecodeTraceContext(s string) (sc trace.SpanContext, ok bool) {
	if s == "" {
		return sc, false
	}
	ctx := traceContext.Extract(context.Background(), propagation.MapCarrier{HeaderKey: s})
	sc = trace.SpanContextFromContext(ctx)
	return sc, sc.IsValid()
}

// InjectHeaders writes sc into headers under HeaderKey, and its trace state under
// StateHeaderKey, as byte sequences. Returns false, leaving headers untouched,
// when there is nothing to inject.
func InjectHeaders(headers amqp.Table, sc trace.SpanContext) bool {
	if headers == nil || !sc.IsValid() {
		return false
	}
	carrier := propagation.MapCarrier{}
	traceContext.Inject(trace.ContextWithSpanContext(context.Background(), sc), carrier)
	if carrier.Get(HeaderKey) == "" {
		return false
	}
	for _, k := range carrier.Keys() {
		headers[k] = []byte(carrier.Get(k))
	}
	return true
}

// ExtractHeaders reads the trace context stored under HeaderKey and StateHeaderKey.
// Byte and string values are accepted; anything else, or a malformed traceparent,
// yields ok == false.
func ExtractHeaders(headers amqp.Table) (trace.SpanContext, bool) {
	carrier := propagation.MapCarrier{}
	for _, k := range traceContext.Fields() {
		if v, ok := headerString(headers[k]); ok {
			carrier.Set(k, v)
		}
	}
	if carrier.Get(HeaderKey) == "" {
		return trace.SpanContext{}, false
	}
	sc := trace.SpanContextFromContext(traceContext.Extract(context.Background(), carrier))
	return sc, sc.IsValid()
}

func headerString(v any) (string, bool) {
	switch v := v.(type) {
	case []byte:
		return string(v), true
	case string:
		return v, true
	default:
		return "", false
	}
}
