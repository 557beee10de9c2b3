// MetricObserver turns closed spans into duration, count, and error instruments.
// Receive spans are keyed by routing key as well as span name.
package amqptrace

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "amqptrace"

// Millisecond bucket boundaries for handler durations.
var durationBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// MetricObserver records derived metrics for each observed span.
type MetricObserver struct {
	duration metric.Float64Histogram
	spans    metric.Int64Counter
	failures metric.Int64Counter
}

// NewMetricObserver creates the instruments on mp.
func NewMetricObserver(mp metric.MeterProvider) (*MetricObserver, error) {
	meter := mp.Meter(meterName)
	obs := &MetricObserver{}
	var err error

	if obs.duration, err = meter.Float64Histogram("amqptrace.span.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration of traced message operations in milliseconds"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	if obs.spans, err = meter.Int64Counter("amqptrace.span.count",
		metric.WithDescription("Number of traced message operations"),
	); err != nil {
		return nil, fmt.Errorf("creating span counter: %w", err)
	}
	if obs.failures, err = meter.Int64Counter("amqptrace.span.errors",
		metric.WithDescription("Number of failed message operations"),
	); err != nil {
		return nil, fmt.Errorf("creating error counter: %w", err)
	}
	return obs, nil
}

// Observe records one closed span.
func (m *MetricObserver) Observe(info SpanInfo) {
	ctx := context.Background()
	set := metric.WithAttributeSet(metricAttributes(info))

	m.spans.Add(ctx, 1, set)
	m.duration.Record(ctx, float64(info.Duration)/float64(time.Millisecond), set)
	if !info.IsError {
		return
	}
	errType := "unknown"
	if info.Err != nil {
		errType = fmt.Sprintf("%T", info.Err)
	}
	m.failures.Add(ctx, 1, set, metric.WithAttributes(attribute.String("error.type", errType)))
}

func metricAttributes(info SpanInfo) attribute.Set {
	kvs := []attribute.KeyValue{
		attribute.String("messaging.operation", info.Operation),
		attribute.String("span.name", info.Name),
	}
	if info.RoutingKey != "" {
		kvs = append(kvs, attribute.String("messaging.rabbitmq.destination.routing_key", info.RoutingKey))
	}
	return attribute.NewSet(kvs...)
}
