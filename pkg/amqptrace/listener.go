// Listener correlates emitter notifications into OTel spans.
// Started opens a span, Ended or Failed closes it; nothing here may break the traced application.
package amqptrace

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/andrewh/amqptrace/pkg/correlate"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/text/encoding/unicode"
)

// Labels attached to every receive span.
const (
	LabelRoutingKey  = "RoutingKey"
	LabelConsumerTag = "ConsumerTag"
	LabelDeliveryTag = "DeliveryTag"
	LabelExchange    = "Exchange"
	LabelRedelivered = "Redelivered"
	LabelBody        = "Body"
)

const (
	tracerName      = "github.com/andrewh/amqptrace"
	abandonedReason = "abandoned at shutdown"
)

// ListenerConfig configures a Listener. Only TracerProvider is needed for tracing;
// a nil TracerProvider records nothing.
type ListenerConfig struct {
	TracerProvider trace.TracerProvider
	LoggerProvider log.LoggerProvider
	Options        Options
	Observers      []SpanObserver
	Saturation     SaturationSampler
}

// Listener turns notifications into spans. It implements Notifier.
// Safe for concurrent use by multiple goroutines.
type Listener struct {
	tracer     trace.Tracer
	logger     log.Logger
	opts       Options
	observers  []SpanObserver
	saturation SaturationSampler

	open  correlate.Store[ID, *openSpan]
	stats listenerStats
}

// openSpan is the handle held between Started and Ended/Failed.
type openSpan struct {
	span  trace.Span
	start time.Time
	op    Operation
}

// Stats holds counters collected by a Listener.
// Orphaned counts completions with no open span; Duplicates counts starts
// whose correlation ID was already open.
type Stats struct {
	Opened     int64 `json:"opened"`
	Ended      int64 `json:"ended"`
	Failed     int64 `json:"failed"`
	Orphaned   int64 `json:"orphaned"`
	Duplicates int64 `json:"duplicates"`
	Injected   int64 `json:"injected"`
	Recovered  int64 `json:"recovered"`
	Flushed    int64 `json:"flushed"`
}

type listenerStats struct {
	opened, ended, failed, orphaned, duplicates, injected, recovered, flushed atomic.Int64
}

// NewListener creates a Listener from cfg.
func NewListener(cfg ListenerConfig) *Listener {
	tp := cfg.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	l := &Listener{
		tracer:     tp.Tracer(tracerName),
		opts:       cfg.Options,
		observers:  cfg.Observers,
		saturation: cfg.Saturation,
	}
	if cfg.LoggerProvider != nil {
		l.logger = cfg.LoggerProvider.Logger(loggerName)
	}
	return l
}

// Enabled reports interest in every event kind.
func (l *Listener) Enabled(kind EventKind) bool {
	return l != nil && kind >= KindReceiveStart && kind <= KindSpanFail
}

// Notify handles one event. It never panics; failures are logged and dropped.
// For Started events the returned context carries the new span.
func (l *Listener) Notify(ctx context.Context, ev Event) (out context.Context) {
	out = ctx
	defer func() {
		if r := recover(); r != nil {
			l.stats.recovered.Add(1)
			l.logf(ctx, log.SeverityError, "recovered panic handling %T: %v", ev, r)
			out = ctx
		}
	}()

	switch ev := ev.(type) {
	case Started:
		return l.start(ctx, ev)
	case Ended:
		l.finish(ctx, ev.Op, ev.Duration, nil)
	case Failed:
		l.finish(ctx, ev.Op, ev.Duration, ev.Err)
	case HeaderPublish:
		l.inject(ctx, ev)
	default:
		l.logf(ctx, log.SeverityWarn, "ignoring unknown event %T", ev)
	}
	return ctx
}

func (l *Listener) start(ctx context.Context, ev Started) context.Context {
	var (
		name   string
		kind   trace.SpanKind
		attrs  []attribute.KeyValue
		parent = ctx
	)

	switch op := ev.Op.(type) {
	case *Delivery:
		name = op.Name()
		kind = trace.SpanKindConsumer
		attrs = deliveryAttributes(op)
		// A remote parent in the headers takes precedence over any local span.
		if remote, ok := ExtractHeaders(op.Properties.Headers); ok {
			parent = trace.ContextWithRemoteSpanContext(ctx, remote)
		}
	case *Span:
		name = op.Command
		kind = trace.SpanKindInternal
	default:
		l.logf(ctx, log.SeverityWarn, "ignoring start for unknown operation %T", ev.Op)
		return ctx
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	spanCtx, span := l.tracer.Start(parent, name,
		trace.WithSpanKind(kind),
		trace.WithTimestamp(at),
	)
	if !l.open.TryAdd(ev.CorrelationID(), &openSpan{span: span, start: at, op: ev.Op}) {
		l.stats.duplicates.Add(1)
		l.logf(ctx, log.SeverityError, "duplicate start for correlation id %s: span %q abandoned", ev.CorrelationID(), name)
		return ctx
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	l.stats.opened.Add(1)
	return spanCtx
}

func (l *Listener) finish(ctx context.Context, op Operation, d time.Duration, err error) {
	if op == nil {
		l.logf(ctx, log.SeverityWarn, "ignoring completion without an operation")
		return
	}
	os, ok := l.open.TryRemove(op.CorrelationID())
	if !ok {
		l.stats.orphaned.Add(1)
		return
	}

	end := os.start.Add(d)
	span := os.span

	if sp, ok := op.(*Span); ok && len(sp.Labels) > 0 {
		labels := make([]attribute.KeyValue, 0, len(sp.Labels))
		for _, lb := range sp.Labels {
			labels = append(labels, attribute.String(lb.Key, lb.Value))
		}
		span.SetAttributes(labels...)
	}
	if l.saturation != nil && l.opts.ThreadLabelThreshold > 0 && d > l.opts.ThreadLabelThreshold {
		span.SetAttributes(l.saturation.Sample()...)
	}
	if err != nil {
		span.RecordError(err, trace.WithTimestamp(end))
		span.SetStatus(codes.Error, err.Error())
		l.stats.failed.Add(1)
	} else {
		l.stats.ended.Add(1)
	}
	span.End(trace.WithTimestamp(end))

	l.observe(os, d, err)
}

func (l *Listener) observe(os *openSpan, d time.Duration, err error) {
	if len(l.observers) == 0 {
		return
	}
	info := SpanInfo{
		Timestamp: os.start,
		Duration:  d,
		IsError:   err != nil,
		Err:       err,
	}
	switch op := os.op.(type) {
	case *Delivery:
		info.Name = op.Name()
		info.Operation = OperationReceive
		info.Exchange = op.Exchange
		info.RoutingKey = op.RoutingKey
	case *Span:
		info.Name = op.Command
		info.Operation = OperationSpan
		for _, lb := range op.Labels {
			info.Attrs = append(info.Attrs, attribute.String(lb.Key, lb.Value))
		}
	}
	for _, obs := range l.observers {
		obs.Observe(info)
	}
}

func (l *Listener) inject(ctx context.Context, ev HeaderPublish) {
	if ev.Publication == nil {
		return
	}
	if InjectHeaders(ev.Publication.Headers, trace.SpanContextFromContext(ctx)) {
		l.stats.injected.Add(1)
	}
}

// Open returns the number of spans started and not yet ended.
func (l *Listener) Open() int {
	return l.open.Len()
}

// Flush ends every open span with an error status. Call it at shutdown after
// Emitter.Wait, so spans whose handlers never finished are still exported.
// Returns the number of spans ended.
func (l *Listener) Flush() int {
	now := time.Now()
	n := l.open.Drain(func(_ ID, os *openSpan) {
		os.span.SetStatus(codes.Error, abandonedReason)
		os.span.End(trace.WithTimestamp(now))
	})
	l.stats.flushed.Add(int64(n))
	if n > 0 {
		l.logf(context.Background(), log.SeverityWarn, "ended %d spans %s", n, abandonedReason)
	}
	return n
}

// Stats returns a snapshot of the listener's counters.
func (l *Listener) Stats() Stats {
	return Stats{
		Opened:     l.stats.opened.Load(),
		Ended:      l.stats.ended.Load(),
		Failed:     l.stats.failed.Load(),
		Orphaned:   l.stats.orphaned.Load(),
		Duplicates: l.stats.duplicates.Load(),
		Injected:   l.stats.injected.Load(),
		Recovered:  l.stats.recovered.Load(),
		Flushed:    l.stats.flushed.Load(),
	}
}

// RegisterMetrics publishes the open span count as an observable gauge.
func (l *Listener) RegisterMetrics(mp metric.MeterProvider) error {
	_, err := mp.Meter(meterName).Int64ObservableGauge("amqptrace.spans.open",
		metric.WithDescription("Spans started and not yet ended"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(l.Open()))
			return nil
		}),
	)
	return err
}

func (l *Listener) logf(ctx context.Context, sev log.Severity, format string, args ...any) {
	if l.logger == nil {
		return
	}
	var rec log.Record
	rec.SetTimestamp(time.Now())
	rec.SetSeverity(sev)
	rec.SetSeverityText(severityText(sev))
	rec.SetBody(log.StringValue(fmt.Sprintf(format, args...)))
	l.logger.Emit(ctx, rec)
}

func severityText(sev log.Severity) string {
	switch {
	case sev >= log.SeverityError:
		return "ERROR"
	case sev >= log.SeverityWarn:
		return "WARN"
	default:
		return "INFO"
	}
}

// deliveryAttributes returns the labels attached to a receive span when it opens.
func deliveryAttributes(d *Delivery) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(LabelRoutingKey, d.RoutingKey),
		attribute.String(LabelConsumerTag, d.ConsumerTag),
		attribute.String(LabelDeliveryTag, strconv.FormatUint(d.DeliveryTag, 10)),
		attribute.String(LabelExchange, d.Exchange),
		attribute.String(LabelRedelivered, strconv.FormatBool(d.Redelivered)),
		attribute.String(LabelBody, bodyText(d.Body)),
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.operation", OperationReceive),
		attribute.String("messaging.destination.name", d.Exchange),
		attribute.String("messaging.rabbitmq.destination.routing_key", d.RoutingKey),
	}
	if d.Properties.MessageID != "" {
		attrs = append(attrs, attribute.String("messaging.message.id", d.Properties.MessageID))
	}
	return attrs
}

// bodyText decodes a message body as UTF-8, replacing ill-formed bytes.
func bodyText(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	text, err := unicode.UTF8.NewDecoder().Bytes(body)
	if err != nil {
		return string(bytes.ToValidUTF8(body, []byte("\uFFFD")))
	}
	return string(text)
}
