// LogObserver reports failed and slow message operations as OTel log records.
package amqptrace

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/log"
)

const loggerName = "amqptrace"

// LogObserver emits an ERROR record per failed span and a WARN record per
// span slower than its threshold.
type LogObserver struct {
	logger        log.Logger
	slowThreshold time.Duration
}

// NewLogObserver creates a LogObserver on lp. A zero slowThreshold disables slow span records.
func NewLogObserver(lp log.LoggerProvider, slowThreshold time.Duration) *LogObserver {
	return &LogObserver{
		logger:        lp.Logger(loggerName),
		slowThreshold: slowThreshold,
	}
}

// Observe emits an ERROR record for a failed span and a WARN record for a slow one.
func (l *LogObserver) Observe(info SpanInfo) {
	attrs := []log.KeyValue{
		log.String("span.name", info.Name),
		log.String("messaging.operation", info.Operation),
		log.Int64("duration_ms", info.Duration.Milliseconds()),
	}
	if info.RoutingKey != "" {
		attrs = append(attrs, log.String("messaging.rabbitmq.destination.routing_key", info.RoutingKey))
	}

	var at time.Time
	if !info.Timestamp.IsZero() {
		at = info.Timestamp.Add(info.Duration)
	}

	if info.IsError {
		body := fmt.Sprintf("%s %s failed", info.Operation, info.Name)
		if info.Err != nil {
			body += ": " + info.Err.Error()
		}
		l.emit(at, log.SeverityError, body, attrs)
	}
	if l.slowThreshold > 0 && info.Duration > l.slowThreshold {
		body := fmt.Sprintf("slow %s %s: %s (threshold %s)", info.Operation, info.Name, info.Duration, l.slowThreshold)
		l.emit(at, log.SeverityWarn, body, attrs)
	}
}

func (l *LogObserver) emit(at time.Time, sev log.Severity, body string, attrs []log.KeyValue) {
	var rec log.Record
	if !at.IsZero() {
		rec.SetTimestamp(at)
	}
	rec.SetSeverity(sev)
	rec.SetSeverityText(severityText(sev))
	rec.SetBody(log.StringValue(body))
	rec.AddAttributes(attrs...)
	l.logger.Emit(context.Background(), rec)
}
