// Tests for LogObserver on failed and slow message operations.
// Records are captured by an in-memory exporter behind a simple processor.
package amqptrace

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

type memoryLogExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *memoryLogExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *memoryLogExporter) Shutdown(context.Context) error   { return nil }
func (e *memoryLogExporter) ForceFlush(context.Context) error { return nil }

func (e *memoryLogExporter) get() []sdklog.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sdklog.Record(nil), e.records...)
}

func newTestLogObserver(t *testing.T, slow time.Duration) (*LogObserver, *memoryLogExporter) {
	t.Helper()
	exporter := &memoryLogExporter{}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)))
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })
	return NewLogObserver(lp, slow), exporter
}

func recordAttr(r sdklog.Record, key string) (string, bool) {
	var (
		val   string
		found bool
	)
	r.WalkAttributes(func(kv otellog.KeyValue) bool {
		if kv.Key == key {
			val, found = kv.Value.AsString(), true
			return false
		}
		return true
	})
	return val, found
}

func TestLogObserverFailedDelivery(t *testing.T) {
	t.Parallel()

	obs, exporter := newTestLogObserver(t, 0)
	obs.Observe(SpanInfo{
		Name:       "orders",
		Operation:  OperationReceive,
		RoutingKey: "orders",
		Duration:   12 * time.Millisecond,
		IsError:    true,
		Err:        errors.New("E"),
	})

	records := exporter.get()
	require.Len(t, records, 1)
	assert.Equal(t, otellog.SeverityError, records[0].Severity())
	assert.Equal(t, "receive orders failed: E", records[0].Body().AsString())
	key, ok := recordAttr(records[0], "messaging.rabbitmq.destination.routing_key")
	require.True(t, ok)
	assert.Equal(t, "orders", key)
}

func TestLogObserverSlowSpan(t *testing.T) {
	t.Parallel()

	obs, exporter := newTestLogObserver(t, 100*time.Millisecond)
	obs.Observe(SpanInfo{Name: "db.query", Operation: OperationSpan, Duration: 150 * time.Millisecond})

	records := exporter.get()
	require.Len(t, records, 1)
	assert.Equal(t, otellog.SeverityWarn, records[0].Severity())
	assert.Contains(t, records[0].Body().AsString(), "slow span db.query")
	_, ok := recordAttr(records[0], "messaging.rabbitmq.destination.routing_key")
	assert.False(t, ok)
}

func TestLogObserverSlowFailure(t *testing.T) {
	t.Parallel()

	obs, exporter := newTestLogObserver(t, 10*time.Millisecond)
	obs.Observe(SpanInfo{Name: "orders", Operation: OperationReceive, Duration: time.Second, IsError: true})

	records := exporter.get()
	require.Len(t, records, 2)
	assert.Equal(t, "receive orders failed", records[0].Body().AsString())
	assert.Equal(t, otellog.SeverityWarn, records[1].Severity())
}

func TestLogObserverQuiet(t *testing.T) {
	t.Parallel()

	obs, exporter := newTestLogObserver(t, 0)
	obs.Observe(SpanInfo{Name: "orders", Operation: OperationReceive, Duration: time.Hour})
	assert.Empty(t, exporter.get())
}
