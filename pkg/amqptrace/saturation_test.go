// Tests for runtime saturation sampling.
package amqptrace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestRuntimeSamplerLabels(t *testing.T) {
	t.Parallel()

	s := NewRuntimeSampler(func() int64 { return 3 })
	got := map[attribute.Key]attribute.Value{}
	for _, kv := range s.Sample() {
		got[kv.Key] = kv.Value
	}

	assert.Positive(t, got[LabelProcs].AsInt64())
	assert.Positive(t, got[LabelCPUs].AsInt64())
	assert.Positive(t, got[LabelGoroutines].AsInt64())
	assert.Equal(t, int64(3), got[LabelHandlersInFlight].AsInt64())
}

func TestRuntimeSamplerWithoutInFlight(t *testing.T) {
	t.Parallel()

	var s RuntimeSampler
	for _, kv := range s.Sample() {
		assert.NotEqual(t, attribute.Key(LabelHandlersInFlight), kv.Key)
		assert.NotEqual(t, attribute.Key(LabelOSThreads), kv.Key)
	}
}
