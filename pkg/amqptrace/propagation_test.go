// Tests for trace context header encoding and decoding.
package amqptrace

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"pgregory.net/rapid"
)

func testSpanContext(t *testing.T) trace.SpanContext {
	t.Helper()
	tid, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	sid, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
	})
}

func TestEncodeTraceContext(t *testing.T) {
	t.Parallel()

	sc := testSpanContext(t)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", EncodeTraceContext(sc))
	assert.Empty(t, EncodeTraceContext(trace.SpanContext{}))
}

func TestDecodeTraceContext(t *testing.T) {
	t.Parallel()

	sc := testSpanContext(t)
	got, ok := DecodeTraceContext(EncodeTraceContext(sc))
	require.True(t, ok)
	assert.Equal(t, sc.TraceID(), got.TraceID())
	assert.Equal(t, sc.SpanID(), got.SpanID())
	assert.True(t, got.IsRemote())
}

func TestDecodeTraceContextMalformed(t *testing.T) {
	t.Parallel()

	for _, s := range []string{
		"",
		"garbage",
		"00-00000000000000000000000000000000-00f067aa0ba902b7-01",
		"00-4bf92f3577b34da6a3ce929d0e0e4736-0000000000000000-01",
		"00-4bf92f3577b34da6a3ce929d0e0e4736",
	} {
		_, ok := DecodeTraceContext(s)
		assert.False(t, ok, "input %q", s)
	}
}

func TestInjectHeaders(t *testing.T) {
	t.Parallel()

	sc := testSpanContext(t)
	headers := amqp.Table{}
	require.True(t, InjectHeaders(headers, sc))

	raw, ok := headers[HeaderKey].([]byte)
	require.True(t, ok, "header is stored as bytes")
	assert.Equal(t, EncodeTraceContext(sc), string(raw))

	assert.False(t, InjectHeaders(nil, sc))
	empty := amqp.Table{}
	assert.False(t, InjectHeaders(empty, trace.SpanContext{}))
	assert.Empty(t, empty)
}

func TestExtractHeaders(t *testing.T) {
	t.Parallel()

	sc := testSpanContext(t)
	encoded := EncodeTraceContext(sc)

	got, ok := ExtractHeaders(amqp.Table{HeaderKey: []byte(encoded)})
	require.True(t, ok)
	assert.Equal(t, sc.TraceID(), got.TraceID())

	got, ok = ExtractHeaders(amqp.Table{HeaderKey: encoded})
	require.True(t, ok)
	assert.Equal(t, sc.SpanID(), got.SpanID())

	_, ok = ExtractHeaders(amqp.Table{HeaderKey: int32(5)})
	assert.False(t, ok)
	_, ok = ExtractHeaders(amqp.Table{HeaderKey: []byte("garbage")})
	assert.False(t, ok)
	_, ok = ExtractHeaders(nil)
	assert.False(t, ok)
}

func TestHeadersCarryTraceState(t *testing.T) {
	t.Parallel()

	ts, err := trace.ParseTraceState("vendor=value,other=2")
	require.NoError(t, err)
	sc := testSpanContext(t).WithTraceState(ts)

	headers := amqp.Table{}
	require.True(t, InjectHeaders(headers, sc))
	raw, ok := headers[StateHeaderKey].([]byte)
	require.True(t, ok, "tracestate is stored as bytes")
	assert.Equal(t, "vendor=value,other=2", string(raw))

	got, ok := ExtractHeaders(headers)
	require.True(t, ok)
	assert.Equal(t, sc.TraceID(), got.TraceID())
	assert.Equal(t, ts.String(), got.TraceState().String())

	plain := amqp.Table{}
	require.True(t, InjectHeaders(plain, testSpanContext(t)))
	assert.NotContains(t, plain, StateHeaderKey)

	_, ok = ExtractHeaders(amqp.Table{StateHeaderKey: []byte("vendor=value")})
	assert.False(t, ok, "tracestate alone is not a trace context")
}

func TestTraceContextRoundTripProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		var tid trace.TraceID
		var sid trace.SpanID
		copy(tid[:], rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(t, "trace"))
		copy(sid[:], rapid.SliceOfN(rapid.Byte(), 8, 8).Draw(t, "span"))
		flags := trace.TraceFlags(0)
		if rapid.Bool().Draw(t, "sampled") {
			flags = trace.FlagsSampled
		}
		sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: flags})

		headers := amqp.Table{}
		injected := InjectHeaders(headers, sc)
		if injected != sc.IsValid() {
			t.Fatalf("injected=%v for valid=%v", injected, sc.IsValid())
		}
		if !injected {
			return
		}
		got, ok := ExtractHeaders(headers)
		if !ok {
			t.Fatalf("failed to extract %v", headers[HeaderKey])
		}
		if got.TraceID() != tid || got.SpanID() != sid || got.IsSampled() != sc.IsSampled() {
			t.Fatalf("round trip mismatch: %v != %v", got, sc)
		}
	})
}

func FuzzDecodeTraceContext(f *testing.F) {
	f.Add("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	f.Add("")
	f.Add("ff-garbage")
	f.Fuzz(func(t *testing.T, s string) {
		sc, ok := DecodeTraceContext(s)
		if ok && !sc.IsValid() {
			t.Fatalf("decoded invalid span context from %q", s)
		}
	})
}
