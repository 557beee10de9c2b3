// Tests for exporter construction and provider lifecycle.
package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExporterSetsBuildStdout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	opts := runOptions{stdout: true, protocol: "grpc"}
	var buf bytes.Buffer

	te, err := traceExporters.build(ctx, opts, &buf)
	require.NoError(t, err)
	require.NotNil(t, te)
	assert.NoError(t, te.Shutdown(ctx))

	me, err := metricExporters.build(ctx, opts, &buf)
	require.NoError(t, err)
	require.NotNil(t, me)
	assert.NoError(t, me.Shutdown(ctx))

	le, err := logExporters.build(ctx, opts, &buf)
	require.NoError(t, err)
	require.NotNil(t, le)
	assert.NoError(t, le.Shutdown(ctx))
}

func TestExporterSetsRejectUnknownProtocol(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	opts := runOptions{protocol: "quic"}
	var buf bytes.Buffer

	_, err := traceExporters.build(ctx, opts, &buf)
	assert.ErrorContains(t, err, `unsupported protocol "quic" for traces`)
	_, err = metricExporters.build(ctx, opts, &buf)
	assert.ErrorContains(t, err, "for metrics")
	_, err = logExporters.build(ctx, opts, &buf)
	assert.ErrorContains(t, err, "for logs")
}

func TestNewSignalsWithoutExporters(t *testing.T) {
	t.Parallel()

	sig, err := newSignals(context.Background(), runOptions{signals: map[string]bool{}})
	require.NoError(t, err)
	assert.NotNil(t, sig.tracerProvider)
	assert.Nil(t, sig.meterProvider)
	assert.Nil(t, sig.loggerProvider)
	assert.NoError(t, sig.shutdown())
}

func TestNewSignalsReportsExporterError(t *testing.T) {
	t.Parallel()

	_, err := newSignals(context.Background(), runOptions{
		signals:  map[string]bool{"traces": true},
		protocol: "quic",
	})
	assert.ErrorContains(t, err, "creating trace exporter")
}
