package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mrzor/scope-advice/internal/config"
)

func TestNewProvider_Resource(t *testing.T) {
	cfg := &config.OTELConfig{
		ServiceName:        "scope-advice",
		ResourceAttributes: "team=gpu, host = box1",
	}
	rec := tracetest.NewSpanRecorder()
	tp, err := NewProvider(context.Background(), cfg, "1.2.3", sdktrace.WithSpanProcessor(rec))
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "resource-check")
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	set := spans[0].Resource().Set()

	v, ok := set.Value(attribute.Key("service.name"))
	require.True(t, ok)
	assert.Equal(t, "scope-advice", v.AsString())
	v, ok = set.Value(attribute.Key("service.version"))
	require.True(t, ok)
	assert.Equal(t, "1.2.3", v.AsString())
	v, ok = set.Value(attribute.Key("host"))
	require.True(t, ok)
	assert.Equal(t, "box1", v.AsString())

	require.NoError(t, ShutdownProvider(context.Background(), tp))
}

func TestShutdownProvider_Nil(t *testing.T) {
	assert.NoError(t, ShutdownProvider(context.Background(), nil))
}
