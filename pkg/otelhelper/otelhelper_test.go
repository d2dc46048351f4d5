package otelhelper_test

import (
	"testing"

	"github.com/dukex/handoff/pkg/otelhelper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type stepError struct{}

func (stepError) Error() string { return "step already completed" }

func TestStartSpanAndSetError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	tracer := provider.Tracer("test")

	_, span := otelhelper.StartSpan(t.Context(), tracer, "engine.Progress",
		attribute.String(otelhelper.InstanceIDKey, "i-1"))
	otelhelper.SetError(span, stepError{}, attribute.String(otelhelper.StepIDKey, "s-1"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	got := spans[0]
	assert.Equal(t, "engine.Progress", got.Name)
	assert.Equal(t, codes.Error, got.Status.Code)
	assert.Contains(t, got.Attributes, attribute.String(otelhelper.InstanceIDKey, "i-1"))

	require.Len(t, got.Events, 1)
	assert.Equal(t, "exception", got.Events[0].Name)
	assert.Contains(t, got.Events[0].Attributes, attribute.String(otelhelper.ErrorTypeKey, "otelhelper_test.stepError"))
	assert.Contains(t, got.Events[0].Attributes, attribute.String(otelhelper.StepIDKey, "s-1"))

	require.NoError(t, provider.Shutdown(t.Context()))
}

func TestShutdown_WithoutProvider(t *testing.T) {
	assert.NoError(t, otelhelper.Shutdown(t.Context()))
}
