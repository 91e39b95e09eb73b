package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracing(t *testing.T) {
	options := []TracerOption{
		WithServiceName("persondir-test"),
		WithSamplingRatio(1),
	}

	tp := MustNewTracerProvider(options...)

	spanRecorder := tracetest.NewSpanRecorder()
	tp.RegisterSpanProcessor(spanRecorder)

	_, span := tp.Tracer("").Start(context.Background(), "test")
	span.End()

	spans := spanRecorder.Ended()
	require.Equal(t, 1, len(spans))
	require.Equal(t, "test", spans[0].Name())
}

func TestTraceError(t *testing.T) {
	tp := MustNewTracerProvider(WithSamplingRatio(1))

	spanRecorder := tracetest.NewSpanRecorder()
	tp.RegisterSpanProcessor(spanRecorder)

	_, span := tp.Tracer("").Start(context.Background(), "test")
	TraceError(span, errors.New("source unavailable"))
	span.End()

	spans := spanRecorder.Ended()
	require.Equal(t, 1, len(spans))
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.Equal(t, "source unavailable", spans[0].Status().Description)
}
