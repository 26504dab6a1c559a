package telemetry

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func Test_KafkaHeaderCarrier(t *testing.T) {
	assert := assert.New(t)

	original := []kafka.Header{{Key: "source", Value: []byte("spi")}}
	carrier := NewKafkaHeaderCarrier(original)

	assert.Equal("spi", carrier.Get("source"))
	assert.Empty(carrier.Get("missing"))

	carrier.Set("source", "bus")
	carrier.Set("traceparent", "00-abc")

	assert.Equal("bus", carrier.Get("source"))
	assert.Equal([]string{"source", "traceparent"}, carrier.Keys())
	assert.Len(carrier.Headers(), 2)

	// The original headers are untouched
	assert.Len(original, 1)
}

func Test_KafkaHeaderCarrier_Propagation(t *testing.T) {
	assert := assert.New(t)

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	propagator := propagation.TraceContext{}

	carrier := NewKafkaHeaderCarrier(nil)
	propagator.Inject(ctx, carrier)
	assert.NotEmpty(carrier.Get("traceparent"))

	extracted := trace.SpanContextFromContext(
		propagator.Extract(context.Background(), NewKafkaHeaderCarrier(carrier.Headers())),
	)
	assert.Equal(spanCtx.TraceID(), extracted.TraceID())
	assert.Equal(spanCtx.SpanID(), extracted.SpanID())
}
