package telemetry_test

import (
	"fmt"
	"testing"

	"github.com/compozy/taskengine/engine/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracer_StartStrategySpan(t *testing.T) {
	t.Run("Should record a span tagged with task id, depth, and strategy", func(t *testing.T) {
		recorder := tracetest.NewSpanRecorder()
		provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		tr := telemetry.New(provider.Tracer("test"))

		_, end := tr.StartStrategySpan(t.Context(), "task-1", 2, "sequential")
		end(nil)

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "strategy.execute", spans[0].Name())
		attrs := spans[0].Attributes()
		assert.Contains(t, attrs, attribute.String("task.id", "task-1"))
		assert.Contains(t, attrs, attribute.Int("task.depth", 2))
		assert.Contains(t, attrs, attribute.String("task.strategy", "sequential"))
	})

	t.Run("Should record an error status when the callback receives an error", func(t *testing.T) {
		recorder := tracetest.NewSpanRecorder()
		provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		tr := telemetry.New(provider.Tracer("test"))

		_, end := tr.StartAttemptSpan(t.Context(), "item-1", 1, 3)
		end(fmt.Errorf("boom"))

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "queue.attempt", spans[0].Name())
		assert.Equal(t, codes.Error, spans[0].Status().Code)
	})
}

func TestTracer_Noop(t *testing.T) {
	t.Run("Should not panic with a nil tracer", func(t *testing.T) {
		tr := telemetry.Noop()
		_, end := tr.StartStrategySpan(t.Context(), "task-1", 0, "atomic")
		end(nil)
	})
}
