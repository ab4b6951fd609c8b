package metrics_test

import (
	"testing"
	"time"

	"github.com/compozy/taskengine/engine/metrics"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetrics_Recorders(t *testing.T) {
	t.Run("Should record duration, retry, and completion instruments", func(t *testing.T) {
		ctx := t.Context()
		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		meter := provider.Meter("test")
		m, err := metrics.New(meter)
		require.NoError(t, err)
		require.NotNil(t, m)

		m.RecordDuration(ctx, "success", 250*time.Millisecond)
		m.RecordRetry(ctx, 1)
		m.RecordCompleted(ctx)
		m.RecordFailed(ctx)

		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(ctx, &rm))

		durationName := metrics.MetricNameWithSubsystem("task", "duration_seconds")
		retryName := metrics.MetricNameWithSubsystem("task", "retries_total")
		completedName := metrics.MetricNameWithSubsystem("task", "completed_total")

		var sawDuration, sawRetry, sawCompleted bool
		for _, sm := range rm.ScopeMetrics {
			for _, mt := range sm.Metrics {
				switch data := mt.Data.(type) {
				case metricdata.Histogram[float64]:
					if mt.Name == durationName {
						require.Len(t, data.DataPoints, 1)
						require.InDelta(t, 0.25, data.DataPoints[0].Sum, 0.0001)
						sawDuration = true
					}
				case metricdata.Sum[int64]:
					switch mt.Name {
					case retryName:
						require.Equal(t, int64(1), data.DataPoints[0].Value)
						sawRetry = true
					case completedName:
						require.Equal(t, int64(1), data.DataPoints[0].Value)
						sawCompleted = true
					}
				}
			}
		}
		require.True(t, sawDuration)
		require.True(t, sawRetry)
		require.True(t, sawCompleted)
	})

	t.Run("Should no-op safely when meter is nil", func(t *testing.T) {
		m, err := metrics.New(nil)
		require.NoError(t, err)
		m.RecordDuration(t.Context(), "success", time.Second)
		m.RecordRetry(t.Context(), 1)
		m.RecordCompleted(t.Context())
		m.RecordFailed(t.Context())
	})
}

func TestMetricName(t *testing.T) {
	t.Run("Should prefix and normalize metric names", func(t *testing.T) {
		require.Equal(t, "taskengine_queue_depth", metrics.MetricName("Queue Depth"))
		require.Equal(t, "taskengine_queue_depth", metrics.MetricNameWithSubsystem("queue", "depth"))
	})
}
