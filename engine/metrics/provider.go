package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// NewPrometheusProvider builds an OTel MeterProvider that exports through
// registry in Prometheus text format, mirroring the teacher's
// engine/infra/monitoring Prometheus wiring. Passing a nil registry uses
// prometheus.DefaultRegisterer.
func NewPrometheusProvider(registry *prometheus.Registry) (metric.MeterProvider, error) {
	opts := []otelprom.Option{}
	if registry != nil {
		opts = append(opts, otelprom.WithRegisterer(registry))
	}
	exporter, err := otelprom.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)), nil
}
