// Package metrics provides OTel-based instrumentation for the engine,
// adapted from the teacher's engine/infra/monitoring/metrics (naming.go,
// buckets.go) and engine/infra/monitoring/execution_metrics.go
// (nil-safe *Metrics wrapper around Float64Histogram/Int64Counter).
package metrics

import "strings"

// MetricPrefix namespaces every instrument this engine registers.
const MetricPrefix = "taskengine_"

// MetricName normalizes name into a taskengine_-prefixed, OTel/Prometheus-safe
// identifier.
func MetricName(name string) string {
	clean := strings.TrimSpace(name)
	clean = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', '-', '/', ':':
			return '_'
		default:
			return r
		}
	}, clean)
	clean = strings.ToLower(clean)
	if clean == "" {
		return MetricPrefix
	}
	if strings.HasPrefix(clean, MetricPrefix) {
		return clean
	}
	return MetricPrefix + clean
}

// MetricNameWithSubsystem formats name as taskengine_<subsystem>_<name>.
func MetricNameWithSubsystem(subsystem string, name string) string {
	subsystem = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(subsystem), " ", "_"))
	subsystem = strings.Trim(subsystem, "_")
	base := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
	base = strings.Trim(base, "_")
	if subsystem != "" {
		if base != "" {
			base = subsystem + "_" + base
		} else {
			base = subsystem
		}
	}
	return MetricName(base)
}
