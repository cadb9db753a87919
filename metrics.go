package eventsourcing

import "time"

// Metric names reported by the event store
const (
	MetricOperationDuration   = "eventstore_operation_duration_seconds"
	MetricOperationsTotal     = "eventstore_operations_total"
	MetricEventsAppended      = "eventstore_events_appended_total"
	MetricConcurrencyConflict = "eventstore_concurrency_conflicts_total"
)

// MetricsCollector collects event store performance and operational
// metrics. It is dependency-free so that any backend (prometheus, statsd,
// otel) can be plugged in - see the bundled prometheus adapter
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	AddCounter(metric string, delta float64, labels map[string]string)
}

type nopMetricsCollector struct{}

func (nopMetricsCollector) RecordDuration(string, time.Duration, map[string]string) {}
func (nopMetricsCollector) IncrementCounter(string, map[string]string)              {}
func (nopMetricsCollector) AddCounter(string, float64, map[string]string)           {}
