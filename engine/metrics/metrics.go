package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/taskengine/engine/queue"
)

// Metrics bundles the instruments this engine records against. A nil
// *Metrics, or the empty Metrics New returns for a nil meter, makes every
// Record* call a no-op, the same nil-safety contract as the teacher's
// ExecutionMetrics.
type Metrics struct {
	taskDuration   metric.Float64Histogram
	queueWait      metric.Float64Histogram
	retryCounter   metric.Int64Counter
	completedTotal metric.Int64Counter
	failedTotal    metric.Int64Counter
}

// New builds the instrument set against meter. Passing a nil meter yields a
// Metrics whose Record* methods are all safe no-ops.
func New(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		return &Metrics{}, nil
	}
	taskDuration, err := meter.Float64Histogram(
		MetricNameWithSubsystem("task", "duration_seconds"),
		metric.WithDescription("Duration of a task's successful or failed execution attempt"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(TaskDurationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("create task duration histogram: %w", err)
	}
	queueWait, err := meter.Float64Histogram(
		MetricNameWithSubsystem("queue", "wait_seconds"),
		metric.WithDescription("Time an item spent queued before its first attempt started"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(QueueWaitBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("create queue wait histogram: %w", err)
	}
	retryCounter, err := meter.Int64Counter(
		MetricNameWithSubsystem("task", "retries_total"),
		metric.WithDescription("Total retry attempts issued by the queue"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create retry counter: %w", err)
	}
	completedTotal, err := meter.Int64Counter(
		MetricNameWithSubsystem("task", "completed_total"),
		metric.WithDescription("Total items that completed successfully"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create completed counter: %w", err)
	}
	failedTotal, err := meter.Int64Counter(
		MetricNameWithSubsystem("task", "failed_total"),
		metric.WithDescription("Total items that exhausted retries and failed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create failed counter: %w", err)
	}
	return &Metrics{
		taskDuration:   taskDuration,
		queueWait:      queueWait,
		retryCounter:   retryCounter,
		completedTotal: completedTotal,
		failedTotal:    failedTotal,
	}, nil
}

// RecordDuration records a completed or failed attempt's wall-clock duration.
func (m *Metrics) RecordDuration(ctx context.Context, outcome string, duration time.Duration) {
	if m == nil || m.taskDuration == nil {
		return
	}
	m.taskDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordQueueWait records the queued-to-started latency for an item.
func (m *Metrics) RecordQueueWait(ctx context.Context, wait time.Duration) {
	if m == nil || m.queueWait == nil {
		return
	}
	m.queueWait.Record(ctx, wait.Seconds())
}

// RecordRetry increments the retry counter for the given attempt number.
func (m *Metrics) RecordRetry(ctx context.Context, attempt int) {
	if m == nil || m.retryCounter == nil {
		return
	}
	m.retryCounter.Add(ctx, 1, metric.WithAttributes(attribute.Int("attempt", attempt)))
}

// RecordCompleted increments the success counter.
func (m *Metrics) RecordCompleted(ctx context.Context) {
	if m == nil || m.completedTotal == nil {
		return
	}
	m.completedTotal.Add(ctx, 1)
}

// RecordFailed increments the terminal-failure counter.
func (m *Metrics) RecordFailed(ctx context.Context) {
	if m == nil || m.failedTotal == nil {
		return
	}
	m.failedTotal.Add(ctx, 1)
}

// Observe drains q's event stream, translating each queue.Event into the
// corresponding instrument. Intended to run in its own goroutine for the
// lifetime of the queue; returns when ctx is done or the channel closes.
func (m *Metrics) Observe(ctx context.Context, q *queue.Queue) {
	if m == nil {
		return
	}
	events := q.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.observeEvent(ctx, ev)
		}
	}
}

func (m *Metrics) observeEvent(ctx context.Context, ev queue.Event) {
	switch ev.Type {
	case queue.EventCompleted:
		m.RecordDuration(ctx, "success", time.Duration(ev.DurationMs)*time.Millisecond)
		m.RecordCompleted(ctx)
	case queue.EventFailed:
		m.RecordDuration(ctx, "error", time.Duration(ev.DurationMs)*time.Millisecond)
		m.RecordFailed(ctx)
	case queue.EventRetrying:
		m.RecordRetry(ctx, ev.Attempts)
	}
}
