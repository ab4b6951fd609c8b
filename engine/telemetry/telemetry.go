// Package telemetry wraps strategy execution and queue attempts in OTel
// trace spans, carrying the task.id/depth/strategy attributes the engine's
// execution model revolves around. It follows the teacher's nil-safe
// instrument-wrapper convention (see engine/metrics), applied to tracing
// instead of metrics since the teacher's own interceptor layer is workflow-
// engine specific and has no direct analogue here.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps a trace.Tracer; a Tracer without an underlying tracer (from
// Noop, New(nil) or a zero value), or a nil *Tracer, makes
// StartStrategySpan/StartAttemptSpan safe no-ops that
// still return a usable context and an EndFunc.
type Tracer struct {
	tracer trace.Tracer
}

// New wraps an OTel tracer. Passing nil yields a no-op Tracer.
func New(tracer trace.Tracer) *Tracer {
	return &Tracer{tracer: tracer}
}

// Noop returns a Tracer whose spans never leave the process (tracer is nil).
func Noop() *Tracer { return &Tracer{} }

// EndFunc finalizes a span, recording err (if non-nil) as the span's status.
type EndFunc func(err error)

// StartStrategySpan opens a span around a single ExecutionStrategy.Execute
// call, tagged with the task id, recursion depth, and strategy name.
func (t *Tracer) StartStrategySpan(
	ctx context.Context,
	taskID string,
	depth int,
	strategy string,
) (context.Context, EndFunc) {
	if t == nil || t.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := t.tracer.Start(ctx, "strategy.execute",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.Int("task.depth", depth),
			attribute.String("task.strategy", strategy),
		),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// StartAttemptSpan opens a span around a single queue item attempt.
func (t *Tracer) StartAttemptSpan(
	ctx context.Context,
	itemID string,
	attempt, maxAttempts int,
) (context.Context, EndFunc) {
	if t == nil || t.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := t.tracer.Start(ctx, "queue.attempt",
		trace.WithAttributes(
			attribute.String("queue.item_id", itemID),
			attribute.Int("queue.attempt", attempt),
			attribute.Int("queue.max_attempts", maxAttempts),
		),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
