package strategy

import (
	"github.com/compozy/taskengine/engine/collab"
	"github.com/compozy/taskengine/engine/telemetry"
)

// tracerOrNoop returns t, or a no-op Tracer if t is nil, so every strategy
// can unconditionally call StartStrategySpan.
func tracerOrNoop(t *telemetry.Tracer) *telemetry.Tracer {
	if t == nil {
		return telemetry.Noop()
	}
	return t
}

// emitterFor returns progress's task emitter, or nil when progress is nil.
// Callers guard each Custom/Started/Completed/Failed/Retrying/Progress call
// with a nil check.
func emitterFor(progress collab.ProgressStream, taskID string) collab.Emitter {
	if progress == nil {
		return nil
	}
	return progress.CreateTaskEmitter(taskID)
}
