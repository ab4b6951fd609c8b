package strategy

import (
	"context"
	"fmt"

	"github.com/compozy/taskengine/engine/collab"
	"github.com/compozy/taskengine/engine/execctx"
	"github.com/compozy/taskengine/engine/task"
	"github.com/compozy/taskengine/engine/telemetry"
)

// Sequential executes a declared steps[] in order, threading each
// accumulated result forward via ctx.WithResult (spec §4.6.2).
type Sequential struct {
	Manager *task.Manager

	Telemetry *telemetry.Tracer
	Progress  collab.ProgressStream
}

// NewSequential constructs a Sequential strategy bound to the Manager that
// creates its step subtasks.
func NewSequential(mgr *task.Manager) *Sequential {
	return &Sequential{Manager: mgr}
}

// Name implements task.ExecutionStrategy.
func (s *Sequential) Name() string { return "sequential" }

// CanHandle implements task.ExecutionStrategy.
func (s *Sequential) CanHandle(t *task.Task, _ *execctx.Context) bool {
	def := t.Definition()
	if def == nil {
		return false
	}
	if sequential, _ := def["sequential"].(bool); sequential {
		return true
	}
	_, hasSteps := def["steps"].([]any)
	return hasSteps
}

// EstimateComplexity implements task.ExecutionStrategy.
func (s *Sequential) EstimateComplexity(t *task.Task, _ *execctx.Context) task.Complexity {
	steps, _ := t.Definition()["steps"].([]any)
	return task.Complexity{
		EstimatedTimeMs: int64(len(steps)) * 500,
		EstimatedCost:   float64(len(steps)) * 0.001,
		Confidence:      0.7,
		Reasoning:       "sequential: sum of step estimates",
	}
}

// Execute implements task.ExecutionStrategy.
func (s *Sequential) Execute(goCtx context.Context, t *task.Task, ctx *execctx.Context) (result task.Result) {
	goCtx, end := tracerOrNoop(s.Telemetry).StartStrategySpan(goCtx, string(t.ID()), ctx.Depth(), s.Name())
	emitter := emitterFor(s.Progress, string(t.ID()))
	if emitter != nil {
		emitter.Started(map[string]any{"strategy": s.Name()})
	}
	defer func() {
		if result.Success {
			end(nil)
			if emitter != nil {
				emitter.Completed(map[string]any{"result": result.Result})
			}
		} else {
			end(fmt.Errorf("%v", result.Result))
			if emitter != nil {
				emitter.Failed(map[string]any{"error": result.Result})
			}
		}
	}()

	def := t.Definition()
	steps, _ := def["steps"].([]any)
	continueOnError, _ := def["continueOnError"].(bool)

	results := make([]any, 0, len(steps))
	stepCtx := ctx
	for i, raw := range steps {
		stepDef, ok := raw.(map[string]any)
		if !ok {
			return task.Result{Success: false, Result: fmt.Sprintf("sequential: step %d is not a task definition", i)}
		}
		child, err := s.Manager.CreateTask(fmt.Sprintf("%s-step-%d", t.ID(), i), t, stepDef, task.Options{})
		if err != nil {
			return task.Result{Success: false, Result: err.Error()}
		}
		childCtx := stepCtx.CreateChild(child.ID(), nil)
		msgRes := child.ReceiveMessage(goCtx, childCtx, task.Message{Type: task.MessageStart})
		if !msgRes.Success {
			if continueOnError {
				results = append(results, map[string]any{"error": msgRes.Result})
				if emitter != nil {
					emitter.Progress(map[string]any{"step": i, "error": msgRes.Result})
				}
				continue
			}
			return task.Result{Success: false, Result: msgRes.Result, Metadata: map[string]any{"failedStep": i}}
		}
		results = append(results, msgRes.Result)
		stepCtx = stepCtx.WithResult(msgRes.Result)
		if emitter != nil {
			emitter.Progress(map[string]any{"step": i, "completed": len(results), "total": len(steps)})
		}
	}
	return task.Result{Success: true, Result: results}
}
