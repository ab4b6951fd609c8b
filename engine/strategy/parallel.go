package strategy

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/compozy/taskengine/engine/collab"
	"github.com/compozy/taskengine/engine/execctx"
	"github.com/compozy/taskengine/engine/metrics"
	"github.com/compozy/taskengine/engine/queue"
	"github.com/compozy/taskengine/engine/task"
	"github.com/compozy/taskengine/engine/telemetry"
	"github.com/compozy/taskengine/pkg/idgen"
)

// Parallel dispatches independent subtasks through an internal TaskQueue
// and aggregates their results once all are terminal (spec §4.6.3).
type Parallel struct {
	Manager *task.Manager

	// Telemetry, Metrics, and Progress are optional collaborators. Nil
	// values make Execute behave exactly as before their introduction: no
	// spans, no recorded instruments, no emitted progress events.
	Telemetry *telemetry.Tracer
	Metrics   *metrics.Metrics
	Progress  collab.ProgressStream
}

// NewParallel constructs a Parallel strategy bound to the Manager that
// creates its subtask instances.
func NewParallel(mgr *task.Manager) *Parallel {
	return &Parallel{Manager: mgr}
}

// Name implements task.ExecutionStrategy.
func (p *Parallel) Name() string { return "parallel" }

// CanHandle implements task.ExecutionStrategy.
func (p *Parallel) CanHandle(t *task.Task, _ *execctx.Context) bool {
	def := t.Definition()
	if def == nil {
		return false
	}
	if parallel, _ := def["parallel"].(bool); parallel {
		return true
	}
	if strategyName, _ := def["strategy"].(string); strategyName == "parallel" {
		return true
	}
	for _, key := range []string{"subtasks", "operations", "concurrent", "batch", "map"} {
		if _, ok := def[key]; ok {
			return true
		}
	}
	return false
}

// EstimateComplexity implements task.ExecutionStrategy.
func (p *Parallel) EstimateComplexity(t *task.Task, _ *execctx.Context) task.Complexity {
	subtasks := extractSubtasks(t.Definition())
	return task.Complexity{
		EstimatedTimeMs: 1000,
		EstimatedCost:   float64(len(subtasks)) * 0.001,
		Confidence:      0.6,
		Reasoning:       "parallel: bounded by the slowest subtask",
	}
}

// subtaskSpec is one extracted subtask definition plus its intended id.
type subtaskSpec struct {
	id  string
	def map[string]any
}

// extractSubtasks implements the four subtask-extraction forms (spec
// §4.6.3): subtasks[], operations[], batch+items[]+template, map+collection[].
func extractSubtasks(def map[string]any) []subtaskSpec {
	if def == nil {
		return nil
	}
	if raw, ok := def["subtasks"].([]any); ok {
		out := make([]subtaskSpec, 0, len(raw))
		for i, item := range raw {
			sub, _ := item.(map[string]any)
			id, _ := sub["id"].(string)
			if id == "" {
				id = fmt.Sprintf("sub-%d", i)
			}
			out = append(out, subtaskSpec{id: id, def: sub})
		}
		return out
	}
	if raw, ok := def["operations"].([]any); ok {
		out := make([]subtaskSpec, 0, len(raw))
		for i, item := range raw {
			sub, _ := item.(map[string]any)
			out = append(out, subtaskSpec{id: fmt.Sprintf("parent-op-%d", i), def: sub})
		}
		return out
	}
	if _, ok := def["batch"]; ok {
		items, _ := def["items"].([]any)
		template, _ := def["template"].(map[string]any)
		out := make([]subtaskSpec, 0, len(items))
		for i, item := range items {
			sub := cloneTemplate(template)
			sub["input"] = item
			params := cloneTemplate(asMap(template["params"]))
			params["input"] = item
			sub["params"] = params
			out = append(out, subtaskSpec{id: fmt.Sprintf("batch-%d", i), def: sub})
		}
		return out
	}
	if _, ok := def["map"]; ok {
		collection, _ := def["collection"].([]any)
		out := make([]subtaskSpec, 0, len(collection))
		for i, item := range collection {
			out = append(out, subtaskSpec{id: fmt.Sprintf("map-%d", i), def: map[string]any{
				"operation": def["map"],
				"input":     item,
			}})
		}
		return out
	}
	return nil
}

func cloneTemplate(template map[string]any) map[string]any {
	out := make(map[string]any, len(template))
	for k, v := range template {
		out[k] = v
	}
	return out
}

// Execute implements task.ExecutionStrategy.
func (p *Parallel) Execute(goCtx context.Context, t *task.Task, ctx *execctx.Context) (result task.Result) {
	goCtx, end := tracerOrNoop(p.Telemetry).StartStrategySpan(goCtx, string(t.ID()), ctx.Depth(), p.Name())
	emitter := emitterFor(p.Progress, string(t.ID()))
	if emitter != nil {
		emitter.Started(map[string]any{"strategy": p.Name()})
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
	subtasks := extractSubtasks(def)
	if len(subtasks) == 0 {
		return task.Result{Success: false, Result: "parallel: no subtasks extracted from task definition"}
	}

	maxConcurrency, _ := asInt(def["maxConcurrency"])
	if maxConcurrency <= 0 {
		maxConcurrency = len(subtasks)
	}
	failFast, _ := def["failFast"].(bool)
	var perTaskTimeout time.Duration
	if ms, ok := asInt64(def["timeoutPerTask"]); ok {
		perTaskTimeout = time.Duration(ms) * time.Millisecond
	}

	q := queue.New(queue.Config{
		Concurrency:    maxConcurrency,
		DefaultTimeout: perTaskTimeout,
	})
	defer q.Close()

	if p.Metrics != nil {
		metricsCtx, stopMetrics := context.WithCancel(goCtx)
		defer stopMetrics()
		go p.Metrics.Observe(metricsCtx, q)
	}
	if emitter != nil {
		stopProgress := make(chan struct{})
		defer close(stopProgress)
		go relayQueueEvents(q, emitter, stopProgress)
	}

	children := make([]*task.Task, len(subtasks))
	childIDs := make([]idgen.ID, len(subtasks))
	for i, spec := range subtasks {
		child, err := p.Manager.CreateTask(spec.id, t, spec.def, task.Options{})
		if err != nil {
			return task.Result{Success: false, Result: err.Error()}
		}
		children[i] = child
		childIDs[i] = child.ID()
	}
	childCtxs := ctx.CreateParallelContexts(childIDs)

	var cancelled boolFlag
	futures := make([]*queue.Future, len(children))
	for i := range children {
		i := i
		futures[i] = q.Add(func(_ context.Context) (any, error) {
			if cancelled.get() {
				return nil, fmt.Errorf("cancelled")
			}
			res := children[i].ReceiveMessage(goCtx, childCtxs[i], task.Message{Type: task.MessageStart})
			if !res.Success {
				if failFast {
					cancelled.set()
				}
				return nil, fmt.Errorf("%v", res.Result)
			}
			return res.Result, nil
		}, &queue.Meta{ID: string(childIDs[i])})
	}

	results := make([]any, len(children))
	errs := make([]error, len(children))
	for i, f := range futures {
		results[i], errs[i] = f.Wait(goCtx)
	}

	merged := ctx.MergeParallelResults(childCtxs)
	aggregationType, _ := def["aggregationType"].(string)
	aggregated, metadata := aggregate(aggregationType, results, errs, t)
	metadata["mergedContext"] = merged
	return task.Result{Success: allOrAggregateSucceeds(aggregationType, errs), Result: aggregated, Metadata: metadata}
}

// relayQueueEvents republishes q's lifecycle events onto emitter until stop
// is closed, translating queue.EventType into the Emitter's progress vocabulary.
func relayQueueEvents(q *queue.Queue, emitter collab.Emitter, stop <-chan struct{}) {
	events := q.Subscribe()
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case queue.EventStarted:
				emitter.Progress(map[string]any{"item": ev.ItemID, "attempt": ev.Attempts})
			case queue.EventCompleted:
				emitter.Progress(map[string]any{"item": ev.ItemID, "durationMs": ev.DurationMs})
			case queue.EventFailed:
				emitter.Progress(map[string]any{"item": ev.ItemID, "error": fmt.Sprint(ev.Err)})
			case queue.EventRetrying:
				emitter.Retrying(map[string]any{"item": ev.ItemID, "attempt": ev.Attempts})
			}
		}
	}
}

// boolFlag is a tiny race-free latch used to signal failFast cancellation
// across the goroutines the queue runs subtask attempts on.
type boolFlag struct{ v atomic.Bool }

func (b *boolFlag) set()      { b.v.Store(true) }
func (b *boolFlag) get() bool { return b.v.Load() }

// asInt coerces a task-definition numeric field to int, accepting the
// float64/int64 shapes JSON/YAML decoding produces in addition to a plain
// int (task definitions built in Go code).
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	default:
		return 0, false
	}
}

// asInt64 is asInt's int64 counterpart, used for millisecond durations.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	default:
		return 0, false
	}
}

func allOrAggregateSucceeds(aggregationType string, errs []error) bool {
	if aggregationType == "all" {
		return true
	}
	for _, err := range errs {
		if err != nil {
			return false
		}
	}
	return true
}
