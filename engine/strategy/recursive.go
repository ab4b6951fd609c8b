package strategy

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/compozy/taskengine/engine/collab"
	"github.com/compozy/taskengine/engine/execctx"
	"github.com/compozy/taskengine/engine/recovery"
	"github.com/compozy/taskengine/engine/task"
	"github.com/compozy/taskengine/engine/telemetry"
	"github.com/compozy/taskengine/pkg/hashutil"
)

// Decomposition is what a decomposition source returns (spec §4.6.4 step 4).
type Decomposition struct {
	Subtasks []map[string]any
	Strategy string // sequential | parallel | mixed
	Metadata map[string]any
}

// Decomposer is one candidate source of a task's decomposition. Recursive
// tries its configured decomposers in order (LLM, template, heuristic) and
// uses the first that returns a non-nil Decomposition (spec §4.6.4 step 4).
type Decomposer interface {
	Decompose(goCtx context.Context, t *task.Task, ctx *execctx.Context) (*Decomposition, error)
}

// Recursive decomposes complex tasks into a dependency graph of subtasks,
// dispatching each with its own sub-strategy (spec §4.6.4).
type Recursive struct {
	Manager            *task.Manager
	Sequential         *Sequential
	Parallel           *Parallel
	Decomposers        []Decomposer
	DecomposeThreshold float64
	cache              *lru.Cache[string, *Decomposition]

	Telemetry *telemetry.Tracer
	Progress  collab.ProgressStream
}

// NewRecursive constructs a Recursive strategy. cacheSize bounds the
// decomposition cache (spec §4.6.4 step 4, "Cache keyed on task.id +
// canonicalized description when useCache").
func NewRecursive(mgr *task.Manager, decomposers []Decomposer, decomposeThreshold float64, cacheSize int) *Recursive {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, _ := lru.New[string, *Decomposition](cacheSize)
	return &Recursive{
		Manager:            mgr,
		Sequential:         NewSequential(mgr),
		Parallel:           NewParallel(mgr),
		Decomposers:        decomposers,
		DecomposeThreshold: decomposeThreshold,
		cache:              cache,
	}
}

// Name implements task.ExecutionStrategy.
func (r *Recursive) Name() string { return "recursive" }

var complexityKeywords = []string{"analyze", "complex", "step", "breakdown"}

// CanHandle implements task.ExecutionStrategy.
func (r *Recursive) CanHandle(t *task.Task, ctx *execctx.Context) bool {
	def := t.Definition()
	if def != nil {
		if recursive, _ := def["recursive"].(bool); recursive {
			return true
		}
		if strategyName, _ := def["strategy"].(string); strategyName == "recursive" {
			return true
		}
		for _, key := range []string{"decompose", "breakdown", "hierarchy", "nested"} {
			if _, ok := def[key]; ok {
				return true
			}
		}
	}
	return r.looksComplex(t)
}

func (r *Recursive) looksComplex(t *task.Task) bool {
	desc := strings.ToLower(t.Description())
	if len(desc) > 200 {
		return true
	}
	for _, kw := range complexityKeywords {
		if strings.Contains(desc, kw) {
			return true
		}
	}
	return false
}

// EstimateComplexity implements task.ExecutionStrategy.
func (r *Recursive) EstimateComplexity(t *task.Task, ctx *execctx.Context) task.Complexity {
	score := r.complexityScore(t)
	return task.Complexity{
		EstimatedTimeMs: int64(score * 5000),
		EstimatedCost:   score * 0.01,
		Confidence:      0.5,
		Reasoning:       "recursive: heuristic complexity score vs decomposeThreshold",
	}
}

func (r *Recursive) complexityScore(t *task.Task) float64 {
	desc := strings.ToLower(t.Description())
	score := float64(len(desc)) / 200.0
	for _, kw := range complexityKeywords {
		if strings.Contains(desc, kw) {
			score += 0.25
		}
	}
	return score
}

func (r *Recursive) shouldDecompose(t *task.Task) bool {
	return r.complexityScore(t) >= r.DecomposeThreshold
}

// Execute implements the Recursive decompose/dispatch/compose algorithm
// (spec §4.6.4).
func (r *Recursive) Execute(goCtx context.Context, t *task.Task, ctx *execctx.Context) (result task.Result) {
	goCtx, end := tracerOrNoop(r.Telemetry).StartStrategySpan(goCtx, string(t.ID()), ctx.Depth(), r.Name())
	emitter := emitterFor(r.Progress, string(t.ID()))
	if emitter != nil {
		emitter.Started(map[string]any{"strategy": r.Name()})
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

	if !ctx.CanDecompose() {
		return task.Result{Success: false, Result: "Maximum recursion depth exceeded"}
	}
	if cycle := detectCycle(t, ctx); cycle {
		return task.Result{Success: false, Result: "Cycle detected"}
	}
	if !r.shouldDecompose(t) {
		return r.fallbackToAtomic(goCtx, t, ctx)
	}

	decomp, err := r.decompose(goCtx, t, ctx)
	if err != nil {
		return task.Result{Success: false, Result: err.Error()}
	}
	if decomp == nil {
		return r.fallbackToAtomic(goCtx, t, ctx)
	}

	results, failed, err := r.dispatch(goCtx, t, ctx, decomp)
	if err != nil {
		if fb := recovery.FallbackStrategyFor(r.Name(), err); fb.Success && fb.FallbackStrategy == "atomic" {
			return r.fallbackToAtomic(goCtx, t, ctx)
		}
		return task.Result{Success: false, Result: err.Error()}
	}
	return r.compose(t, results, failed)
}

// partialResultLister adapts a dispatched subtask batch to
// recovery.SubtaskLister so a partial failure can report a resume
// suggestion alongside the composed result.
type partialResultLister struct {
	results []subtaskResult
	failed  map[string]bool
}

func (l partialResultLister) GetCompletedSubtasks() []string {
	out := make([]string, 0, len(l.results))
	for _, res := range l.results {
		if !l.failed[res.id] {
			out = append(out, res.id)
		}
	}
	return out
}

func (l partialResultLister) GetPendingSubtasks() []string { return nil }

func (l partialResultLister) GetFailedSubtasks() []string {
	out := make([]string, 0, len(l.failed))
	for id := range l.failed {
		out = append(out, id)
	}
	return out
}

// withRecoveryInfo attaches a RecoverPartialResults suggestion to result's
// metadata when some subtasks failed (spec §4.4 partial-result salvage).
func withRecoveryInfo(result task.Result, results []subtaskResult, failed []string) task.Result {
	if len(failed) == 0 {
		return result
	}
	failedSet := make(map[string]bool, len(failed))
	for _, id := range failed {
		failedSet[id] = true
	}
	partial := recovery.RecoverPartialResults(
		partialResultLister{results: results, failed: failedSet},
		fmt.Errorf("%d of %d subtasks failed", len(failed), len(results)),
	)
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["recovery"] = partial
	return result
}

// detectCycle matches an ancestor breadcrumb's task id against the current
// task (spec §9 Open Question 3: id-based detection, since ExecutionContext
// breadcrumbs carry no description to compare against). Disabled when
// cycleDetection is explicitly set false.
func detectCycle(t *task.Task, ctx *execctx.Context) bool {
	cycleDetection := true
	if opts := t.Options(); opts.CycleDetection != nil {
		cycleDetection = *opts.CycleDetection
	}
	if !cycleDetection {
		return false
	}
	for _, b := range ctx.Ancestors() {
		if b.TaskID == t.ID() {
			return true
		}
	}
	return false
}

func (r *Recursive) fallbackToAtomic(goCtx context.Context, t *task.Task, ctx *execctx.Context) task.Result {
	return NewAtomic(nil).Execute(goCtx, t, ctx)
}

func (r *Recursive) decompose(goCtx context.Context, t *task.Task, ctx *execctx.Context) (*Decomposition, error) {
	useCache, _ := t.Definition()["useCache"].(bool)
	cacheKey := hashutil.FingerprintString(map[string]any{
		"taskId":      string(t.ID()),
		"description": canonicalize(t.Description()),
	})
	if useCache && r.cache != nil {
		if cached, ok := r.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}
	for _, source := range r.Decomposers {
		decomp, err := source.Decompose(goCtx, t, ctx)
		if err != nil {
			return nil, err
		}
		if decomp != nil {
			if useCache && r.cache != nil {
				r.cache.Add(cacheKey, decomp)
			}
			return decomp, nil
		}
	}
	return nil, nil
}

func canonicalize(description string) string {
	return strings.Join(strings.Fields(strings.ToLower(description)), " ")
}

type subtaskResult struct {
	id     string
	result any
}

// dispatch runs decomp's subtasks with the named sub-strategy; for "mixed"
// it resolves inter-subtask dependencies via Kahn's algorithm (spec
// §4.6.4 step 5).
func (r *Recursive) dispatch(
	goCtx context.Context,
	t *task.Task,
	ctx *execctx.Context,
	decomp *Decomposition,
) ([]subtaskResult, []string, error) {
	switch decomp.Strategy {
	case "parallel":
		results, failed, _, err := r.dispatchParallel(goCtx, t, ctx, decomp.Subtasks)
		return results, failed, err
	case "mixed":
		return r.dispatchMixed(goCtx, t, ctx, decomp.Subtasks)
	default: // "sequential"
		return r.dispatchSequential(goCtx, t, ctx, decomp.Subtasks)
	}
}

func (r *Recursive) dispatchSequential(
	goCtx context.Context,
	t *task.Task,
	ctx *execctx.Context,
	subtasks []map[string]any,
) ([]subtaskResult, []string, error) {
	// continueOnError lets one failing step surface as a subtaskResult
	// rather than aborting the whole batch, so compose() can still salvage
	// the successful subtasks (spec §4.4 partial-result salvage).
	def := map[string]any{"steps": toAnySlice(subtasks), "continueOnError": true}
	seqTask, err := r.Manager.CreateTask(string(t.ID())+"-seq", t, def, task.Options{})
	if err != nil {
		return nil, nil, err
	}
	res := r.Sequential.Execute(goCtx, seqTask, ctx)
	return resultsFromListResult(res, subtasks)
}

// dispatchParallel also returns the merged context Parallel.Execute folded
// its children's previousResults/sharedState into (Result.Metadata
// ["mergedContext"], spec §4.6.3), so dispatchMixed can carry it forward
// into the next dependency-ordered group instead of discarding it.
func (r *Recursive) dispatchParallel(
	goCtx context.Context,
	t *task.Task,
	ctx *execctx.Context,
	subtasks []map[string]any,
) ([]subtaskResult, []string, *execctx.Context, error) {
	def := map[string]any{"subtasks": toAnySlice(subtasks), "aggregationType": "all"}
	parTask, err := r.Manager.CreateTask(string(t.ID())+"-par", t, def, task.Options{})
	if err != nil {
		return nil, nil, nil, err
	}
	res := r.Parallel.Execute(goCtx, parTask, ctx)
	results, failed, err := resultsFromListResult(res, subtasks)
	if err != nil {
		return nil, nil, nil, err
	}
	mergedCtx, _ := res.Metadata["mergedContext"].(*execctx.Context)
	return results, failed, mergedCtx, nil
}

// dispatchMixed resolves dependencies via Kahn's algorithm: independent
// groups execute in parallel, dependent groups execute in topological
// order (spec §4.6.4 step 5).
func (r *Recursive) dispatchMixed(
	goCtx context.Context,
	t *task.Task,
	ctx *execctx.Context,
	subtasks []map[string]any,
) ([]subtaskResult, []string, error) {
	order, err := topologicalGroups(subtasks)
	if err != nil {
		return nil, nil, err
	}
	var allResults []subtaskResult
	var allFailed []string
	groupCtx := ctx
	for _, group := range order {
		groupResults, groupFailed, mergedCtx, err := r.dispatchParallel(goCtx, t, groupCtx, group)
		if err != nil {
			return nil, nil, err
		}
		if mergedCtx != nil {
			groupCtx = mergedCtx
		}
		allResults = append(allResults, groupResults...)
		allFailed = append(allFailed, groupFailed...)
	}
	return allResults, allFailed, nil
}

// topologicalGroups implements Kahn's algorithm over subtask.dependencies[],
// returning independent groups in dispatch order; a back-edge rejects with
// "Circular dependency detected".
func topologicalGroups(subtasks []map[string]any) ([][]map[string]any, error) {
	idOf := func(s map[string]any) string {
		if id, ok := s["id"].(string); ok {
			return id
		}
		return ""
	}
	depsOf := func(s map[string]any) []string {
		raw, _ := s["dependencies"].([]any)
		out := make([]string, 0, len(raw))
		for _, d := range raw {
			if id, ok := d.(string); ok {
				out = append(out, id)
			}
		}
		return out
	}

	remaining := make(map[string]map[string]any, len(subtasks))
	indegree := make(map[string]int, len(subtasks))
	dependents := make(map[string][]string)
	for _, s := range subtasks {
		id := idOf(s)
		remaining[id] = s
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, dep := range depsOf(s) {
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var groups [][]map[string]any
	for len(remaining) > 0 {
		var ready []string
		for id := range remaining {
			if indegree[id] == 0 {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			return nil, fmt.Errorf("Circular dependency detected")
		}
		group := make([]map[string]any, 0, len(ready))
		for _, id := range ready {
			group = append(group, remaining[id])
			delete(remaining, id)
			for _, dependent := range dependents[id] {
				indegree[dependent]--
			}
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func toAnySlice(m []map[string]any) []any {
	out := make([]any, len(m))
	for i, v := range m {
		out[i] = v
	}
	return out
}

func resultsFromListResult(res task.Result, subtasks []map[string]any) ([]subtaskResult, []string, error) {
	if !res.Success {
		return nil, nil, fmt.Errorf("%v", res.Result)
	}
	list, ok := res.Result.([]any)
	if !ok {
		return nil, nil, fmt.Errorf("recursive: sub-strategy returned a non-list result")
	}
	out := make([]subtaskResult, 0, len(list))
	var failed []string
	for i, r := range list {
		id := fmt.Sprintf("sub-%d", i)
		if i < len(subtasks) {
			if subID, ok := subtasks[i]["id"].(string); ok && subID != "" {
				id = subID
			}
		}
		if m, ok := r.(map[string]any); ok {
			if _, hasErr := m["error"]; hasErr {
				failed = append(failed, id)
			}
		}
		out = append(out, subtaskResult{id: id, result: r})
	}
	return out, failed, nil
}

// compose implements the §4.6.4 step 6 composition rule via
// task.compositionType ∈ {aggregate, merge, first, last, custom}.
func (r *Recursive) compose(t *task.Task, results []subtaskResult, failed []string) task.Result {
	compositionType, _ := t.Definition()["compositionType"].(string)
	switch compositionType {
	case "merge":
		obj := map[string]any{}
		for _, res := range results {
			if m, ok := res.result.(map[string]any); ok {
				for k, v := range m {
					obj[k] = v
				}
			}
		}
		return withRecoveryInfo(task.Result{Success: len(failed) == 0, Result: obj}, results, failed)
	case "first":
		if len(results) > 0 {
			return withRecoveryInfo(task.Result{Success: len(failed) == 0, Result: results[0].result}, results, failed)
		}
		return task.Result{Success: false, Result: "recursive: no subtask results to compose"}
	case "last":
		if len(results) > 0 {
			return withRecoveryInfo(
				task.Result{Success: len(failed) == 0, Result: results[len(results)-1].result},
				results,
				failed,
			)
		}
		return task.Result{Success: false, Result: "recursive: no subtask results to compose"}
	case "custom":
		if aggregator, ok := t.Definition()["compose"].(func([]subtaskResult) any); ok {
			return withRecoveryInfo(task.Result{Success: len(failed) == 0, Result: aggregator(results)}, results, failed)
		}
		fallthrough
	default: // "aggregate" and unrecognized
		successList := make([]any, 0, len(results))
		for _, res := range results {
			successList = append(successList, res.result)
		}
		return withRecoveryInfo(task.Result{
			Success: len(failed) == 0,
			Result:  successList,
			Metadata: map[string]any{
				"successful": len(results) - len(failed),
				"failed":     len(failed),
			},
		}, results, failed)
	}
}
