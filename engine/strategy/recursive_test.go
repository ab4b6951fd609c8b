package strategy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/taskengine/engine/execctx"
	"github.com/compozy/taskengine/engine/strategy"
	"github.com/compozy/taskengine/engine/task"
	"github.com/compozy/taskengine/pkg/idgen"
)

type stubDecomposer struct {
	decomp *strategy.Decomposition
	err    error
}

func (d *stubDecomposer) Decompose(context.Context, *task.Task, *execctx.Context) (*strategy.Decomposition, error) {
	return d.decomp, d.err
}

func newRecursiveStrategy(decomposers []strategy.Decomposer) (*task.Manager, *strategy.Recursive) {
	atomicStrategy := strategy.NewAtomic(nil)
	sequentialStrategy := strategy.NewSequential(nil)
	parallelStrategy := strategy.NewParallel(nil)
	recursiveStrategy := strategy.NewRecursive(nil, decomposers, 0.0, 16)

	resolver := func(def map[string]any) task.ExecutionStrategy {
		if _, ok := def["subtasks"]; ok {
			return parallelStrategy
		}
		if _, ok := def["steps"]; ok {
			return sequentialStrategy
		}
		return atomicStrategy
	}
	mgr := task.NewManager(resolver)
	sequentialStrategy.Manager = mgr
	parallelStrategy.Manager = mgr
	recursiveStrategy.Manager = mgr
	recursiveStrategy.Sequential = sequentialStrategy
	recursiveStrategy.Parallel = parallelStrategy
	return mgr, recursiveStrategy
}

func TestRecursive_Execute_MaxDepth(t *testing.T) {
	t.Run("Should fail when the context is already at maximum depth", func(t *testing.T) {
		_, recursive := newRecursiveStrategy(nil)
		id, _ := idgen.New()
		tk := task.New(id, "too deep", nil, recursive, task.Options{})
		tk.SetDefinition(map[string]any{})

		zeroDepthCtx := execctx.New(id, id, 0, nil)
		res := recursive.Execute(t.Context(), tk, zeroDepthCtx)
		assert.False(t, res.Success)
		assert.Equal(t, "Maximum recursion depth exceeded", res.Result)
	})
}

func TestRecursive_Execute_Decompose_Sequential(t *testing.T) {
	t.Run("Should decompose into sequential steps and compose an aggregate result", func(t *testing.T) {
		decomposer := &stubDecomposer{decomp: &strategy.Decomposition{
			Strategy: "sequential",
			Subtasks: []map[string]any{
				{"execute": func(map[string]any) (any, error) { return 1, nil }},
				{"execute": func(map[string]any) (any, error) { return 2, nil }},
			},
		}}
		_, recursive := newRecursiveStrategy([]strategy.Decomposer{decomposer})

		id, _ := idgen.New()
		tk := task.New(id, "complex task needing a breakdown into multiple steps", nil, recursive, task.Options{})
		tk.SetDefinition(map[string]any{})

		res := recursive.Execute(t.Context(), tk, newAtomicCtx(t))
		require.True(t, res.Success)
	})
}

func TestRecursive_Execute_FallbackToAtomic(t *testing.T) {
	t.Run("Should fall back to atomic execution when nothing decomposes", func(t *testing.T) {
		_, recursive := newRecursiveStrategy(nil)
		id, _ := idgen.New()
		tk := task.New(id, "simple", nil, recursive, task.Options{})
		tk.SetDefinition(map[string]any{
			"execute": func(map[string]any) (any, error) { return "done", nil },
		})

		res := recursive.Execute(t.Context(), tk, newAtomicCtx(t))
		require.True(t, res.Success)
		assert.Equal(t, "done", res.Result)
	})
}

func TestRecursive_Execute_PartialFailureRecoveryMetadata(t *testing.T) {
	t.Run("Should attach a recovery suggestion when some subtasks fail", func(t *testing.T) {
		decomposer := &stubDecomposer{decomp: &strategy.Decomposition{
			Strategy: "sequential",
			Subtasks: []map[string]any{
				{"id": "a", "execute": func(map[string]any) (any, error) { return 1, nil }},
				{"id": "b", "execute": func(map[string]any) (any, error) { return nil, assertErr("boom") }},
			},
		}}
		_, recursive := newRecursiveStrategy([]strategy.Decomposer{decomposer})

		id, _ := idgen.New()
		tk := task.New(id, "complex task needing a breakdown with a failure", nil, recursive, task.Options{})
		tk.SetDefinition(map[string]any{})

		res := recursive.Execute(t.Context(), tk, newAtomicCtx(t))
		assert.False(t, res.Success)
		require.NotNil(t, res.Metadata)
		assert.Contains(t, res.Metadata, "recovery")
	})
}

func TestRecursive_DetectCycle(t *testing.T) {
	t.Run("Should reject a task whose id already appears among its ancestors", func(t *testing.T) {
		_, recursive := newRecursiveStrategy([]strategy.Decomposer{&stubDecomposer{decomp: &strategy.Decomposition{
			Strategy: "sequential",
			Subtasks: []map[string]any{{"execute": func(map[string]any) (any, error) { return 1, nil }}},
		}}})

		id, _ := idgen.New()
		tk := task.New(id, "a cyclic and complex decomposition step", nil, recursive, task.Options{})
		tk.SetDefinition(map[string]any{})

		ctx := execctx.New(id, id, 5, nil).CreateChild(id, nil)
		res := recursive.Execute(t.Context(), tk, ctx)
		assert.False(t, res.Success)
		assert.Equal(t, "Cycle detected", res.Result)
	})
}
