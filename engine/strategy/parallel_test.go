package strategy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/taskengine/engine/strategy"
	"github.com/compozy/taskengine/engine/task"
	"github.com/compozy/taskengine/pkg/idgen"
)

func TestParallel_Execute(t *testing.T) {
	t.Run("Should run subtasks concurrently and aggregate as an array by default", func(t *testing.T) {
		_, _, _, parallel := newTestManager()
		id, _ := idgen.New()
		tk := task.New(id, "fan-out", nil, parallel, task.Options{})
		tk.SetDefinition(map[string]any{
			"subtasks": []any{
				map[string]any{"id": "a", "execute": func(map[string]any) (any, error) { return "A", nil }},
				map[string]any{"id": "b", "execute": func(map[string]any) (any, error) { return "B", nil }},
			},
		})

		res := parallel.Execute(t.Context(), tk, newAtomicCtx(t))
		require.True(t, res.Success)
		results, ok := res.Result.([]any)
		require.True(t, ok)
		assert.ElementsMatch(t, []any{"A", "B"}, results)
	})

	t.Run("Should mark the overall result failed when a subtask fails", func(t *testing.T) {
		_, _, _, parallel := newTestManager()
		id, _ := idgen.New()
		tk := task.New(id, "fan-out", nil, parallel, task.Options{})
		tk.SetDefinition(map[string]any{
			"subtasks": []any{
				map[string]any{"id": "a", "execute": func(map[string]any) (any, error) { return "A", nil }},
				map[string]any{"id": "b", "execute": func(map[string]any) (any, error) { return nil, assertErr("boom") }},
			},
		})

		res := parallel.Execute(t.Context(), tk, newAtomicCtx(t))
		assert.False(t, res.Success)
	})

	t.Run("Should extract subtasks from a batch template", func(t *testing.T) {
		_, _, _, parallel := newTestManager()
		id, _ := idgen.New()
		tk := task.New(id, "batch", nil, parallel, task.Options{})
		tk.SetDefinition(map[string]any{
			"batch": true,
			"items": []any{1, 2, 3},
			"template": map[string]any{
				"execute": func(params map[string]any) (any, error) { return params["input"], nil },
			},
		})

		res := parallel.Execute(t.Context(), tk, newAtomicCtx(t))
		require.True(t, res.Success)
		results, ok := res.Result.([]any)
		require.True(t, ok)
		assert.ElementsMatch(t, []any{1, 2, 3}, results)
	})

	t.Run("Should fail fast without running the no-op default aggregation when no subtasks are found", func(t *testing.T) {
		_, _, _, parallel := newTestManager()
		id, _ := idgen.New()
		tk := task.New(id, "empty", nil, parallel, task.Options{})
		tk.SetDefinition(map[string]any{"subtasks": []any{}})

		res := parallel.Execute(t.Context(), tk, newAtomicCtx(t))
		assert.False(t, res.Success)
	})
}
