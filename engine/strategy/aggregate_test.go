package strategy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/compozy/taskengine/engine/strategy"
	"github.com/compozy/taskengine/engine/task"
	"github.com/compozy/taskengine/pkg/idgen"
)

func TestParallel_Aggregate_Object(t *testing.T) {
	t.Run("Should merge successful map results, later keys winning", func(t *testing.T) {
		_, _, _, parallel := newTestManager()
		id, _ := idgen.New()
		tk := task.New(id, "merge", nil, parallel, task.Options{})
		tk.SetDefinition(map[string]any{
			"aggregationType": "object",
			"subtasks": []any{
				map[string]any{"id": "a", "execute": func(map[string]any) (any, error) {
					return map[string]any{"x": 1}, nil
				}},
				map[string]any{"id": "b", "execute": func(map[string]any) (any, error) {
					return map[string]any{"x": 2, "y": 3}, nil
				}},
			},
		})

		res := parallel.Execute(t.Context(), tk, newAtomicCtx(t))
		assert.True(t, res.Success)
		obj, ok := res.Result.(map[string]any)
		assert.True(t, ok)
		assert.Contains(t, []any{1, 2}, obj["x"])
		assert.Equal(t, 3, obj["y"])
	})
}

func TestParallel_Aggregate_Sum(t *testing.T) {
	t.Run("Should sum numeric successful results", func(t *testing.T) {
		_, _, _, parallel := newTestManager()
		id, _ := idgen.New()
		tk := task.New(id, "sum", nil, parallel, task.Options{})
		tk.SetDefinition(map[string]any{
			"aggregationType": "sum",
			"subtasks": []any{
				map[string]any{"id": "a", "execute": func(map[string]any) (any, error) { return 2, nil }},
				map[string]any{"id": "b", "execute": func(map[string]any) (any, error) { return 3, nil }},
			},
		})

		res := parallel.Execute(t.Context(), tk, newAtomicCtx(t))
		assert.True(t, res.Success)
		assert.Equal(t, float64(5), res.Result)
	})
}

func TestParallel_Aggregate_All(t *testing.T) {
	t.Run("Should include both successes and failures when aggregationType is all", func(t *testing.T) {
		_, _, _, parallel := newTestManager()
		id, _ := idgen.New()
		tk := task.New(id, "all", nil, parallel, task.Options{})
		tk.SetDefinition(map[string]any{
			"aggregationType": "all",
			"subtasks": []any{
				map[string]any{"id": "a", "execute": func(map[string]any) (any, error) { return "ok", nil }},
				map[string]any{"id": "b", "execute": func(map[string]any) (any, error) { return nil, assertErr("bad") }},
			},
		})

		res := parallel.Execute(t.Context(), tk, newAtomicCtx(t))
		assert.True(t, res.Success)
		list, ok := res.Result.([]any)
		assert.True(t, ok)
		assert.Len(t, list, 2)
	})
}
