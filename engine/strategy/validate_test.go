package strategy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/taskengine/engine/strategy"
	"github.com/compozy/taskengine/engine/task"
	"github.com/compozy/taskengine/pkg/idgen"
)

func TestAtomic_OutputSchemaValidation(t *testing.T) {
	t.Run("Should fail when a required object property is missing", func(t *testing.T) {
		id, _ := idgen.New()
		tk := task.New(id, "produce", nil, nil, task.Options{})
		tk.SetDefinition(map[string]any{
			"execute": func(map[string]any) (any, error) {
				return map[string]any{"a": 1}, nil
			},
			"outputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"a": map[string]any{"required": true},
					"b": map[string]any{"required": true},
				},
			},
		})

		a := strategy.NewAtomic(nil)
		res := a.Execute(t.Context(), tk, newAtomicCtx(t))
		assert.False(t, res.Success)
	})

	t.Run("Should succeed when the result satisfies the schema", func(t *testing.T) {
		id, _ := idgen.New()
		tk := task.New(id, "produce", nil, nil, task.Options{})
		tk.SetDefinition(map[string]any{
			"execute": func(map[string]any) (any, error) {
				return map[string]any{"a": 1, "b": 2}, nil
			},
			"outputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"a": map[string]any{"required": true},
				},
			},
		})

		a := strategy.NewAtomic(nil)
		res := a.Execute(t.Context(), tk, newAtomicCtx(t))
		require.True(t, res.Success)
	})

	t.Run("Should fail when a required result is null", func(t *testing.T) {
		id, _ := idgen.New()
		tk := task.New(id, "produce", nil, nil, task.Options{})
		tk.SetDefinition(map[string]any{
			"execute":      func(map[string]any) (any, error) { return nil, nil },
			"outputSchema": map[string]any{"required": true},
		})

		a := strategy.NewAtomic(nil)
		res := a.Execute(t.Context(), tk, newAtomicCtx(t))
		assert.False(t, res.Success)
	})
}
