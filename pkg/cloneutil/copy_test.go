package cloneutil_test

import (
	"testing"

	"github.com/compozy/taskengine/pkg/cloneutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneMap(t *testing.T) {
	t.Run("Should return an empty map for nil input", func(t *testing.T) {
		got := cloneutil.CloneMap[string, int](nil)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
	t.Run("Should not alias the source map", func(t *testing.T) {
		src := map[string]int{"a": 1}
		got := cloneutil.CloneMap(src)
		got["a"] = 2
		assert.Equal(t, 1, src["a"])
	})
}

func TestCopyMaps(t *testing.T) {
	t.Run("Should merge in order with later maps winning", func(t *testing.T) {
		got := cloneutil.CopyMaps(map[string]int{"a": 1, "b": 1}, map[string]int{"b": 2})
		assert.Equal(t, map[string]int{"a": 1, "b": 2}, got)
	})
	t.Run("Should skip nil maps", func(t *testing.T) {
		got := cloneutil.CopyMaps[string, int](nil, map[string]int{"a": 1}, nil)
		assert.Equal(t, map[string]int{"a": 1}, got)
	})
}

func TestMerge(t *testing.T) {
	t.Run("Should override destination values with source values", func(t *testing.T) {
		dst := map[string]any{"a": 1, "b": 2}
		src := map[string]any{"b": 3, "c": 4}
		got, err := cloneutil.Merge(dst, src, "test")
		require.NoError(t, err)
		assert.Equal(t, 1, got["a"])
		assert.Equal(t, 3, got["b"])
		assert.Equal(t, 4, got["c"])
		assert.Equal(t, 2, dst["b"], "dst must not be mutated")
	})
}

func TestDeepCopy(t *testing.T) {
	t.Run("Should produce an independent copy of a nested map", func(t *testing.T) {
		src := map[string]any{"nested": map[string]any{"x": 1}}
		got, err := cloneutil.DeepCopy(src)
		require.NoError(t, err)
		got["nested"].(map[string]any)["x"] = 2
		assert.Equal(t, 1, src["nested"].(map[string]any)["x"])
	})
}
