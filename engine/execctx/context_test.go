package execctx_test

import (
	"testing"
	"time"

	"github.com/compozy/taskengine/engine/execctx"
	"github.com/compozy/taskengine/pkg/idgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoot(t *testing.T) *execctx.Context {
	t.Helper()
	taskID := idgen.MustNew()
	sessionID := idgen.MustNew()
	return execctx.New(taskID, sessionID, 5, execctx.Config{"k": "v"})
}

func TestContext_WithX_Immutability(t *testing.T) {
	t.Run("Should leave the receiver unchanged and only update the named field", func(t *testing.T) {
		ctx := newRoot(t)
		next := ctx.WithSharedState("color", "blue")
		_, onOriginal := ctx.SharedStateValue("color")
		assert.False(t, onOriginal)
		v, ok := next.SharedStateValue("color")
		require.True(t, ok)
		assert.Equal(t, "blue", v)
		assert.Equal(t, ctx.Depth(), next.Depth())
		assert.Equal(t, ctx.TaskID(), next.TaskID())
	})
}

func TestContext_CreateChild(t *testing.T) {
	t.Run("Should increment depth and extend breadcrumbs", func(t *testing.T) {
		parent := newRoot(t)
		childID := idgen.MustNew()
		child := parent.CreateChild(childID, nil)
		assert.Equal(t, parent.Depth()+1, child.Depth())
		assert.Len(t, child.Breadcrumbs(), len(parent.Breadcrumbs())+1)
		last := child.Breadcrumbs()[len(child.Breadcrumbs())-1]
		assert.Equal(t, childID, last.TaskID)
		assert.Equal(t, child.Depth(), last.Depth)
	})
	t.Run("Should inherit session/correlation/deadline unless overridden", func(t *testing.T) {
		parent := newRoot(t)
		deadline := time.Now().Add(time.Hour)
		parent = parent.WithDeadline(deadline)
		child := parent.CreateChild(idgen.MustNew(), nil)
		assert.Equal(t, parent.SessionID(), child.SessionID())
		require.NotNil(t, child.Deadline())
		assert.WithinDuration(t, deadline, *child.Deadline(), time.Second)
	})
}

func TestContext_CreateSibling(t *testing.T) {
	t.Run("Should keep the same depth and carry forward previousResults/sharedState", func(t *testing.T) {
		parent := newRoot(t).WithResult("r1").WithSharedState("k", "v")
		sibling := parent.CreateSibling(idgen.MustNew(), nil)
		assert.Equal(t, parent.Depth(), sibling.Depth())
		assert.Equal(t, parent.PreviousResults(), sibling.PreviousResults())
		v, ok := sibling.SharedStateValue("k")
		require.True(t, ok)
		assert.Equal(t, "v", v)
	})
}

func TestContext_ParallelContextsAndMerge(t *testing.T) {
	t.Run("Should concatenate results in input order and merge sharedState last-write-wins", func(t *testing.T) {
		parent := newRoot(t)
		ids := []idgen.ID{idgen.MustNew(), idgen.MustNew()}
		children := parent.CreateParallelContexts(ids)
		require.Len(t, children, 2)
		c1 := children[0].WithResult("a").WithSharedState("dup", "first")
		c2 := children[1].WithResult("b").WithSharedState("dup", "second")
		merged := parent.MergeParallelResults([]*execctx.Context{c1, c2})
		assert.Equal(t, []any{"a", "b"}, merged.PreviousResults())
		v, ok := merged.SharedStateValue("dup")
		require.True(t, ok)
		assert.Equal(t, "second", v)
	})
}

func TestContext_CanDecomposeAndIsExpired(t *testing.T) {
	t.Run("Should refuse decomposition once depth reaches maxDepth", func(t *testing.T) {
		ctx := execctx.New(idgen.MustNew(), idgen.MustNew(), 0, nil)
		assert.False(t, ctx.CanDecompose())
	})
	t.Run("Should report expired only once the deadline has passed", func(t *testing.T) {
		ctx := newRoot(t)
		assert.False(t, ctx.IsExpired())
		expired := ctx.WithDeadline(time.Now().Add(-time.Second))
		assert.True(t, expired.IsExpired())
	})
}

func TestContext_ToObjectFromObject_RoundTrip(t *testing.T) {
	t.Run("Should round-trip through ToObject/FromObject", func(t *testing.T) {
		ctx := newRoot(t).WithResult("r1").WithSharedState("k", "v").WithDependency("dep-1", "done")
		obj := ctx.ToObject()
		restored, err := execctx.FromObject(obj)
		require.NoError(t, err)
		assert.Equal(t, ctx.TaskID(), restored.TaskID())
		assert.Equal(t, ctx.Depth(), restored.Depth())
		assert.Equal(t, ctx.PreviousResults(), restored.PreviousResults())
		v, ok := restored.SharedStateValue("k")
		require.True(t, ok)
		assert.Equal(t, "v", v)
	})
}
