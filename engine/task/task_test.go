package task_test

import (
	"context"
	"testing"

	"github.com/compozy/taskengine/engine/execctx"
	"github.com/compozy/taskengine/engine/task"
	"github.com/compozy/taskengine/pkg/idgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStrategy struct {
	name    string
	result  task.Result
	execErr any
}

func (s *stubStrategy) Name() string                                     { return s.name }
func (s *stubStrategy) CanHandle(*task.Task, *execctx.Context) bool       { return true }
func (s *stubStrategy) EstimateComplexity(*task.Task, *execctx.Context) task.Complexity {
	return task.Complexity{}
}
func (s *stubStrategy) Execute(_ context.Context, _ *task.Task, _ *execctx.Context) task.Result {
	if s.execErr != nil {
		panic(s.execErr)
	}
	return s.result
}

func newCtx(t *testing.T) *execctx.Context {
	t.Helper()
	id, err := idgen.New()
	require.NoError(t, err)
	return execctx.New(id, id, 5, nil)
}

func TestTask_StoreArtifactAndLookup(t *testing.T) {
	t.Run("Should be idempotent on repeated identical stores", func(t *testing.T) {
		id, _ := idgen.New()
		tk := task.New(id, "root", nil, &stubStrategy{name: "atomic"}, task.Options{})
		tk.StoreArtifact("report", "x", "desc", "string")
		tk.StoreArtifact("report", "x", "desc", "string")
		arts := tk.GetAllArtifacts()
		require.Len(t, arts, 1)
		assert.Equal(t, "x", arts[0].Value)
	})

	t.Run("Should walk the parent chain for service lookup", func(t *testing.T) {
		parentID, _ := idgen.New()
		childID, _ := idgen.New()
		parent := task.New(parentID, "parent", nil, &stubStrategy{}, task.Options{})
		parent.SetServiceContext("llmClient", "fake-client")
		child := task.New(childID, "child", parent, &stubStrategy{}, task.Options{})

		v, ok := child.Lookup("llmClient")
		require.True(t, ok)
		assert.Equal(t, "fake-client", v)

		_, ok = child.Lookup("missing")
		assert.False(t, ok)
	})
}

func TestTask_ReceiveMessage_StartSuccess(t *testing.T) {
	t.Run("Should transition to completed and propagate artifacts to the parent", func(t *testing.T) {
		parentID, _ := idgen.New()
		childID, _ := idgen.New()
		parent := task.New(parentID, "parent", nil, &stubStrategy{name: "sequential"}, task.Options{})

		childStrategy := &stubStrategy{name: "atomic", result: task.Result{Success: true, Result: "ok"}}
		child := task.New(childID, "child", parent, childStrategy, task.Options{})
		child.StoreArtifact("A", 1, "d", "int")
		child.StoreArtifact("B", 2, "d", "int")

		ectx := newCtx(t)
		res := child.ReceiveMessage(t.Context(), ectx, task.Message{Type: task.MessageStart})
		require.True(t, res.Success)
		assert.Equal(t, task.StateCompleted, child.State())

		a, ok := parent.GetArtifact("A")
		require.True(t, ok)
		assert.Equal(t, 1, a.Value)
		b, ok := parent.GetArtifact("B")
		require.True(t, ok)
		assert.Equal(t, 2, b.Value)
	})
}

func TestTask_ReceiveMessage_StartFailurePropagates(t *testing.T) {
	t.Run("Should fail the parent and forward child-failed to the grandparent", func(t *testing.T) {
		grandID, _ := idgen.New()
		parentID, _ := idgen.New()
		childID, _ := idgen.New()
		grand := task.New(grandID, "grand", nil, &stubStrategy{}, task.Options{})
		parent := task.New(parentID, "parent", grand, &stubStrategy{}, task.Options{})
		child := task.New(childID, "child", parent,
			&stubStrategy{name: "atomic", result: task.Result{Success: false, Result: "boom"}}, task.Options{})

		ectx := newCtx(t)
		res := child.ReceiveMessage(t.Context(), ectx, task.Message{Type: task.MessageStart})
		assert.False(t, res.Success)
		assert.Equal(t, task.StateFailed, child.State())
		assert.Equal(t, task.StateFailed, parent.State())
	})
}

func TestTask_ReceiveMessage_PanicContained(t *testing.T) {
	t.Run("Should convert a strategy panic into a failed result, not a crash", func(t *testing.T) {
		id, _ := idgen.New()
		tk := task.New(id, "root", nil, &stubStrategy{execErr: "kaboom"}, task.Options{})
		ectx := newCtx(t)
		res := tk.ReceiveMessage(t.Context(), ectx, task.Message{Type: task.MessageStart})
		assert.True(t, res.Acknowledged)
		assert.False(t, res.Success)
	})
}

func TestTask_ReceiveMessage_UnknownTypeAcknowledged(t *testing.T) {
	t.Run("Should acknowledge unknown message types without raising", func(t *testing.T) {
		id, _ := idgen.New()
		tk := task.New(id, "root", nil, &stubStrategy{}, task.Options{})
		res := tk.ReceiveMessage(t.Context(), newCtx(t), task.Message{Type: "bogus"})
		assert.True(t, res.Acknowledged)
	})
}

func TestTask_Cancel(t *testing.T) {
	t.Run("Should cancel this task and all of its children", func(t *testing.T) {
		parentID, _ := idgen.New()
		childID, _ := idgen.New()
		parent := task.New(parentID, "parent", nil, &stubStrategy{}, task.Options{})
		child := task.New(childID, "child", parent, &stubStrategy{}, task.Options{})

		res := parent.ReceiveMessage(t.Context(), newCtx(t), task.Message{Type: task.MessageCancel})
		assert.True(t, res.Success)
		assert.Equal(t, task.StateCancelled, parent.State())
		assert.Equal(t, task.StateCancelled, child.State())
	})
}
