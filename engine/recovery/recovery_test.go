package recovery_test

import (
	"errors"
	"testing"

	"github.com/compozy/taskengine/engine/recovery"
	"github.com/compozy/taskengine/pkg/errs"
	"github.com/stretchr/testify/assert"
)

func TestFallbackStrategyFor(t *testing.T) {
	t.Run("Should follow the fallback table", func(t *testing.T) {
		cases := map[string]string{
			"recursive": "atomic", "parallel": "sequential",
			"sequential": "atomic", "optimized": "recursive",
		}
		for strategy, want := range cases {
			got := recovery.FallbackStrategyFor(strategy, errors.New("boom"))
			assert.True(t, got.Success)
			assert.Equal(t, want, got.FallbackStrategy)
		}
	})
	t.Run("Should report no fallback for an unknown strategy", func(t *testing.T) {
		got := recovery.FallbackStrategyFor("atomic", errors.New("boom"))
		assert.False(t, got.Success)
		assert.Equal(t, "none", got.Action)
	})
}

func TestRecovery_Recover(t *testing.T) {
	t.Run("Should fail with no recovery strategy available when none registered", func(t *testing.T) {
		r := recovery.New()
		res := r.Recover(errors.New("connection refused"), "task-1")
		assert.False(t, res.Success)
		assert.Equal(t, "No recovery strategy available", res.Reason)
	})
	t.Run("Should run the registered strategy and record a success", func(t *testing.T) {
		r := recovery.New()
		r.Register(errs.ClassNetwork, func(_ error, _ string) (any, error) {
			return "recovered-value", nil
		})
		res := r.Recover(errors.New("connection refused"), "task-1")
		assert.True(t, res.Success)
		assert.Equal(t, "recovered-value", res.Data)
	})
	t.Run("Should cap retries per (errorClass, taskID) at the default max", func(t *testing.T) {
		r := recovery.New()
		r.Register(errs.ClassNetwork, func(_ error, _ string) (any, error) {
			return nil, errors.New("still broken")
		})
		var last recovery.Result
		for i := 0; i < 4; i++ {
			last = r.Recover(errors.New("connection refused"), "task-1")
		}
		assert.False(t, last.Success)
		assert.Equal(t, "Maximum recovery attempts exceeded", last.Reason)
	})
}

func TestRecoverPartialResults(t *testing.T) {
	t.Run("Should suggest Atomic skipCompleted at or above 80% completion", func(t *testing.T) {
		res := recovery.RecoverPartialResults(fakeLister{completed: 8, pending: 1, failed: 1}, errors.New("boom"))
		assert.Equal(t, "atomic:skipCompleted", res.ResumeStrategy)
	})
	t.Run("Should suggest Sequential retryFailed at 3 or more failures", func(t *testing.T) {
		res := recovery.RecoverPartialResults(fakeLister{completed: 1, pending: 1, failed: 3}, errors.New("boom"))
		assert.Equal(t, "sequential:retryFailed", res.ResumeStrategy)
	})
	t.Run("Should otherwise suggest Recursive continueFromCheckpoint", func(t *testing.T) {
		res := recovery.RecoverPartialResults(fakeLister{completed: 1, pending: 3, failed: 1}, errors.New("boom"))
		assert.Equal(t, "recursive:continueFromCheckpoint", res.ResumeStrategy)
	})
}

type fakeLister struct{ completed, pending, failed int }

func (f fakeLister) GetCompletedSubtasks() []string { return make([]string, f.completed) }
func (f fakeLister) GetPendingSubtasks() []string   { return make([]string, f.pending) }
func (f fakeLister) GetFailedSubtasks() []string    { return make([]string, f.failed) }
