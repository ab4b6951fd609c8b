package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/compozy/taskengine/engine/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_ConcurrencyBound(t *testing.T) {
	t.Run("Should never run more than concurrency items at once and complete all", func(t *testing.T) {
		cfg := queue.DefaultConfig()
		cfg.Concurrency = 2
		q := queue.New(cfg)
		defer q.Close()

		var current, maxObserved int64
		futures := make([]*queue.Future, 5)
		for i := 0; i < 5; i++ {
			idx := i
			futures[i] = q.Add(func(_ context.Context) (any, error) {
				n := atomic.AddInt64(&current, 1)
				for {
					observed := atomic.LoadInt64(&maxObserved)
					if n <= observed || atomic.CompareAndSwapInt64(&maxObserved, observed, n) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt64(&current, -1)
				return idx, nil
			}, nil)
		}
		for _, f := range futures {
			_, err := f.Wait(t.Context())
			require.NoError(t, err)
		}
		assert.LessOrEqual(t, atomic.LoadInt64(&maxObserved), int64(2))
	})
}

func TestQueue_Priority(t *testing.T) {
	t.Run("Should start higher-priority items first", func(t *testing.T) {
		cfg := queue.DefaultConfig()
		cfg.Concurrency = 1
		q := queue.New(cfg)
		defer q.Close()
		q.Pause()

		var order []int
		done := make(chan struct{}, 4)
		add := func(priority int) {
			q.Add(func(_ context.Context) (any, error) {
				order = append(order, priority)
				done <- struct{}{}
				return nil, nil
			}, &queue.Meta{Priority: priority})
		}
		add(1)
		add(10)
		add(5)
		add(0)
		q.Resume()
		for i := 0; i < 4; i++ {
			<-done
		}
		assert.Equal(t, []int{10, 5, 1, 0}, order)
	})
}

func TestQueue_Retry(t *testing.T) {
	t.Run("Should resolve after exactly two attempts and emit one retrying event", func(t *testing.T) {
		cfg := queue.DefaultConfig()
		cfg.DefaultBaseRetryDelay = time.Millisecond
		q := queue.New(cfg)
		defer q.Close()
		events := q.Subscribe()

		calls := 0
		retryLimit := 2
		fut := q.Add(func(_ context.Context) (any, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("boom")
			}
			return "ok", nil
		}, &queue.Meta{RetryLimit: &retryLimit})

		val, err := fut.Wait(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "ok", val)
		assert.Equal(t, 2, calls)

		retrying := 0
		timeout := time.After(time.Second)
	loop:
		for {
			select {
			case ev := <-events:
				if ev.Type == queue.EventRetrying {
					retrying++
					assert.Equal(t, 1, ev.Attempts)
					assert.Equal(t, 3, ev.MaxAttempts)
				}
				if ev.Type == queue.EventCompleted {
					break loop
				}
			case <-timeout:
				break loop
			}
		}
		assert.Equal(t, 1, retrying)
	})
}

func TestQueue_PauseResume(t *testing.T) {
	t.Run("Should return to prior admission behavior without losing items", func(t *testing.T) {
		cfg := queue.DefaultConfig()
		q := queue.New(cfg)
		defer q.Close()
		q.Pause()
		q.Resume()
		q.Pause()
		q.Resume()
		fut := q.Add(func(_ context.Context) (any, error) { return "done", nil }, nil)
		val, err := fut.Wait(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "done", val)
	})
}

func TestQueue_Clear(t *testing.T) {
	t.Run("Should reject queued items with cancelled", func(t *testing.T) {
		q := queue.New(queue.DefaultConfig())
		defer q.Close()
		q.Pause()
		fut := q.Add(func(_ context.Context) (any, error) { return nil, nil }, nil)
		n := q.Clear()
		assert.Equal(t, 1, n)
		_, err := fut.Wait(t.Context())
		assert.ErrorIs(t, err, queue.ErrCancelled)
	})
}

func TestQueue_AddAfterDrain(t *testing.T) {
	t.Run("Should reject new items once draining has started", func(t *testing.T) {
		q := queue.New(queue.DefaultConfig())
		defer q.Close()
		q.Drain()
		fut := q.Add(func(_ context.Context) (any, error) { return nil, nil }, nil)
		_, err := fut.Wait(t.Context())
		assert.ErrorIs(t, err, queue.ErrQueueDraining)
	})
}

func TestQueue_InvalidTask(t *testing.T) {
	t.Run("Should immediately reject a nil fn", func(t *testing.T) {
		q := queue.New(queue.DefaultConfig())
		defer q.Close()
		fut := q.Add(nil, nil)
		_, err := fut.Wait(t.Context())
		assert.ErrorIs(t, err, queue.ErrInvalidTask)
	})
}
