package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startQueue(t *testing.T, timeout time.Duration) *Queue {
	t.Helper()
	q := NewQueue(timeout)
	require.NoError(t, q.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})
	return q
}

// holdExecutor occupies the executor until the returned func is called, so
// tests can line up submissions deterministically.
func holdExecutor(t *testing.T, q *Queue) func() {
	t.Helper()
	started := make(chan struct{})
	gate := make(chan struct{})
	go func() {
		_, _ = q.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
			close(started)
			<-gate
			return nil, nil
		})
	}()
	<-started
	return func() { close(gate) }
}

func TestQueueRunsTasksInSubmissionOrder(t *testing.T) {
	q := startQueue(t, 0)
	release := holdExecutor(t, q)

	// Earlier tasks take longer; completion order must still follow submission.
	delays := []time.Duration{30 * time.Millisecond, 1 * time.Millisecond, 10 * time.Millisecond, 0}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i, d := range delays {
		i, d := i, d
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
				time.Sleep(d)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
			assert.NoError(t, err)
		}()
		require.Eventually(t, func() bool { return q.Len() == i+1 }, time.Second, time.Millisecond)
	}

	release()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestQueueNeverRunsTwoTasksAtOnce(t *testing.T) {
	q := startQueue(t, 0)

	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil, nil
			})
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestQueueFailureDoesNotBlockLaterTasks(t *testing.T) {
	q := startQueue(t, 0)
	boom := errors.New("boom")

	_, err := q.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = q.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		panic("bad task")
	})
	assert.ErrorContains(t, err, "panicked")

	v, err := q.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestQueueTaskTimeout(t *testing.T) {
	q := startQueue(t, 20*time.Millisecond)

	_, err := q.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	v, err := Do(context.Background(), q, func(ctx context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestQueueCallerGivingUpDoesNotCancelTask(t *testing.T) {
	q := startQueue(t, 0)

	ran := make(chan struct{})
	release := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_, err := q.Submit(ctx, func(taskCtx context.Context) (interface{}, error) {
			<-release
			assert.NoError(t, taskCtx.Err())
			close(ran)
			return nil, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	}()

	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	close(release)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task did not run after caller gave up")
	}
}

func TestQueueLifecycle(t *testing.T) {
	q := NewQueue(0)

	_, err := q.Submit(context.Background(), func(ctx context.Context) (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrStopped)

	require.NoError(t, q.Start())
	assert.Error(t, q.Start())

	release := holdExecutor(t, q)

	var ran int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
				atomic.AddInt32(&ran, 1)
				return nil, nil
			})
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return q.Len() == 5 }, time.Second, time.Millisecond)

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopped <- q.Stop(ctx)
	}()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.stopping
	}, time.Second, time.Millisecond)

	_, err = q.Submit(context.Background(), func(ctx context.Context) (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrStopped)

	release()
	require.NoError(t, <-stopped)
	wg.Wait()
	assert.Equal(t, int32(5), atomic.LoadInt32(&ran))
}
