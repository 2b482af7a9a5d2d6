package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"launchpad/internal/metrics"
)

// ErrStopped is returned by Submit when the queue is not accepting tasks.
var ErrStopped = errors.New("admission queue is not running")

// Task is one full critical section, e.g. verify, mutate supply, persist.
type Task func(ctx context.Context) (interface{}, error)

type outcome struct {
	value interface{}
	err   error
}

type job struct {
	task     Task
	result   chan outcome
	enqueued time.Time
}

// Queue is a process-wide sequential executor. Exactly one task runs at a
// time, in submission order. Depth is unbounded.
type Queue struct {
	taskTimeout time.Duration

	mu       sync.Mutex
	pending  []*job
	started  bool
	stopping bool

	wake chan struct{}
	done chan struct{}
}

// NewQueue creates a stopped queue. A positive taskTimeout bounds every task,
// so a hung network dependency fails one task instead of stalling the queue.
func NewQueue(taskTimeout time.Duration) *Queue {
	return &Queue{
		taskTimeout: taskTimeout,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Start launches the executor goroutine
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return fmt.Errorf("admission queue already started")
	}
	q.started = true

	go q.run()
	log.WithFields(log.Fields{
		"task_timeout": q.taskTimeout.String(),
	}).Info("Admission queue started")
	return nil
}

// Stop rejects new submissions and waits until every already-queued task has
// run. Queued tasks are never dropped.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil
	}
	q.stopping = true
	remaining := len(q.pending)
	q.mu.Unlock()
	q.signal()

	log.WithFields(log.Fields{
		"remaining": remaining,
	}).Info("Admission queue draining")

	select {
	case <-q.done:
		log.Info("Admission queue stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit enqueues task and waits for its outcome. If ctx ends first the caller
// stops waiting but the task still runs in its turn; the outcome is dropped.
func (q *Queue) Submit(ctx context.Context, task Task) (interface{}, error) {
	j := &job{
		task:     task,
		result:   make(chan outcome, 1),
		enqueued: time.Now(),
	}

	q.mu.Lock()
	if !q.started || q.stopping {
		q.mu.Unlock()
		return nil, ErrStopped
	}
	q.pending = append(q.pending, j)
	metrics.AdmissionQueueDepth.Set(float64(len(q.pending)))
	q.mu.Unlock()
	q.signal()

	select {
	case out := <-j.result:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of tasks waiting to start
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer close(q.done)

	for {
		j, ok := q.next()
		if !ok {
			return
		}
		q.execute(j)
	}
}

func (q *Queue) next() (*job, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			j := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			metrics.AdmissionQueueDepth.Set(float64(len(q.pending)))
			q.mu.Unlock()
			return j, true
		}
		stopping := q.stopping
		q.mu.Unlock()

		if stopping {
			return nil, false
		}
		<-q.wake
	}
}

func (q *Queue) execute(j *job) {
	started := time.Now()
	metrics.AdmissionTaskWait.Observe(started.Sub(j.enqueued).Seconds())

	ctx := context.Background()
	if q.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.taskTimeout)
		defer cancel()
	}

	value, err := q.safeRun(ctx, j.task)
	metrics.AdmissionTaskLatency.Observe(time.Since(started).Seconds())

	j.result <- outcome{value: value, err: err}
}

func (q *Queue) safeRun(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"panic": fmt.Sprint(r),
			}).Error("Admission task panicked")
			value, err = nil, fmt.Errorf("admission task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// Do submits fn and returns its typed result.
func Do[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	value, err := q.Submit(ctx, func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if v, ok := value.(T); ok {
			return v, err
		}
		return zero, err
	}

	v, ok := value.(T)
	if !ok {
		return zero, nil
	}
	return v, nil
}
