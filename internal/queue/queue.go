package queue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrQueueFull is returned by Admit when the backlog is at capacity.
	ErrQueueFull = errors.New("request queue is full")

	// ErrQueueClosed is returned by Admit after Close has been called.
	ErrQueueClosed = errors.New("request queue is closed")
)

// FullError reports a rejected admission along with the depth observed at the
// time of rejection. It matches ErrQueueFull with errors.Is.
type FullError struct {
	Depth int
	Limit int
}

func (e *FullError) Error() string {
	return fmt.Sprintf("%s: %d of %d slots in use", ErrQueueFull, e.Depth, e.Limit)
}

func (e *FullError) Unwrap() error {
	return ErrQueueFull
}

// Status allows the rejection to be reported to HTTP callers as a retryable
// condition.
func (e *FullError) Status() (int, string) {
	return http.StatusServiceUnavailable, "request queue is full, retry later"
}

// Task is a unit of work executed by the queue's drain loop. The supplied
// context carries the admitting caller's values and cancellation, bounded by
// the queue's call timeout.
type Task func(ctx context.Context) (any, error)

// Options configures a Queue.
type Options struct {
	// MaxSize is the maximum number of admitted but unresolved tasks,
	// including the task currently executing.
	MaxSize int

	// MinInterval is the minimum time between the start of two successive
	// dispatches.
	MinInterval time.Duration

	// CallTimeout bounds the execution of each task. Zero disables the bound.
	CallTimeout time.Duration
}

// Stats is a point-in-time view of the queue counters.
type Stats struct {
	Depth     int
	Queued    uint64
	Processed uint64
	Failed    uint64
	Rejected  uint64
}

// Queue serializes work through a single drain loop, spacing dispatches by at
// least MinInterval. Admission is bounded: once MaxSize tasks are pending,
// further admissions fail immediately.
type Queue struct {
	// mu is the admission gate. It guards pending, draining and closed, and
	// is never held while a task executes.
	mu       sync.Mutex
	pending  []*queuedTask
	draining bool
	closed   bool
	wg       sync.WaitGroup

	maxSize     int
	minInterval time.Duration
	callTimeout time.Duration

	// lastDispatch is only touched by the drain loop, and only one loop runs
	// at a time.
	lastDispatch time.Time

	queued    atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

type queuedTask struct {
	id       string
	ctx      context.Context
	fn       Task
	future   *Future
	admitted time.Time
}

// New creates a queue. A MaxSize below one is treated as one.
func New(opts Options) *Queue {
	maxSize := opts.MaxSize
	if maxSize < 1 {
		maxSize = 1
	}

	return &Queue{
		pending:     make([]*queuedTask, 0, maxSize),
		maxSize:     maxSize,
		minInterval: opts.MinInterval,
		callTimeout: opts.CallTimeout,
	}
}

// Admit enqueues task for execution and returns a Future for its result. If
// the backlog is full the task is rejected with a *FullError and never runs.
func (q *Queue) Admit(ctx context.Context, task Task) (*Future, error) {
	t := &queuedTask{
		id:       uuid.NewString(),
		ctx:      ctx,
		fn:       task,
		future:   newFuture(),
		admitted: time.Now(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.rejected.Add(1)
		return nil, ErrQueueClosed
	}

	depth := len(q.pending)
	if depth >= q.maxSize {
		q.mu.Unlock()
		q.rejected.Add(1)
		log.Warn().
			Int("depth", depth).
			Int("limit", q.maxSize).
			Msg("request queue full, rejecting admission")
		return nil, &FullError{Depth: depth, Limit: q.maxSize}
	}

	q.pending = append(q.pending, t)
	startLoop := !q.draining
	if startLoop {
		q.draining = true
		q.wg.Add(1)
	}
	q.mu.Unlock()

	q.queued.Add(1)

	if startLoop {
		go q.drain()
	}

	return t.future, nil
}

// Depth returns the number of admitted tasks that have not yet resolved.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) Stats() Stats {
	return Stats{
		Depth:     q.Depth(),
		Queued:    q.queued.Load(),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
		Rejected:  q.rejected.Load(),
	}
}

// Close stops admission and waits for the backlog to drain. Close is safe to
// call more than once.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

// drain dispatches tasks in admission order until the backlog is empty. The
// head task stays in pending while it executes so that it counts towards the
// queue depth.
func (q *Queue) drain() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		t := q.pending[0]
		q.mu.Unlock()

		value, err := q.dispatch(t)

		q.mu.Lock()
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.processed.Add(1)
		if err != nil {
			q.failed.Add(1)
		}

		t.future.resolve(value, err)
	}
}

func (q *Queue) dispatch(t *queuedTask) (value any, err error) {
	// the caller gave up before its turn: resolve without spending a
	// dispatch slot on it
	if err := t.ctx.Err(); err != nil {
		log.Debug().Str("task", t.id).Err(err).Msg("task abandoned before dispatch")
		return nil, err
	}

	q.pace()

	ctx := t.ctx
	if q.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.callTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task", t.id).Interface("panic", r).Msg("queued task panicked, recovered")
			value, err = nil, fmt.Errorf("queued task panicked: %v", r)
		}
	}()

	log.Debug().
		Str("task", t.id).
		Dur("waited", time.Since(t.admitted)).
		Msg("dispatching queued task")

	value, err = t.fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil && t.ctx.Err() == nil {
		err = fmt.Errorf("call exceeded timeout of %s: %w", q.callTimeout, err)
	}

	return value, err
}

// pace blocks until MinInterval has elapsed since the previous dispatch, then
// records the new dispatch time.
func (q *Queue) pace() {
	if !q.lastDispatch.IsZero() {
		if wait := q.minInterval - time.Since(q.lastDispatch); wait > 0 {
			time.Sleep(wait)
		}
	}
	q.lastDispatch = time.Now()
}

// Do admits fn and waits for its result. Rejection errors are returned
// without waiting.
func Do[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	future, err := q.Admit(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}

	value, err := future.Wait(ctx)
	if err != nil {
		return zero, err
	}

	typed, _ := value.(T)
	return typed, nil
}
