// Package eventloop implements the single-consumer deferred-call queue that
// serialises every device state change.
//
// Any goroutine may [Queue.Schedule] a closure. Exactly one goroutine, the
// consumer, calls [Queue.Run] (or [Queue.DrainAndRun] in a loop) and executes
// the closures in the order they were scheduled. Work that must observe or
// mutate device state is therefore never executed concurrently.
package eventloop

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/MrWong99/wakecore/internal/observe"
)

// Task is a deferred unit of work.
type Task func()

// Option is a functional option for [New].
type Option func(*Queue)

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// Queue is a FIFO of deferred tasks with a single consumer.
//
// Producers append under the mutex and poke a one-slot wake channel; the
// consumer swaps the whole pending slice out and runs it without holding the
// lock, so tasks may schedule further tasks without deadlocking.
type Queue struct {
	mu      sync.Mutex
	pending []Task
	wake    chan struct{}
	metrics *observe.Metrics
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(q)
	}
	if q.metrics == nil {
		q.metrics = observe.DefaultMetrics()
	}
	return q
}

// Schedule appends task to the queue. Safe for concurrent use, including from
// within a running task. Nil tasks are ignored.
func (q *Queue) Schedule(task func()) {
	if task == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of tasks waiting to be drained.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DrainAndRun blocks until at least one task is pending (or ctx is done), then
// executes every task that was pending at that moment in insertion order.
// Tasks scheduled while the batch runs are left for the next call.
//
// A panicking task is recovered and logged; the remaining tasks of the batch
// still run. Returns ctx.Err() when ctx is cancelled before work arrives.
func (q *Queue) DrainAndRun(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.wake:
	}

	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	for _, task := range batch {
		q.runTask(ctx, task)
	}
	q.metrics.TasksExecuted.Add(ctx, int64(len(batch)))
	q.metrics.DrainDuration.Record(ctx, time.Since(start).Seconds())
	return nil
}

// Run drains the queue until ctx is cancelled. It always returns a non-nil
// error (ctx.Err()).
func (q *Queue) Run(ctx context.Context) error {
	for {
		if err := q.DrainAndRun(ctx); err != nil {
			return err
		}
	}
}

func (q *Queue) runTask(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.metrics.TaskPanics.Add(ctx, 1)
			slog.Error("eventloop: task panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	task()
}
