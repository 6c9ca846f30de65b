// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

// Package opqueue provides a bounded, priority-ordered task queue with
// per-task timeouts and graceful draining. It is the single source of
// controlled concurrency in the runtime: operation handlers submit
// independent sub-work here instead of spawning unbounded goroutines.
//
// Tasks move through Queued → Running → {Completed, Failed, TimedOut},
// or are rejected up front when the queue is full or shut down.
//
// Example usage:
//
//	q, _ := opqueue.New(
//	    opqueue.WithMaxConcurrency(4),
//	    opqueue.WithMaxQueueSize(64),
//	    opqueue.WithTaskTimeout(30*time.Second),
//	)
//
//	result, err := q.Enqueue(ctx, func(ctx context.Context) (any, error) {
//	    return scan(ctx, dir)
//	}, opqueue.WithPriority(opqueue.PriorityHigh))
//
//	_ = q.Shutdown(context.Background())
package opqueue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueFull is returned when the queue already holds MaxQueueSize
	// waiting tasks. Running tasks do not count toward the limit.
	ErrQueueFull = errors.New("opqueue: queue is full")

	// ErrQueueShutDown is returned by Enqueue after Shutdown has been called.
	ErrQueueShutDown = errors.New("opqueue: queue shut down")

	// ErrTaskTimeout is returned when a task exceeds its timeout. The
	// concurrency slot it held is freed for the next queued task.
	ErrTaskTimeout = errors.New("opqueue: task timed out")
)

// Task is a unit of work executed by the queue. Implementations must honor
// ctx cancellation; a task that ignores it keeps its goroutine alive past
// the timeout even though its slot is already released.
type Task func(ctx context.Context) (any, error)

// Priority orders waiting tasks. Higher priorities run first; tasks of equal
// priority run in strict submission order.
type Priority int

const (
	// PriorityLow is the default tier for unspecified submissions.
	PriorityLow Priority = iota
	// PriorityNormal runs ahead of low-priority work.
	PriorityNormal
	// PriorityHigh runs ahead of everything else.
	PriorityHigh
)

type outcome struct {
	value any
	err   error
}

type item struct {
	task     Task
	priority Priority
	seq      uint64
	timeout  time.Duration
	ctx      context.Context
	done     chan outcome
}

// Queue is a bounded priority task scheduler.
type Queue struct {
	mu      sync.Mutex
	waiting itemHeap
	running int
	pending int // waiting + running
	seq     uint64
	closed  bool
	idle    []chan struct{}

	maxConcurrency int
	maxQueueSize   int
	taskTimeout    time.Duration

	completed atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
	totalExec atomic.Int64 // nanoseconds across finished tasks
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxConcurrency sets how many tasks may run simultaneously.
func WithMaxConcurrency(n int) Option {
	return func(q *Queue) { q.maxConcurrency = n }
}

// WithMaxQueueSize caps how many tasks may wait for a slot.
func WithMaxQueueSize(n int) Option {
	return func(q *Queue) { q.maxQueueSize = n }
}

// WithTaskTimeout sets the default per-task timeout.
func WithTaskTimeout(d time.Duration) Option {
	return func(q *Queue) { q.taskTimeout = d }
}

// New creates a queue. Non-positive concurrency, queue size, or timeout
// values are rejected with a descriptive error.
func New(opts ...Option) (*Queue, error) {
	q := &Queue{
		maxConcurrency: 4,
		maxQueueSize:   64,
		taskTimeout:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.maxConcurrency <= 0 {
		return nil, fmt.Errorf("opqueue: max concurrency must be positive, got %d", q.maxConcurrency)
	}
	if q.maxQueueSize <= 0 {
		return nil, fmt.Errorf("opqueue: max queue size must be positive, got %d", q.maxQueueSize)
	}
	if q.taskTimeout <= 0 {
		return nil, fmt.Errorf("opqueue: task timeout must be positive, got %v", q.taskTimeout)
	}
	return q, nil
}

// EnqueueOption adjusts a single submission.
type EnqueueOption func(*item)

// WithPriority sets the submission's priority tier.
func WithPriority(p Priority) EnqueueOption {
	return func(it *item) { it.priority = p }
}

// WithTimeout overrides the queue default timeout for this task.
func WithTimeout(d time.Duration) EnqueueOption {
	return func(it *item) {
		if d > 0 {
			it.timeout = d
		}
	}
}

// Enqueue submits task and blocks until it finishes, times out, or the
// caller's ctx is canceled. Submission fails immediately with ErrQueueFull
// when the waiting queue is at capacity, or ErrQueueShutDown after Shutdown.
func (q *Queue) Enqueue(ctx context.Context, task Task, opts ...EnqueueOption) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	it := &item{
		task:     task,
		priority: PriorityLow,
		timeout:  q.taskTimeout,
		ctx:      ctx,
		done:     make(chan outcome, 1),
	}
	for _, opt := range opts {
		opt(it)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueShutDown
	}
	if q.waiting.Len() >= q.maxQueueSize {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w (max %d waiting)", ErrQueueFull, q.maxQueueSize)
	}
	it.seq = q.seq
	q.seq++
	heap.Push(&q.waiting, it)
	q.pending++
	q.dispatchLocked()
	q.mu.Unlock()

	select {
	case out := <-it.done:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dispatchLocked starts waiting tasks while slots are free. Caller holds mu.
func (q *Queue) dispatchLocked() {
	for q.running < q.maxConcurrency && q.waiting.Len() > 0 {
		it := heap.Pop(&q.waiting).(*item)
		q.running++
		go q.run(it)
	}
}

func (q *Queue) run(it *item) {
	defer func() {
		q.mu.Lock()
		q.running--
		q.pending--
		q.dispatchLocked()
		if q.pending == 0 {
			for _, ch := range q.idle {
				close(ch)
			}
			q.idle = nil
		}
		q.mu.Unlock()
	}()

	// The submitter may have given up while the task was queued.
	if it.ctx.Err() != nil {
		q.failed.Add(1)
		it.done <- outcome{err: it.ctx.Err()}
		return
	}

	taskCtx, cancel := context.WithTimeout(it.ctx, it.timeout)
	defer cancel()

	start := time.Now()
	finished := make(chan outcome, 1)
	go func() {
		value, err := it.task(taskCtx)
		finished <- outcome{value: value, err: err}
	}()

	select {
	case out := <-finished:
		q.totalExec.Add(int64(time.Since(start)))
		if out.err != nil {
			q.failed.Add(1)
		} else {
			q.completed.Add(1)
		}
		it.done <- out
	case <-taskCtx.Done():
		q.totalExec.Add(int64(time.Since(start)))
		if it.ctx.Err() != nil {
			q.failed.Add(1)
			it.done <- outcome{err: it.ctx.Err()}
			return
		}
		q.timedOut.Add(1)
		it.done <- outcome{err: fmt.Errorf("%w after %v", ErrTaskTimeout, it.timeout)}
	}
}

// Shutdown stops accepting new work and waits for the active and already
// accepted queued tasks to finish. Repeated calls are no-ops. The wait is
// bounded by ctx.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	if q.pending == 0 {
		q.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.idle = append(q.idle, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain is an alias for Shutdown.
func (q *Queue) Drain(ctx context.Context) error {
	return q.Shutdown(ctx)
}

// QueueStats contains queue metrics.
type QueueStats struct {
	Completed   int64         `json:"completed"`
	Failed      int64         `json:"failed"`
	TimedOut    int64         `json:"timed_out"`
	TotalTime   time.Duration `json:"total_time"`
	AverageTime time.Duration `json:"average_time"`
	QueueLength int           `json:"queue_length"`
	Active      int           `json:"active"`
}

// Stats returns a snapshot of queue statistics.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	queued := q.waiting.Len()
	active := q.running
	q.mu.Unlock()

	completed := q.completed.Load()
	failed := q.failed.Load()
	timedOut := q.timedOut.Load()
	total := time.Duration(q.totalExec.Load())

	finished := completed + failed + timedOut
	var avg time.Duration
	if finished > 0 {
		avg = total / time.Duration(finished)
	}
	return QueueStats{
		Completed:   completed,
		Failed:      failed,
		TimedOut:    timedOut,
		TotalTime:   total,
		AverageTime: avg,
		QueueLength: queued,
		Active:      active,
	}
}

// itemHeap orders items by priority, then submission order.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
