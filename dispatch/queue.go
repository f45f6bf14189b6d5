// Package dispatch serializes view mutations onto a single consumer.
//
// Background goroutines Post closures; exactly one consumer takes them out
// in submission order, either by executing them itself (Run) or by handing
// them to an external event loop one at a time (Next).
package dispatch

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("dispatch: queue closed")

type Queue struct {
	mu     sync.Mutex
	tasks  []func()
	signal chan struct{}
	closed bool
}

func New() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Post enqueues task. It never blocks, so it is safe to call from the
// consumer itself. Tasks posted after Close are dropped.
func (q *Queue) Post(task func()) {
	if task == nil {
		return
	}
	q.push(task)
}

// push appends task and wakes the consumer. It reports false, leaving the
// queue untouched, once the queue is closed.
func (q *Queue) push(task func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Next blocks until a task is available and removes it from the queue.
// Remaining tasks are still handed out after Close; ErrClosed is returned
// once the queue is closed and empty.
func (q *Queue) Next(ctx context.Context) (func(), error) {
	for {
		q.mu.Lock()
		if len(q.tasks) > 0 {
			task := q.tasks[0]
			q.tasks[0] = nil
			q.tasks = q.tasks[1:]
			q.mu.Unlock()
			return task, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

// Run executes tasks on the calling goroutine until ctx is done or the
// queue is closed and drained.
func (q *Queue) Run(ctx context.Context) error {
	for {
		task, err := q.Next(ctx)
		if errors.Is(err, ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		task()
	}
}

// Flush waits until every task posted before the call has been consumed.
// It must not be called from the consumer.
func (q *Queue) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !q.push(func() { close(done) }) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
