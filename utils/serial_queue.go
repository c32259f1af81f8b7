package utils

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/depthcam/logging"
)

// ErrQueueClosed is returned when submitting to a closed SerialQueue.
var ErrQueueClosed = errors.New("queue closed")

// SerialQueue runs submitted tasks one at a time, in submission order, on a single goroutine. A
// task that panics is logged and the queue moves on.
type SerialQueue struct {
	logger  logging.Logger
	workers StoppableWorkers

	mu     sync.Mutex
	tasks  []func()
	notify chan struct{}
	closed bool
}

// NewSerialQueue starts the queue's goroutine.
func NewSerialQueue(logger logging.Logger) *SerialQueue {
	q := &SerialQueue{
		logger: logger,
		notify: make(chan struct{}, 1),
	}
	q.workers = NewStoppableWorkers(q.run)
	return q
}

// Submit schedules task to run after every task submitted before it.
func (q *SerialQueue) Submit(task func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.tasks = append(q.tasks, task)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Flush blocks until every task submitted before the call has run.
func (q *SerialQueue) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := q.Submit(func() { close(done) }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of tasks waiting to run.
func (q *SerialQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close stops accepting tasks, waits for a running task to return and discards the rest. Close
// must not be called from a task.
func (q *SerialQueue) Close() {
	q.mu.Lock()
	q.closed = true
	dropped := len(q.tasks)
	q.tasks = nil
	q.mu.Unlock()

	q.workers.Stop()
	if dropped > 0 {
		q.logger.Debugw("discarded queued tasks on close", "count", dropped)
	}
}

func (q *SerialQueue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		}
		for {
			task, ok := q.next()
			if !ok {
				break
			}
			q.runTask(task)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (q *SerialQueue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return task, true
}

func (q *SerialQueue) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Errorw("queued task panicked", "panic", r)
		}
	}()
	task()
}
