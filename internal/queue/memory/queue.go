// Package memory provides an in-process task queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

var (
	// ErrQueueFull is returned by TryEnqueue when no capacity is left.
	ErrQueueFull = errors.New("queue full")
	// ErrQueueClosed is returned once the queue is closed and drained.
	ErrQueueClosed = errors.New("queue closed")
)

// Queue is a bounded in-memory queue with context-aware operations. The task
// channel is never closed; Close signals through done instead so a blocked
// Enqueue can observe it.
type Queue struct {
	ch        chan webmention.Task
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:   make(chan webmention.Task, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a task into the queue, waiting for capacity until ctx ends
// or the queue is closed.
func (q *Queue) Enqueue(ctx context.Context, task webmention.Task) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrQueueClosed
	case q.ch <- task:
		return nil
	}
}

// TryEnqueue pushes a task without waiting.
func (q *Queue) TryEnqueue(task webmention.Task) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue pops the next task, respecting context cancellation. Tasks queued
// before Close are still delivered; ErrQueueClosed follows once none remain.
func (q *Queue) Dequeue(ctx context.Context) (webmention.Task, error) {
	select {
	case task := <-q.ch:
		return task, nil
	default:
	}
	select {
	case <-ctx.Done():
		return webmention.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task := <-q.ch:
		return task, nil
	case <-q.done:
		select {
		case task := <-q.ch:
			return task, nil
		default:
			return webmention.Task{}, ErrQueueClosed
		}
	}
}

// Len reports the number of queued tasks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting tasks and wakes blocked producers. It is safe to call
// more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
