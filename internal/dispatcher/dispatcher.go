// Package dispatcher manages worker fan-out over the task queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/webmention-receiver/internal/queue/memory"
	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

// ErrBusy is returned by Submit when the queue has no capacity left.
var ErrBusy = errors.New("dispatcher busy")

// Queue is a task queue that can also refuse work without blocking.
type Queue interface {
	webmention.Queue
	TryEnqueue(task webmention.Task) error
}

// Runner consumes tasks until the queue closes or ctx finishes.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher accepts requests as tasks and fans queue work out to workers.
type Dispatcher struct {
	queue   Queue
	tasks   webmention.TaskStore
	ids     webmention.IDGenerator
	clock   webmention.Clock
	workers []Runner
}

// New creates a Dispatcher. tasks may be nil.
func New(queue Queue, tasks webmention.TaskStore, ids webmention.IDGenerator, clock webmention.Clock, workers []Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		tasks:   tasks,
		ids:     ids,
		clock:   clock,
		workers: workers,
	}
}

// Run starts all workers and blocks until every one of them has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Submit records a new task for req and queues it without blocking.
func (d *Dispatcher) Submit(ctx context.Context, req webmention.Request) (webmention.Task, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return webmention.Task{}, fmt.Errorf("generate task id: %w", err)
	}
	task := webmention.Task{ID: id, Request: req, Received: d.clock.Now()}
	if d.tasks != nil {
		if err := d.tasks.CreateTask(ctx, task); err != nil {
			return webmention.Task{}, fmt.Errorf("create task: %w", err)
		}
	}

	if err := d.queue.TryEnqueue(task); err != nil {
		d.abandon(ctx, task, err)
		if errors.Is(err, memory.ErrQueueFull) || errors.Is(err, memory.ErrQueueClosed) {
			return webmention.Task{}, fmt.Errorf("%w: %w", ErrBusy, err)
		}
		return webmention.Task{}, fmt.Errorf("queue enqueue: %w", err)
	}
	return task, nil
}

// abandon closes out the record of a task that never reached the queue.
func (d *Dispatcher) abandon(ctx context.Context, task webmention.Task, cause error) {
	if d.tasks == nil {
		return
	}
	var failure *webmention.Failure
	switch {
	case errors.Is(cause, memory.ErrQueueFull):
		failure = webmention.Reject(webmention.ReasonReceiverBusy, "webmention receiver is busy, try again later")
	case errors.Is(cause, memory.ErrQueueClosed):
		failure = webmention.Reject(webmention.ReasonReceiverBusy, "webmention receiver is shutting down")
	default:
		failure = webmention.AsFailure(cause)
	}
	detail := failure.Detail
	if failure.Reason == webmention.ReasonUnexpected {
		detail = fmt.Sprintf("%s %v", failure.Detail, cause)
	}
	_ = d.tasks.UpdateTask(ctx, webmention.TaskRecord{
		ID:       task.ID,
		Request:  task.Request,
		State:    webmention.TaskRejected,
		Status:   failure.Reason.Status(),
		Reason:   failure.Reason,
		Detail:   detail,
		Received: task.Received,
		Updated:  d.clock.Now(),
	})
}
