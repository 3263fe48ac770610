// Package memory provides the in-process import job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

// ErrClosed is returned by Enqueue and Dequeue after Close.
var ErrClosed = catalog.ErrQueueClosed

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch        chan catalog.ImportJob
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:   make(chan catalog.ImportJob, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, job catalog.ImportJob) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (catalog.ImportJob, error) {
	select {
	case <-ctx.Done():
		return catalog.ImportJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return catalog.ImportJob{}, ErrClosed
	case job := <-q.ch:
		return job, nil
	}
}

// Len reports the number of queued jobs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue. Buffered jobs stay readable through Drain.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Drain removes and returns every buffered job without blocking.
func (q *Queue) Drain() []catalog.ImportJob {
	var jobs []catalog.ImportJob
	for {
		select {
		case job := <-q.ch:
			jobs = append(jobs, job)
		default:
			return jobs
		}
	}
}
