// Package memory provides the bounded in-process archive job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/loopy/internal/archive"
	"github.com/JakeFAU/loopy/internal/metrics"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan archive.Job
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch: make(chan archive.Job, capacity),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, job archive.Job) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return archive.ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		metrics.SetArchiveQueueDepth(len(q.ch))
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (archive.Job, error) {
	select {
	case <-ctx.Done():
		return archive.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return archive.Job{}, archive.ErrQueueClosed
		}
		metrics.SetArchiveQueueDepth(len(q.ch))
		return job, nil
	}
}

// Len reports the number of buffered jobs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting jobs. Buffered jobs can still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
