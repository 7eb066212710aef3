// Package dispatcher fans queued archive jobs out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/loopy/internal/archive"
	"github.com/JakeFAU/loopy/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   archive.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher with n workers sharing archiver.
func New(queue archive.Queue, archiver archive.Archiver, n int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if n < 1 {
		n = 1
	}
	workers := make([]*worker.Worker, 0, n)
	for i := 0; i < n; i++ {
		workers = append(workers, worker.New(i+1, queue, archiver, logger))
	}
	return &Dispatcher{queue: queue, workers: workers, logger: logger}
}

// Run starts all workers and blocks until the context finishes. Jobs still
// buffered at that point are dropped.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()

	if sized, ok := d.queue.(interface{ Len() int }); ok {
		if pending := sized.Len(); pending > 0 {
			d.logger.Info("dropping pending archive jobs", zap.Int("pending", pending))
		}
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, job archive.Job) error {
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
