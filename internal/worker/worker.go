// Package worker runs archive jobs taken from the job queue.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/loopy/internal/archive"
	"github.com/JakeFAU/loopy/internal/metrics"
)

// Worker consumes queued archive jobs one at a time.
type Worker struct {
	id       int
	queue    archive.Queue
	archiver archive.Archiver
	logger   *zap.Logger
}

// New constructs a Worker.
func New(id int, queue archive.Queue, archiver archive.Archiver, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:       id,
		queue:    queue,
		archiver: archiver,
		logger:   logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming jobs until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, archive.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued archive job", zap.String("job_id", job.ID))
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job archive.Job) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	archive.Process(ctx, w.archiver, job, w.logger)
}
