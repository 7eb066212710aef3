package archive

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/loopy/internal/metrics"
)

const defaultEnqueueTimeout = time.Second

// Off discards every submission.
type Off struct{}

// Submit does nothing.
func (Off) Submit(context.Context, string, string, int64) {}

// Inline archives on the caller's goroutine.
type Inline struct {
	archiver Archiver
	filter   Filter
	logger   *zap.Logger
}

// NewInline constructs an Inline submitter.
func NewInline(archiver Archiver, filter Filter, logger *zap.Logger) *Inline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inline{archiver: archiver, filter: filter, logger: logger}
}

// Submit archives rawURL when the filter allows count. Errors are logged.
func (s *Inline) Submit(ctx context.Context, rawURL, key string, count int64) {
	if !s.filter.Allow(count) {
		return
	}
	Process(ctx, s.archiver, Job{URL: rawURL, Key: key, Count: count}, s.logger)
}

// Process runs one archive request and logs its outcome.
func Process(ctx context.Context, archiver Archiver, job Job, logger *zap.Logger) {
	res, err := archiver.Archive(ctx, job.URL)
	if err != nil {
		metrics.ObserveArchive("failed")
		logger.Warn("archive failed",
			zap.String("job_id", job.ID),
			zap.String("url", job.URL),
			zap.Error(err),
		)
		return
	}
	outcome := "archived"
	if res.Cached {
		outcome = "cached"
	}
	metrics.ObserveArchive(outcome)
	logger.Info("url archived",
		zap.String("job_id", job.ID),
		zap.String("url", job.URL),
		zap.String("key", job.Key),
		zap.String("archived_url", res.ArchivedURL),
		zap.Bool("cached", res.Cached),
	)
}

// Enqueuer hands submissions to a JobSink (an in-memory queue or a topic).
type Enqueuer struct {
	sink    JobSink
	ids     IDGenerator
	clock   Clock
	filter  Filter
	timeout time.Duration
	logger  *zap.Logger
}

// NewEnqueuer constructs an Enqueuer. A job that cannot be enqueued within
// timeout is dropped.
func NewEnqueuer(sink JobSink, ids IDGenerator, clock Clock, filter Filter, timeout time.Duration, logger *zap.Logger) *Enqueuer {
	if timeout <= 0 {
		timeout = defaultEnqueueTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enqueuer{sink: sink, ids: ids, clock: clock, filter: filter, timeout: timeout, logger: logger}
}

// Submit builds a job and enqueues it. Errors are logged.
func (e *Enqueuer) Submit(ctx context.Context, rawURL, key string, count int64) {
	if !e.filter.Allow(count) {
		return
	}
	id, err := e.ids.NewID()
	if err != nil {
		metrics.ObserveArchive("dropped")
		e.logger.Warn("archive job id failed", zap.String("url", rawURL), zap.Error(err))
		return
	}
	job := Job{ID: id, URL: rawURL, Key: key, Count: count, Submitted: e.clock.Now()}

	enqueueCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.sink.Enqueue(enqueueCtx, job); err != nil {
		metrics.ObserveArchive("dropped")
		e.logger.Warn("archive job dropped",
			zap.String("job_id", job.ID),
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveArchive("enqueued")
	e.logger.Debug("archive job enqueued", zap.String("job_id", job.ID), zap.String("url", rawURL))
}
