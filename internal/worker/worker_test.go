package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/loopy/internal/archive"
)

type sliceQueue struct {
	mu   sync.Mutex
	jobs []archive.Job
}

func (q *sliceQueue) Enqueue(_ context.Context, job archive.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *sliceQueue) Dequeue(context.Context) (archive.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return archive.Job{}, archive.ErrQueueClosed
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, nil
}

type recordingArchiver struct {
	mu   sync.Mutex
	urls []string
	fail map[string]bool
}

func (a *recordingArchiver) Archive(_ context.Context, rawURL string) (archive.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.urls = append(a.urls, rawURL)
	if a.fail[rawURL] {
		return archive.Result{}, errors.New("capture refused")
	}
	return archive.Result{ArchivedURL: "https://web.archive.org/web/2024/" + rawURL}, nil
}

func TestWorkerProcessesJobsInOrder(t *testing.T) {
	t.Parallel()

	queue := &sliceQueue{jobs: []archive.Job{
		{ID: "1", URL: "http://a.example/"},
		{ID: "2", URL: "http://b.example/"},
		{ID: "3", URL: "http://c.example/"},
	}}
	archiver := &recordingArchiver{fail: map[string]bool{"http://b.example/": true}}
	core, logs := observer.New(zapcore.InfoLevel)

	done := make(chan struct{})
	go func() {
		New(1, queue, archiver, zap.New(core)).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on closed queue")
	}

	require.Equal(t, []string{"http://a.example/", "http://b.example/", "http://c.example/"}, archiver.urls)
	require.Equal(t, 2, logs.FilterMessage("url archived").Len())
	failed := logs.FilterMessage("archive failed").All()
	require.Len(t, failed, 1)
	require.Equal(t, "2", failed[0].ContextMap()["job_id"])
	require.Equal(t, int64(1), failed[0].ContextMap()["worker"])
}

type cancelQueue struct{}

func (cancelQueue) Enqueue(context.Context, archive.Job) error { return nil }

func (cancelQueue) Dequeue(ctx context.Context) (archive.Job, error) {
	<-ctx.Done()
	return archive.Job{}, ctx.Err()
}

func TestWorkerStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(1, cancelQueue{}, &recordingArchiver{}, nil).Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
