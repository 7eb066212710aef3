package dispatcher

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
	"github.com/JakeFAU/loopy/internal/queue/memory"
)

var _ archive.JobSink = (*Dispatcher)(nil)

type countingArchiver struct {
	mu   sync.Mutex
	urls map[string]int
}

func (a *countingArchiver) Archive(_ context.Context, rawURL string) (archive.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.urls[rawURL]++
	return archive.Result{ArchivedURL: "https://web.archive.org/web/1/" + rawURL}, nil
}

func (a *countingArchiver) total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.urls {
		n += c
	}
	return n
}

func TestDispatcherProcessesQueuedJobs(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(16)
	archiver := &countingArchiver{urls: map[string]int{}}
	d := New(queue, archiver, 3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	for _, u := range []string{"http://a.example/", "http://b.example/", "http://c.example/", "http://d.example/"} {
		require.NoError(t, d.Enqueue(context.Background(), archive.Job{ID: u, URL: u}))
	}
	require.Eventually(t, func() bool { return archiver.total() == 4 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherLogsDroppedJobs(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(4)
	require.NoError(t, queue.Enqueue(context.Background(), archive.Job{ID: "left-behind"}))
	core, logs := observer.New(zapcore.InfoLevel)
	d := New(queue, &countingArchiver{urls: map[string]int{}}, 1, zap.New(core))
	d.workers = nil

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	entries := logs.FilterMessage("dropping pending archive jobs").All()
	require.Len(t, entries, 1)
	require.Equal(t, int64(1), entries[0].ContextMap()["pending"])
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, archive.Job) error {
	return q.err
}

func (q *errorQueue) Dequeue(ctx context.Context) (archive.Job, error) {
	<-ctx.Done()
	return archive.Job{}, ctx.Err()
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	d := New(&errorQueue{err: errors.New("boom")}, nil, 1, nil)
	err := d.Enqueue(context.Background(), archive.Job{ID: "job"})
	require.EqualError(t, err, "queue enqueue: boom")
}
