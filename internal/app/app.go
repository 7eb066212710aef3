// Package app builds the poller and its collaborators from configuration and
// owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/loopy/internal/api"
	"github.com/JakeFAU/loopy/internal/archive"
	"github.com/JakeFAU/loopy/internal/archive/wayback"
	"github.com/JakeFAU/loopy/internal/clock/system"
	"github.com/JakeFAU/loopy/internal/config"
	"github.com/JakeFAU/loopy/internal/dispatcher"
	"github.com/JakeFAU/loopy/internal/fetcher/twitter"
	"github.com/JakeFAU/loopy/internal/id/uuid"
	pubMemory "github.com/JakeFAU/loopy/internal/publisher/memory"
	"github.com/JakeFAU/loopy/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/loopy/internal/queue/memory"
	"github.com/JakeFAU/loopy/internal/sink"
	gcssink "github.com/JakeFAU/loopy/internal/sink/gcs"
	storeMemory "github.com/JakeFAU/loopy/internal/store/memory"
	"github.com/JakeFAU/loopy/internal/store/postgres"
	"github.com/JakeFAU/loopy/internal/store/sqlite"
	"github.com/JakeFAU/loopy/internal/surt"
	"github.com/JakeFAU/loopy/internal/timeline"
)

const (
	shutdownTimeout = 10 * time.Second
	// dryRunTopic names the in-process topic dryrun jobs are recorded under.
	dryRunTopic     = "dryrun"
	dryRunRetention = 1000
)

// Store is a frequency aggregator that can be listed and closed.
type Store interface {
	timeline.Counter
	timeline.TopReader
	Close() error
}

type lineSink interface {
	timeline.Sink
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	poller    *timeline.Poller
	store     Store
	sink      lineSink
	storage   *storage.Client
	publisher *pubsub.Publisher
	dryRun    *pubMemory.Publisher
	queue     *queueMemory.Queue
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server
}

// Build creates the application's dependencies. On error everything opened
// so far is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.logger.Info("building application dependencies",
		zap.String("aggregator", cfg.Aggregator.Backend),
		zap.String("key_format", cfg.Aggregator.KeyFormat),
		zap.String("archive_mode", cfg.Archive.Mode),
		zap.String("output", cfg.Output.Path),
	)

	if a.store, err = OpenStore(ctx, cfg); err != nil {
		return nil, err
	}
	var cursors timeline.CursorStore
	if cfg.Cursor.Persist {
		cs, ok := a.store.(timeline.CursorStore)
		if !ok {
			return nil, fmt.Errorf("aggregator backend %q cannot persist the cursor", cfg.Aggregator.Backend)
		}
		cursors = cs
	}

	if err = a.setupSink(ctx); err != nil {
		return nil, err
	}

	fetcher, err := twitter.New(twitter.Config{
		BaseURL:              cfg.Fetch.BaseURL,
		Path:                 cfg.Fetch.Path,
		BearerToken:          cfg.Fetch.BearerToken,
		UserAgent:            cfg.Fetch.UserAgent,
		Count:                cfg.Fetch.Count,
		Timeout:              cfg.Fetch.Timeout,
		ConnectionErrorLimit: cfg.Fetch.ConnectionErrorLimit,
		HTTPErrorLimit:       cfg.Fetch.HTTPErrorLimit,
		MaxRateLimitWait:     cfg.Fetch.MaxRateLimitWait,
	}, nil, logger.Named("fetcher"))
	if err != nil {
		return nil, fmt.Errorf("timeline client init failed: %w", err)
	}

	submitter, err := a.setupArchive(ctx)
	if err != nil {
		return nil, err
	}

	a.poller = timeline.NewPoller(
		timeline.Config{
			MaxSubpages:           cfg.Poll.MaxSubpages,
			IncludeWarnings:       cfg.Poll.IncludeWarnings,
			ResetBackoffOnResults: cfg.Poll.ResetBackoffOnResults,
		},
		timeline.Cursor{SinceID: cfg.Poll.SinceID, MaxID: cfg.Poll.MaxID},
		fetcher,
		a.sink,
		a.store,
		submitter,
		cursors,
		system.New(),
		KeyFunc(cfg.Aggregator.KeyFormat),
		logger.Named("poller"),
	)

	if cfg.Server.Port > 0 {
		a.apiServer = api.NewServer(a.store, a.poller.Running, logger.Named("api"))
	}
	return a, nil
}

// KeyFunc returns the URL key function for a configured key format.
func KeyFunc(format string) timeline.KeyFunc {
	if format == config.KeyFormatSURT {
		return surt.Transform
	}
	return surt.Normalize
}

// OpenStore opens the configured frequency store. Durable backends also
// implement timeline.CursorStore.
func OpenStore(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Aggregator.Backend {
	case config.BackendPostgres:
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			CountsTable:     cfg.DB.CountsTable,
			CursorTable:     cfg.DB.CursorTable,
			Stream:          cfg.Cursor.Stream,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("postgres schema init failed: %w", err)
		}
		return store, nil
	case config.BackendSQLite:
		store, err := sqlite.Open(ctx, sqlite.Config{
			Path:        cfg.SQLite.Path,
			Stream:      cfg.Cursor.Stream,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		return store, nil
	case config.BackendMemory, "":
		return storeMemory.NewFrequencyStore(), nil
	default:
		return nil, fmt.Errorf("unknown aggregator backend %q", cfg.Aggregator.Backend)
	}
}

func (a *App) setupSink(ctx context.Context) error {
	path := a.cfg.Output.Path
	switch {
	case path == "" || path == "-":
		a.sink = sink.Stdout()
	case gcssink.IsURI(path):
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		s, err := gcssink.New(ctx, client, path)
		if err != nil {
			return fmt.Errorf("gcs sink init failed: %w", err)
		}
		a.sink = s
	default:
		w, err := sink.OpenFile(path, a.cfg.Output.Append)
		if err != nil {
			return fmt.Errorf("file sink init failed: %w", err)
		}
		a.sink = w
	}
	return nil
}

func (a *App) setupArchive(ctx context.Context) (timeline.ArchiveSubmitter, error) {
	mode, err := archive.ParseMode(a.cfg.Archive.Mode)
	if err != nil {
		return nil, err
	}
	filter := archive.Filter{MinCount: a.cfg.Archive.MinCount}
	logger := a.logger.Named("archive")

	newArchiver := func() (*wayback.Client, error) {
		client, err := wayback.New(wayback.Config{
			BaseURL:           a.cfg.Archive.BaseURL,
			AvailabilityURL:   a.cfg.Archive.AvailabilityURL,
			UserAgent:         a.cfg.Archive.UserAgent,
			Timeout:           a.cfg.Archive.Timeout,
			RequestsPerMinute: a.cfg.Archive.RequestsPerMinute,
			Burst:             a.cfg.Archive.Burst,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("archive client init failed: %w", err)
		}
		return client, nil
	}

	switch mode {
	case archive.ModeSync:
		archiver, err := newArchiver()
		if err != nil {
			return nil, err
		}
		return archive.NewInline(archiver, filter, logger), nil
	case archive.ModeQueue:
		archiver, err := newArchiver()
		if err != nil {
			return nil, err
		}
		a.queue = queueMemory.NewQueue(a.cfg.Archive.QueueSize)
		a.dispatch = dispatcher.New(a.queue, archiver, a.cfg.Archive.Workers, logger)
		return archive.NewEnqueuer(a.dispatch, uuid.New(), system.New(), filter, a.cfg.Archive.EnqueueTimeout, logger), nil
	case archive.ModePubSub:
		pub, err := pubsub.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.publisher = pub
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
		queue := archive.NewPublishQueue(pub, a.cfg.PubSub.TopicName)
		return archive.NewEnqueuer(queue, uuid.New(), system.New(), filter, a.cfg.Archive.EnqueueTimeout, logger), nil
	case archive.ModeDryRun:
		a.dryRun = pubMemory.NewBounded(dryRunRetention)
		queue := archive.NewPublishQueue(a.dryRun, dryRunTopic)
		return archive.NewEnqueuer(queue, uuid.New(), system.New(), filter, a.cfg.Archive.EnqueueTimeout, logger), nil
	default:
		return archive.Off{}, nil
	}
}

// DryRunJobs returns the most recent jobs recorded in dryrun mode, oldest
// first. It is empty in every other mode.
func (a *App) DryRunJobs() []archive.Job {
	if a.dryRun == nil {
		return nil
	}
	msgs := a.dryRun.Messages()
	jobs := make([]archive.Job, 0, len(msgs))
	for _, msg := range msgs {
		if job, ok := msg.Payload.(archive.Job); ok {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// Poller returns the configured poller.
func (a *App) Poller() *timeline.Poller {
	return a.poller
}

// Store returns the frequency store.
func (a *App) Store() Store {
	return a.store
}

// Run polls until ctx is canceled or the poller fails. Archive workers and
// the ops server run alongside it and stop when it returns.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if a.dispatch != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.logger.Info("archive dispatcher started", zap.Int("workers", a.cfg.Archive.Workers))
			a.dispatch.Run(ctx)
		}()
	}

	var srv *http.Server
	if a.apiServer != nil {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
			}
		}()
	}

	runErr := a.poller.Run(ctx)
	cancel()
	a.logger.Info("shutdown initiated")

	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		stop()
	}
	wg.Wait()
	return runErr
}

// Close releases every resource Build opened. The output sink is flushed
// first so no record is lost on shutdown.
func (a *App) Close() error {
	var errs []error
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink: %w", err))
		}
	}
	if a.queue != nil {
		a.queue.Close()
	}
	if a.dryRun != nil {
		a.logger.Info("archive dry run finished", zap.Int("jobs", a.dryRun.Total()))
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
