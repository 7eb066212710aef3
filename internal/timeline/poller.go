package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/loopy/internal/metrics"
)

// DefaultMaxSubpages bounds the API calls behind one page fetch.
const DefaultMaxSubpages = 4

// Config controls Poller behavior.
type Config struct {
	MaxSubpages     int
	IncludeWarnings bool
	// ResetBackoffOnResults restores the initial exponent after a non-empty
	// page. Off by default: the exponent only ever grows during a run.
	ResetBackoffOnResults bool
}

// Poller runs the fetch, drain, sleep loop until its context ends or the
// fetcher fails.
type Poller struct {
	cfg      Config
	fetcher  Fetcher
	sink     Sink
	counter  Counter
	archiver ArchiveSubmitter
	cursors  CursorStore
	sleeper  Sleeper
	keyFunc  KeyFunc
	tracker  *Tracker
	backoff  *Backoff
	running  atomic.Bool
	logger   *zap.Logger
}

// errCanceled stops a drain between items.
var errCanceled = errors.New("poll canceled")

// NewPoller constructs a Poller. archiver and cursors may be nil.
func NewPoller(
	cfg Config,
	start Cursor,
	fetcher Fetcher,
	sink Sink,
	counter Counter,
	archiver ArchiveSubmitter,
	cursors CursorStore,
	sleeper Sleeper,
	keyFunc KeyFunc,
	logger *zap.Logger,
) *Poller {
	if cfg.MaxSubpages <= 0 {
		cfg.MaxSubpages = DefaultMaxSubpages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		cfg:      cfg,
		fetcher:  fetcher,
		sink:     sink,
		counter:  counter,
		archiver: archiver,
		cursors:  cursors,
		sleeper:  sleeper,
		keyFunc:  keyFunc,
		tracker:  NewTracker(start),
		backoff:  NewBackoff(),
		logger:   logger,
	}
}

// Running reports whether Run is executing. Safe for concurrent use.
func (p *Poller) Running() bool {
	return p.running.Load()
}

// State returns a snapshot of the poll state. Call it only when Run is not
// executing, or from the goroutine running it.
func (p *Poller) State() State {
	return State{
		Cursor:          p.tracker.Cursor(),
		BackoffExponent: p.backoff.Exponent(),
		Running:         p.running.Load(),
	}
}

// Run blocks until ctx is canceled (returning nil) or a fetch, sink, counter
// or cursor store error ends the run.
func (p *Poller) Run(ctx context.Context) error {
	p.running.Store(true)
	defer p.running.Store(false)

	if err := p.restoreCursor(ctx); err != nil {
		return err
	}
	p.logger.Info("poller started",
		zap.String("since_id", p.tracker.Cursor().SinceID),
		zap.String("max_id", p.tracker.Cursor().MaxID),
		zap.Int("max_subpages", p.cfg.MaxSubpages),
	)

	for {
		if ctx.Err() != nil {
			p.logger.Info("poller canceled")
			return nil
		}

		cursor := p.tracker.Cursor()
		items, err := p.fetcher.FetchPage(ctx, cursor, p.cfg.MaxSubpages)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("poller canceled during fetch")
				return nil
			}
			return fmt.Errorf("fetch page: %w", err)
		}
		metrics.ObservePage(len(items))
		// max_id only bounds the first fetch, empty or not.
		p.tracker.ClearMaxID()

		if len(items) == 0 {
			if err := p.idle(ctx); err != nil {
				p.logger.Info("poller canceled during backoff")
				return nil
			}
			continue
		}

		if p.cfg.ResetBackoffOnResults {
			p.backoff.Reset()
		}
		if err := p.drain(ctx, items); err != nil {
			if errors.Is(err, errCanceled) {
				p.logger.Info("poller canceled between items")
				return nil
			}
			return err
		}
	}
}

func (p *Poller) restoreCursor(ctx context.Context) error {
	if p.cursors == nil || p.tracker.Cursor().SinceID != "" {
		return nil
	}
	sinceID, err := p.cursors.LoadSinceID(ctx)
	if err != nil {
		return fmt.Errorf("load since_id: %w", err)
	}
	if sinceID != "" {
		p.tracker.ObservePageStart(sinceID)
		p.logger.Info("restored since_id", zap.String("since_id", sinceID))
	}
	return nil
}

func (p *Poller) idle(ctx context.Context) error {
	delay := p.backoff.Next()
	metrics.ObserveBackoff(delay, p.backoff.Exponent())
	p.logger.Debug("no new items; backing off",
		zap.Duration("sleep", delay),
		zap.Float64("next_exponent", p.backoff.Exponent()),
	)
	if err := p.sleeper.Sleep(ctx, delay); err != nil {
		return fmt.Errorf("backoff sleep: %w", err)
	}
	return nil
}

// drain processes a page item by item. The cursor only moves once the whole
// page has been handled.
func (p *Poller) drain(ctx context.Context, items []Item) error {
	firstID := ""
	for i, item := range items {
		if ctx.Err() != nil {
			return errCanceled
		}
		variant := Classify(item)
		if i == 0 && variant.HasID() {
			firstID = item.ID()
		}
		if err := p.handle(ctx, item, variant); err != nil {
			return err
		}
	}

	if !p.tracker.ObservePageStart(firstID) {
		return nil
	}
	if p.cursors != nil {
		if err := p.cursors.SaveSinceID(ctx, firstID); err != nil {
			return fmt.Errorf("save since_id: %w", err)
		}
	}
	p.logger.Debug("since_id advanced", zap.String("since_id", firstID))
	return nil
}

func (p *Poller) handle(ctx context.Context, item Item, variant Variant) error {
	metrics.ObserveItem(variant.String())

	switch variant {
	case VariantIdentifier:
		p.logger.Info("archived", zap.String("id", item.Identifier))
	case VariantStatus, VariantUser:
		p.logger.Info("archived", zap.String("id", item.ID()))
	case VariantRateLimitNotice:
		notice := ParseRateLimitNotice(item)
		p.logger.Warn(fmt.Sprintf("%s tweets undelivered at %s", notice.Track, notice.At.Format(time.RFC3339)))
	case VariantWarning:
		p.logger.Warn(WarningMessage(item))
	}

	if variant.Emitted(p.cfg.IncludeWarnings) {
		line, err := item.Line()
		if err != nil {
			return fmt.Errorf("render %s item: %w", variant, err)
		}
		if err := p.sink.WriteLine(ctx, line); err != nil {
			return fmt.Errorf("write %s item: %w", variant, err)
		}
	}

	if variant == VariantStatus {
		return p.countURLs(ctx, item)
	}
	return nil
}

func (p *Poller) countURLs(ctx context.Context, item Item) error {
	tweet, err := ParseTweet(item)
	if err != nil {
		p.logger.Debug("url extraction disabled for item", zap.String("id", item.ID()), zap.Error(err))
		return nil
	}
	for _, rawURL := range tweet.URLs {
		key, err := p.keyFunc(rawURL)
		if err != nil {
			metrics.ObserveURLSkipped()
			p.logger.Debug("skipping url", zap.String("id", tweet.ID), zap.String("url", rawURL), zap.Error(err))
			continue
		}
		count, err := p.counter.Increment(ctx, key)
		if err != nil {
			return fmt.Errorf("increment %q: %w", key, err)
		}
		metrics.ObserveURLCounted()
		if p.archiver != nil {
			p.archiver.Submit(ctx, rawURL, key, count)
		}
	}
	return nil
}
