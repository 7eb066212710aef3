package timeline

import (
	"context"
	"time"
)

// Fetcher retrieves one page of timeline items. maxSubpages bounds the number
// of API calls made to assemble the page. An empty slice means nothing new.
type Fetcher interface {
	FetchPage(ctx context.Context, cursor Cursor, maxSubpages int) ([]Item, error)
}

// Sink receives emitted records, one per call.
type Sink interface {
	WriteLine(ctx context.Context, line string) error
}

// Counter increments the frequency of a normalized URL and returns the new count.
type Counter interface {
	Increment(ctx context.Context, key string) (int64, error)
}

// TopReader lists the most frequent keys.
type TopReader interface {
	Top(ctx context.Context, n int) ([]URLCount, error)
}

// CursorStore persists the since_id between runs.
type CursorStore interface {
	LoadSinceID(ctx context.Context) (string, error)
	SaveSinceID(ctx context.Context, sinceID string) error
}

// ArchiveSubmitter hands a URL to the archiving side channel. It never fails
// the caller; implementations log their own errors.
type ArchiveSubmitter interface {
	Submit(ctx context.Context, rawURL, key string, count int64)
}

// Sleeper waits for d or until ctx ends, returning ctx.Err() in the latter case.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// KeyFunc turns a raw URL into its aggregation key.
type KeyFunc func(rawURL string) (string, error)
