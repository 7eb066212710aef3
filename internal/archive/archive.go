// Package archive submits frequently shared URLs to a web archive. Every
// submission path logs and discards failures; archiving never stops a poll.
package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Result describes a capture.
type Result struct {
	ArchivedURL string `json:"archived_url"`
	// Cached is true when an existing snapshot was returned instead of a new capture.
	Cached bool `json:"cached"`
}

// Archiver captures a URL.
type Archiver interface {
	Archive(ctx context.Context, rawURL string) (Result, error)
}

// Job is one pending archive request.
type Job struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	Count     int64     `json:"count"`
	Submitted time.Time `json:"submitted"`
}

// Queue buffers jobs between the poller and the archive workers.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
}

// JobSink accepts jobs for asynchronous processing.
type JobSink interface {
	Enqueue(ctx context.Context, job Job) error
}

// Publisher sends a JSON-encodable payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator creates job identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock supplies submission timestamps.
type Clock interface {
	Now() time.Time
}

// Mode selects how submissions are carried out.
type Mode string

// Supported modes.
const (
	ModeOff    Mode = "off"
	ModeSync   Mode = "sync"
	ModeQueue  Mode = "queue"
	ModePubSub Mode = "pubsub"
	// ModeDryRun records jobs in process without archiving anything.
	ModeDryRun Mode = "dryrun"
)

var (
	// ErrUnknownMode is returned by ParseMode.
	ErrUnknownMode = errors.New("unknown archive mode")
	// ErrQueueClosed is returned by Dequeue once a queue is closed and drained.
	ErrQueueClosed = errors.New("queue closed")
)

// ParseMode validates a configured mode. Empty means off.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeOff, nil
	case ModeOff, ModeSync, ModeQueue, ModePubSub, ModeDryRun:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Filter decides which increments trigger a submission. A URL is submitted
// once, when its count first reaches MinCount.
type Filter struct {
	MinCount int64
}

// Allow reports whether an increment that produced count should be submitted.
func (f Filter) Allow(count int64) bool {
	min := f.MinCount
	if min < 1 {
		min = 1
	}
	return count == min
}

// PublishQueue is a JobSink that publishes jobs to a topic.
type PublishQueue struct {
	publisher Publisher
	topic     string
}

// NewPublishQueue wraps publisher.
func NewPublishQueue(publisher Publisher, topic string) *PublishQueue {
	return &PublishQueue{publisher: publisher, topic: topic}
}

// Enqueue publishes job as JSON.
func (q *PublishQueue) Enqueue(ctx context.Context, job Job) error {
	if _, err := q.publisher.Publish(ctx, q.topic, job); err != nil {
		return fmt.Errorf("publish archive job: %w", err)
	}
	return nil
}
