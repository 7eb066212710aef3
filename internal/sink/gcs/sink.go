// Package gcs streams emitted records into a Google Cloud Storage object.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
)

const contentType = "application/x-ndjson"

// Location identifies an object by bucket and name.
type Location struct {
	Bucket string
	Object string
}

// String renders the location as a gs:// URI.
func (l Location) String() string {
	return fmt.Sprintf("gs://%s/%s", l.Bucket, l.Object)
}

// IsURI reports whether path uses the gs:// scheme.
func IsURI(path string) bool {
	return strings.HasPrefix(path, "gs://")
}

// ParseURI splits gs://bucket/object into its parts.
func ParseURI(uri string) (Location, error) {
	if !IsURI(uri) {
		return Location{}, fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, object, ok := strings.Cut(strings.TrimPrefix(uri, "gs://"), "/")
	if !ok || bucket == "" || strings.TrimSpace(object) == "" {
		return Location{}, fmt.Errorf("gs uri %q must name a bucket and an object", uri)
	}
	return Location{Bucket: bucket, Object: object}, nil
}

// Sink writes lines into a single GCS object. The object is committed when
// Close returns; lines written before a failed Close are lost.
type Sink struct {
	mu       sync.Mutex
	writer   io.WriteCloser
	location Location
	closed   bool
}

// New opens a writer on the object named by uri. The upload is detached from
// ctx cancellation: a poll ended by a signal still commits the object on Close.
func New(ctx context.Context, client *storage.Client, uri string) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	w := client.Bucket(loc.Bucket).Object(loc.Object).NewWriter(context.WithoutCancel(ctx))
	w.ContentType = contentType
	return NewWithWriter(w, loc), nil
}

// NewWithWriter wraps an existing object writer (primarily for testing).
func NewWithWriter(w io.WriteCloser, loc Location) *Sink {
	return &Sink{writer: w, location: loc}
}

// Location returns the target object.
func (s *Sink) Location() Location {
	return s.location
}

// WriteLine appends line and a newline to the object.
func (s *Sink) WriteLine(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("write object %s: sink closed", s.location)
	}
	if _, err := io.WriteString(s.writer, line+"\n"); err != nil {
		return fmt.Errorf("write object %s: %w", s.location, err)
	}
	return nil
}

// Close finalizes the upload.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("close object %s: %w", s.location, err)
	}
	return nil
}
