// Package sink writes emitted timeline records, one JSON document or
// identifier per line.
package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Writer is a line sink over any io.Writer. Every line is flushed before
// WriteLine returns, so a crash never leaves a record half-buffered.
type Writer struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	closer io.Closer
	closed bool
}

// NewWriter wraps w. Close flushes but does not close w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{buf: bufio.NewWriter(w)}
}

// Stdout returns a Writer on standard output.
func Stdout() *Writer {
	return NewWriter(os.Stdout)
}

// OpenFile opens path for writing, appending when appendMode is set and
// truncating otherwise. Parent directories are created as needed.
func OpenFile(path string, appendMode bool) (*Writer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	// #nosec G304 -- the output path is operator configuration.
	f, err := os.OpenFile(path, flags, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	w := NewWriter(f)
	w.closer = f
	return w, nil
}

// WriteLine writes line followed by a newline and flushes.
func (w *Writer) WriteLine(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("write line: sink closed")
	}
	if _, err := w.buf.WriteString(line); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush line: %w", err)
	}
	return nil
}

// Close flushes buffered data and closes the underlying file, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	if w.closer != nil {
		if err := w.closer.Close(); err != nil {
			return fmt.Errorf("close output: %w", err)
		}
	}
	return nil
}
