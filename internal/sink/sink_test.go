package sink

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterFlushesEachLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteLine(context.Background(), `{"id_str":"1","text":"café"}`))
	require.Equal(t, "{\"id_str\":\"1\",\"text\":\"café\"}\n", buf.String(), "line must be visible before Close")

	require.NoError(t, w.WriteLine(context.Background(), "42"))
	require.Equal(t, "{\"id_str\":\"1\",\"text\":\"café\"}\n42\n", buf.String())

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.Error(t, w.WriteLine(context.Background(), "late"))
}

func TestWriterHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, w.WriteLine(ctx, "x"), context.Canceled)
	require.Zero(t, buf.Len())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriterSurfacesWriteErrors(t *testing.T) {
	t.Parallel()

	w := NewWriter(failingWriter{})
	require.ErrorContains(t, w.WriteLine(context.Background(), "x"), "disk full")
}

func TestOpenFileAppendAndTruncate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "out.jsonl")

	w, err := OpenFile(path, false)
	require.NoError(t, err)
	require.NoError(t, w.WriteLine(context.Background(), "a"))
	require.NoError(t, w.Close())

	w, err = OpenFile(path, true)
	require.NoError(t, err)
	require.NoError(t, w.WriteLine(context.Background(), "b"))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "a\nb\n", string(data))

	w, err = OpenFile(path, false)
	require.NoError(t, err)
	require.NoError(t, w.WriteLine(context.Background(), "c"))
	require.NoError(t, w.Close())

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "c\n", string(data))

	_, err = OpenFile("  ", true)
	require.Error(t, err)
}
