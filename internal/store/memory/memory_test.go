package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/loopy/internal/timeline"
)

var (
	_ timeline.Counter     = (*FrequencyStore)(nil)
	_ timeline.TopReader   = (*FrequencyStore)(nil)
	_ timeline.CursorStore = (*CursorStore)(nil)
)

func TestFrequencyStoreIncrementAndTop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewFrequencyStore()
	for _, key := range []string{"b", "a", "c", "a", "b", "a"} {
		_, err := store.Increment(ctx, key)
		require.NoError(t, err)
	}

	count, err := store.Increment(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	top, err := store.Top(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []timeline.URLCount{{Key: "a", Count: 3}, {Key: "b", Count: 2}}, top)

	all, err := store.Top(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "c", all[2].Key)
}

func TestFrequencyStoreConcurrentIncrements(t *testing.T) {
	t.Parallel()

	const workers, perWorker = 8, 250
	store := NewFrequencyStore()
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, _ = store.Increment(context.Background(), "http://example.com/")
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(workers*perWorker), store.Count("http://example.com/"))
}

func TestCursorStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCursorStore("5")
	got, err := store.LoadSinceID(ctx)
	require.NoError(t, err)
	require.Equal(t, "5", got)

	require.NoError(t, store.SaveSinceID(ctx, "9"))
	got, err = store.LoadSinceID(ctx)
	require.NoError(t, err)
	require.Equal(t, "9", got)
}
