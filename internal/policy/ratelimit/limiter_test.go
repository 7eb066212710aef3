package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitSpacesRequests(t *testing.T) {
	t.Parallel()

	// 600 per minute is one token every 100ms.
	l := New(Config{RequestsPerMinute: 600, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://web.archive.org/save/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://web.archive.org/save/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerMinute: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://web.archive.org/save/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://archive.org/wayback/available"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://web.archive.org/"))
	}
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerMinute: 1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://web.archive.org/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://web.archive.org/"))
}
