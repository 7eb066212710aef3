package timeline

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffInitialDelayIsAboutFifteenSeconds(t *testing.T) {
	t.Parallel()

	b := NewBackoff()
	b.jitter = func() float64 { return 0 }
	d := b.Next()
	require.InDelta(t, 15.0, d.Seconds(), 0.001)
	require.InDelta(t, InitialBackoffExponent+1, b.Exponent(), 1e-9)
}

func TestBackoffNonDecreasingAndCapped(t *testing.T) {
	t.Parallel()

	b := NewBackoff()
	var prev time.Duration
	for i := 0; i < 3; i++ {
		d := b.Next()
		require.GreaterOrEqual(t, d, prev)
		require.LessOrEqual(t, d, MaxBackoff)
		prev = d
	}

	for i := 0; i < 100; i++ {
		require.LessOrEqual(t, b.Next(), MaxBackoff)
	}
	require.Equal(t, MaxBackoff, b.Next())
	require.Greater(t, b.Exponent(), 100.0, "exponent itself is unbounded")
}

func TestBackoffJitterWithinOneSecond(t *testing.T) {
	t.Parallel()

	b := NewBackoff()
	base := math.Pow(2, b.Exponent())
	d := b.Next().Seconds()
	require.GreaterOrEqual(t, d, base-1e-6)
	require.Less(t, d, base+1)
}

func TestBackoffReset(t *testing.T) {
	t.Parallel()

	b := NewBackoff()
	b.Next()
	b.Next()
	b.Reset()
	require.Equal(t, InitialBackoffExponent, b.Exponent())
}

func TestRandomUnitRange(t *testing.T) {
	t.Parallel()

	for i := 0; i < 1000; i++ {
		v := RandomUnit()
		require.GreaterOrEqual(t, v, 0.0)
		require.Less(t, v, 1.0)
	}
}
