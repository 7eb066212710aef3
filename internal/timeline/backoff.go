package timeline

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

const (
	// InitialBackoffExponent makes the first idle sleep roughly 15 seconds.
	InitialBackoffExponent = 3.9068905956085187
	// MaxBackoff caps a single idle sleep.
	MaxBackoff = 900 * time.Second
)

// Backoff computes idle sleeps of min(2^exponent + U[0,1) seconds, MaxBackoff).
// The exponent grows by one per sleep and is never capped itself.
type Backoff struct {
	initial  float64
	exponent float64
	maxDelay time.Duration
	jitter   func() float64
}

// NewBackoff returns a Backoff starting at InitialBackoffExponent.
func NewBackoff() *Backoff {
	return &Backoff{
		initial:  InitialBackoffExponent,
		exponent: InitialBackoffExponent,
		maxDelay: MaxBackoff,
		jitter:   RandomUnit,
	}
}

// Next returns the next sleep duration and advances the exponent.
func (b *Backoff) Next() time.Duration {
	seconds := math.Pow(2, b.exponent) + b.jitter()
	b.exponent++
	if seconds >= b.maxDelay.Seconds() || math.IsInf(seconds, 1) {
		return b.maxDelay
	}
	return time.Duration(seconds * float64(time.Second))
}

// Exponent returns the exponent the next sleep will use.
func (b *Backoff) Exponent() float64 {
	return b.exponent
}

// Reset restores the initial exponent.
func (b *Backoff) Reset() {
	b.exponent = b.initial
}

// RandomUnit returns a uniform value in [0, 1) from crypto/rand.
func RandomUnit() float64 {
	const precision = 1 << 53
	n, err := rand.Int(rand.Reader, big.NewInt(precision))
	if err != nil {
		return 0.5
	}
	return float64(n.Int64()) / precision
}
