// Package memory provides in-process implementations of the aggregator and
// cursor stores, used for single-process runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/loopy/internal/timeline"
)

// FrequencyStore counts normalized URLs in a mutex-guarded map.
type FrequencyStore struct {
	mu     sync.RWMutex
	counts map[string]int64
}

// NewFrequencyStore constructs an empty FrequencyStore.
func NewFrequencyStore() *FrequencyStore {
	return &FrequencyStore{counts: make(map[string]int64)}
}

// Increment adds one to key and returns the new count.
func (s *FrequencyStore) Increment(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return s.counts[key], nil
}

// Count returns the current count for key.
func (s *FrequencyStore) Count(key string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[key]
}

// Top returns up to n entries ordered by count descending, ties by key.
// n <= 0 returns every entry.
func (s *FrequencyStore) Top(_ context.Context, n int) ([]timeline.URLCount, error) {
	s.mu.RLock()
	out := make([]timeline.URLCount, 0, len(s.counts))
	for key, count := range s.counts {
		out = append(out, timeline.URLCount{Key: key, Count: count})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Close is a no-op.
func (s *FrequencyStore) Close() error {
	return nil
}
