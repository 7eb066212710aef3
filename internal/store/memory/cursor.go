package memory

import (
	"context"
	"sync"
)

// CursorStore keeps the since_id for the lifetime of the process.
type CursorStore struct {
	mu      sync.Mutex
	sinceID string
}

// NewCursorStore constructs a CursorStore seeded with sinceID.
func NewCursorStore(sinceID string) *CursorStore {
	return &CursorStore{sinceID: sinceID}
}

// LoadSinceID returns the stored value, or "" when none was saved.
func (s *CursorStore) LoadSinceID(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinceID, nil
}

// SaveSinceID replaces the stored value.
func (s *CursorStore) SaveSinceID(_ context.Context, sinceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinceID = sinceID
	return nil
}
