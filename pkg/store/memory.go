package store

import (
	"context"
	"sync"
	"time"

	"github.com/NicolasHaas/chatrelay/pkg/model"
)

// MemoryStore provides an in-memory Transcript for tests.
// It mirrors SQLite behavior for validation and ordering.
type MemoryStore struct {
	mu      sync.RWMutex
	now     func() time.Time
	nextID  int64
	entries []model.Entry
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{now: now, nextID: 1}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// Record appends an entry and assigns its ID.
func (s *MemoryStore) Record(_ context.Context, e *model.Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	e.ID = s.nextID
	s.nextID++
	s.entries = append(s.entries, *e)
	return nil
}

// List returns entries oldest first.
func (s *MemoryStore) List(_ context.Context, filter model.EntryFilter) ([]model.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := int64(DefaultListLimit)
	if filter.Limit != nil {
		limit = *filter.Limit
	}
	var offset int64
	if filter.Offset != nil {
		offset = *filter.Offset
	}

	var result []model.Entry
	var skipped int64
	for _, e := range s.entries {
		if filter.Nickname != nil && e.Nickname != *filter.Nickname {
			continue
		}
		if filter.Kind != nil && e.Kind != *filter.Kind {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit >= 0 && int64(len(result)) >= limit {
			break
		}
		result = append(result, e)
	}
	return result, nil
}
