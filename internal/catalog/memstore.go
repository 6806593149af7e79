package catalog

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store]. Text search
// is a case-insensitive match of every query word.
// The zero value is ready to use.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]Entry)}
}

// Save implements [Store.Save].
func (s *MemStore) Save(_ context.Context, e Entry) error {
	if e.RecordingID == "" {
		return ErrInvalidEntry
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = make(map[string]Entry)
	}
	s.entries[e.RecordingID] = e
	return nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Recent implements [Store.Recent].
func (s *MemStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.Search(ctx, Query{Limit: limit})
}

// Search implements [Store.Search].
func (s *MemStore) Search(_ context.Context, q Query) ([]Entry, error) {
	words := strings.Fields(strings.ToLower(q.Text))

	s.mu.RLock()
	result := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if matches(e, q, words) {
			result = append(result, e)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b Entry) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.RecordingID, b.RecordingID)
	})
	if n := limitOrDefault(q.Limit); len(result) > n {
		result = result[:n]
	}
	return result, nil
}

func matches(e Entry, q Query, words []string) bool {
	if q.Status != "" && e.Status != q.Status {
		return false
	}
	if !q.After.IsZero() && !e.StartedAt.After(q.After) {
		return false
	}
	if !q.Before.IsZero() && !e.StartedAt.Before(q.Before) {
		return false
	}
	text := strings.ToLower(e.Transcript)
	for _, w := range words {
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}
