package recordstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*StoredRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, rec *StoredRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Index != len(s.records) {
		return fmt.Errorf("%w: index %d, length %d", ErrConflict, rec.Index, len(s.records))
	}
	s.records = append(s.records, rec.clone())
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, index int) (*StoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.records) {
		return nil, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	return s.records[index].clone(), nil
}

// Len implements Store.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Head implements Store.
func (s *MemoryStore) Head(_ context.Context) (*StoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return nil, nil
	}
	return s.records[len(s.records)-1].clone(), nil
}

// Scan implements Store. fn sees a snapshot taken when Scan starts.
func (s *MemoryStore) Scan(ctx context.Context, fn func(*StoredRecord) error) error {
	s.mu.RLock()
	snapshot := make([]*StoredRecord, len(s.records))
	copy(snapshot, s.records)
	s.mu.RUnlock()

	for _, rec := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec.clone()); err != nil {
			return err
		}
	}
	return nil
}
