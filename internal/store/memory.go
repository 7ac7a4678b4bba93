package store

import (
	"context"
	"sync"
	"time"

	"verify-service/internal/model"
)

// MemoryStore is a mutex-guarded in-process store, used in tests and for
// single-instance local runs. It implements Sweeper since nothing else
// reclaims its expired entries.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*model.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*model.Record),
	}
}

func (s *MemoryStore) Put(ctx context.Context, principal string, rec *model.Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.records[principal] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, principal string) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[principal]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, principal)
	return nil
}

func (s *MemoryStore) IncrementAttempts(ctx context.Context, principal string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[principal]
	if !ok {
		// Increment racing a delete is a no-op, not an error.
		return 0, nil
	}
	rec.Attempts++
	return rec.Attempts, nil
}

func (s *MemoryStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for principal, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, principal)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of live records; used by tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
