package store

import (
	"context"
	"sync"

	"github.com/kneeraazon404/delta-hedging-platform/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]model.Snapshot
	records   map[string][]model.HedgeRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]model.Snapshot),
		records:   make(map[string][]model.HedgeRecord),
	}
}

func (s *MemoryStore) SavePosition(_ context.Context, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.positions[snap.DealID] = *snap
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, dealID string) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.positions[dealID]
	if !ok {
		return nil, ErrNotFound
	}
	return &snap, nil
}

func (s *MemoryStore) ListPositions(_ context.Context) ([]model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := make([]model.Snapshot, 0, len(s.positions))
	for _, snap := range s.positions {
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func (s *MemoryStore) InsertHedgeRecord(_ context.Context, dealID string, rec *model.HedgeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[dealID] = append(s.records[dealID], *rec)
	return nil
}

func (s *MemoryStore) HedgeHistory(_ context.Context, dealID string) ([]model.HedgeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.records[dealID]
	out := make([]model.HedgeRecord, len(recs))
	copy(out, recs)
	return out, nil
}
