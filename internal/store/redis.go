package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kneeraazon404/delta-hedging-platform/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh or invalidate the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh or invalidate cache) ---

func (s *CachedStore) SavePosition(ctx context.Context, snap *model.Snapshot) error {
	if err := s.primary.SavePosition(ctx, snap); err != nil {
		return err
	}
	s.cachePosition(ctx, snap)
	return nil
}

func (s *CachedStore) InsertHedgeRecord(ctx context.Context, dealID string, rec *model.HedgeRecord) error {
	if err := s.primary.InsertHedgeRecord(ctx, dealID, rec); err != nil {
		return err
	}
	// Invalidate history; next read will re-populate.
	s.rdb.Del(ctx, historyKey(dealID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPosition(ctx context.Context, dealID string) (*model.Snapshot, error) {
	data, err := s.rdb.Get(ctx, positionKey(dealID)).Bytes()
	if err == nil {
		var snap model.Snapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	snap, err := s.primary.GetPosition(ctx, dealID)
	if err != nil {
		return nil, err
	}
	s.cachePosition(ctx, snap)
	return snap, nil
}

func (s *CachedStore) HedgeHistory(ctx context.Context, dealID string) ([]model.HedgeRecord, error) {
	data, err := s.rdb.Get(ctx, historyKey(dealID)).Bytes()
	if err == nil {
		var records []model.HedgeRecord
		if json.Unmarshal(data, &records) == nil {
			return records, nil
		}
	}

	records, err := s.primary.HedgeHistory(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(records); err == nil {
		s.rdb.Set(ctx, historyKey(dealID), data, s.ttl)
	}
	return records, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPositions(ctx context.Context) ([]model.Snapshot, error) {
	return s.primary.ListPositions(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cachePosition(ctx context.Context, snap *model.Snapshot) {
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, positionKey(snap.DealID), data, s.ttl)
	}
}

func positionKey(dealID string) string { return fmt.Sprintf("position:%s", dealID) }
func historyKey(dealID string) string  { return fmt.Sprintf("hedges:%s", dealID) }
