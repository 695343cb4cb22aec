// Package store defines audit persistence for positions and hedge
// history. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
//
// The engine's in-memory cache stays authoritative: store writes are
// best-effort audit trail, and a store failure never fails a hedge.
package store

import (
	"context"
	"errors"

	"github.com/kneeraazon404/delta-hedging-platform/internal/model"
)

// ErrNotFound is returned when the referenced position has never been
// saved.
var ErrNotFound = errors.New("store: position not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// SavePosition upserts the position snapshot keyed by deal id.
	SavePosition(ctx context.Context, snap *model.Snapshot) error

	// GetPosition retrieves a position snapshot by deal id.
	GetPosition(ctx context.Context, dealID string) (*model.Snapshot, error)

	// ListPositions returns all persisted position snapshots.
	ListPositions(ctx context.Context) ([]model.Snapshot, error)

	// InsertHedgeRecord appends an immutable hedge record for a deal.
	InsertHedgeRecord(ctx context.Context, dealID string, rec *model.HedgeRecord) error

	// HedgeHistory returns a deal's hedge records in chronological order.
	HedgeHistory(ctx context.Context, dealID string) ([]model.HedgeRecord, error)
}
