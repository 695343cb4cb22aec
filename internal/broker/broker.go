// Package broker defines the external collaborator boundary: market
// data, trade execution, and broker position snapshots. The decision
// engine consumes these narrow interfaces and never sees transport,
// auth, or account details.
package broker

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/kneeraazon404/delta-hedging-platform/internal/model"
)

var (
	// ErrMarketDataUnavailable is returned when no quote can be supplied
	// for an instrument, including by fallback.
	ErrMarketDataUnavailable = errors.New("broker: market data unavailable")

	// ErrExecutionFailed is returned when the venue rejects or fails an
	// order for any reason other than a timeout.
	ErrExecutionFailed = errors.New("broker: order execution failed")

	// ErrExecutionTimeout is returned when an order did not complete
	// within the caller's deadline.
	ErrExecutionTimeout = errors.New("broker: order execution timed out")

	// ErrMarketOrderRejected is returned when the venue does not accept
	// market orders for the instrument. Callers may retry as LIMIT.
	ErrMarketOrderRejected = errors.New("broker: market orders rejected for instrument")

	// ErrNotFound is returned when a referenced deal does not exist.
	ErrNotFound = errors.New("broker: deal not found")
)

// OrderRequest describes one order to open against the venue.
type OrderRequest struct {
	Epic      string
	Direction model.Direction
	Size      decimal.Decimal
	Kind      model.OrderKind

	// Level is the reference price used when Kind is LIMIT, and as the
	// fallback limit level if a MARKET order is rejected by the venue.
	Level decimal.Decimal

	// Expiry is the broker-formatted expiry, model.NoExpiry for rolling
	// instruments.
	Expiry   string
	Currency string
}

// MarketData supplies current quotes for an instrument.
type MarketData interface {
	GetQuote(ctx context.Context, epic string) (*model.Quote, error)
}

// TradeExecutor places and closes orders. Implementations that trade
// against a designated hedge account handle the account switch
// internally.
type TradeExecutor interface {
	OpenPosition(ctx context.Context, req OrderRequest) (dealID string, err error)
	ClosePosition(ctx context.Context, dealID string, direction model.Direction) error
}

// PositionSource lists the open positions the broker knows about, as
// flat snapshots ready for the engine's cache.
type PositionSource interface {
	ListOpenPositions(ctx context.Context) ([]model.Snapshot, error)
}
