// Package model defines the core domain types shared across the hedging
// engine. All monetary values and quantities use shopspring/decimal —
// never float64 for money. Option sensitivities (delta and friends) are
// float64, since they are dimensionless model outputs, not money.
package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidRecord is returned when a hedge record is constructed
	// from non-finite or non-positive inputs.
	ErrInvalidRecord = errors.New("model: invalid hedge record")

	// ErrInvalidPosition is returned when a position snapshot is missing
	// required fields or carries unusable values.
	ErrInvalidPosition = errors.New("model: invalid position snapshot")
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	OptionCall OptionType = "CALL"
	OptionPut  OptionType = "PUT"
)

// ParseOptionType resolves a raw broker string to an OptionType. Broker
// instrument types embed the word PUT or CALL somewhere in a longer
// string; anything that does not mention PUT resolves to CALL, and ok
// reports whether the input was unambiguous.
func ParseOptionType(raw string) (t OptionType, ok bool) {
	upper := strings.ToUpper(raw)
	switch {
	case strings.Contains(upper, "PUT"):
		return OptionPut, true
	case strings.Contains(upper, "CALL"):
		return OptionCall, true
	default:
		return OptionCall, false
	}
}

// Direction is the side of a position or order.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Opposite returns the closing direction for a position opened this way.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// OrderKind is the execution style of an order.
type OrderKind string

const (
	OrderMarket OrderKind = "MARKET"
	OrderLimit  OrderKind = "LIMIT"
)

// Quote is a point-in-time market data snapshot for one instrument.
type Quote struct {
	Epic       string          `json:"epic"`
	Bid        decimal.Decimal `json:"bid"`
	Offer      decimal.Decimal `json:"offer"`
	Price      decimal.Decimal `json:"price"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Volatility float64         `json:"volatility"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Mid returns the bid/offer midpoint, falling back to the single Price
// field for data sources that do not publish a two-sided quote.
func (q *Quote) Mid() decimal.Decimal {
	if q.Bid.IsPositive() && q.Offer.IsPositive() {
		return q.Bid.Add(q.Offer).Div(decimal.NewFromInt(2))
	}
	return q.Price
}

// HedgeRecord is an immutable record of one executed hedge adjustment.
// Once created, these are never modified or deleted; each belongs to
// exactly one Position's history.
type HedgeRecord struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Delta     float64         `json:"delta"`
	HedgeSize decimal.Decimal `json:"hedge_size"`
	Price     decimal.Decimal `json:"price"`
	PnL       decimal.Decimal `json:"pnl"`
}

// NewHedgeRecord builds a hedge record stamped with the current time.
// Delta must be finite and price must be positive.
func NewHedgeRecord(delta float64, hedgeSize, price, pnl decimal.Decimal) (*HedgeRecord, error) {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return nil, fmt.Errorf("%w: delta %v is not finite", ErrInvalidRecord, delta)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive, got %s", ErrInvalidRecord, price)
	}
	return &HedgeRecord{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Delta:     delta,
		HedgeSize: hedgeSize,
		Price:     price,
		PnL:       pnl,
	}, nil
}
