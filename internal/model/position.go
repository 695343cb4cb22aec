package model

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kneeraazon404/delta-hedging-platform/internal/instrument"
)

// brokerExpiryFormat is the date layout the broker uses for option
// expiries, e.g. "19-Dec-25". The sentinel "-" means no expiry.
const brokerExpiryFormat = "02-Jan-06"

// NoExpiry is the broker's sentinel for instruments without an expiry.
const NoExpiry = "-"

// defaultTenorYears is assumed when a position carries no usable expiry
// information (roughly three months).
const defaultTenorYears = 0.25

// minTenorYears is the floor applied to time-to-expiry before it is fed
// into pricing, to keep the Black-Scholes terms away from division by
// zero.
const minTenorYears = 0.001

// Position is the mutable aggregate for one option position and its
// accumulated hedge state. It holds no references to external services;
// the decision engine owns the canonical instances and serializes
// mutation per position.
type Position struct {
	DealID         string
	Epic           string
	UnderlyingEpic string

	Strike       decimal.Decimal
	OptionType   OptionType
	Direction    Direction
	ContractSize decimal.Decimal
	Size         decimal.Decimal
	Level        decimal.Decimal
	Premium      decimal.Decimal
	Currency     string
	MarketName   string

	// ExpiresAt is zero for perpetual positions (broker expiry "-").
	ExpiresAt    time.Time
	Expiry       string // broker-formatted, retained for projections
	CreatedAt    time.Time
	TimeToExpiry float64 // years, refreshed by the engine, floor-clamped

	HedgeSize           decimal.Decimal
	HedgeDealID         string
	HedgeDirection      Direction
	LastHedgePrice      decimal.Decimal
	LastHedgeTime       time.Time
	PnLThresholdCrossed bool
	HedgeHistory        []HedgeRecord

	IsActive   bool
	LastQuote  *Quote
	LastUpdate time.Time
}

// Snapshot is the flat transport projection of a Position, used for API
// responses, audit persistence, and position construction. Projecting a
// Position and re-constructing from the snapshot preserves its economic
// state.
type Snapshot struct {
	DealID              string          `json:"deal_id"`
	Epic                string          `json:"epic"`
	UnderlyingEpic      string          `json:"underlying_epic,omitempty"`
	Strike              decimal.Decimal `json:"strike"`
	OptionType          string          `json:"option_type"`
	Direction           string          `json:"direction"`
	ContractSize        decimal.Decimal `json:"contract_size"`
	Size                decimal.Decimal `json:"size"`
	Level               decimal.Decimal `json:"level"`
	Premium             decimal.Decimal `json:"premium"`
	Currency            string          `json:"currency,omitempty"`
	MarketName          string          `json:"market_name,omitempty"`
	Expiry              string          `json:"expiry,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	TimeToExpiry        float64         `json:"time_to_expiry"`
	HedgeSize           decimal.Decimal `json:"hedge_size"`
	HedgeDealID         string          `json:"hedge_deal_id,omitempty"`
	HedgeDirection      string          `json:"hedge_direction,omitempty"`
	LastHedgePrice      decimal.Decimal `json:"last_hedge_price"`
	LastHedgeTime       time.Time       `json:"last_hedge_time"`
	PnLThresholdCrossed bool            `json:"pnl_threshold_crossed"`
	TotalHedges         int             `json:"total_hedges"`
	IsActive            bool            `json:"is_active"`
	LastUpdate          time.Time       `json:"last_update"`
}

// NewPosition builds a validated Position from a flat snapshot, applying
// the defaulting rules for optional fields. The deal id may be empty for
// a locally created position; the engine assigns a synthetic id before
// caching. Epic and a resolvable strike are required.
func NewPosition(snap Snapshot) (*Position, error) {
	if snap.Epic == "" {
		return nil, fmt.Errorf("%w: epic is required", ErrInvalidPosition)
	}

	// Option terms may be embedded in the instrument name; parse once
	// and use as the fallback for anything the snapshot omits.
	parsed, _ := instrument.Parse(snap.Epic)

	strike := snap.Strike
	if !strike.IsPositive() && parsed != nil {
		strike = parsed.Strike
	}
	if !strike.IsPositive() && snap.Level.IsPositive() {
		strike = snap.Level
	}
	if !strike.IsPositive() {
		return nil, fmt.Errorf("%w: strike cannot be resolved for %s", ErrInvalidPosition, snap.Epic)
	}

	typeInput := snap.OptionType
	if typeInput == "" && parsed != nil {
		typeInput = parsed.Type
	}
	optType, ok := ParseOptionType(typeInput)
	if !ok {
		slog.Warn("ambiguous option type, defaulting to CALL",
			"epic", snap.Epic, "raw", snap.OptionType)
	}

	direction := Direction(snap.Direction)
	if direction == "" {
		direction = DirectionSell
	}
	if !direction.Valid() {
		return nil, fmt.Errorf("%w: direction %q", ErrInvalidPosition, snap.Direction)
	}

	contractSize := snap.ContractSize
	if !contractSize.IsPositive() {
		contractSize = decimal.NewFromInt(1)
	}

	premium := snap.Premium
	if premium.IsZero() {
		premium = snap.Level.Mul(snap.Size).Mul(contractSize)
	}

	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	expiry := snap.Expiry
	if expiry == "" && parsed != nil {
		expiry = parsed.Expiry.Format(brokerExpiryFormat)
	}

	p := &Position{
		DealID:              snap.DealID,
		Epic:                snap.Epic,
		UnderlyingEpic:      snap.UnderlyingEpic,
		Strike:              strike,
		OptionType:          optType,
		Direction:           direction,
		ContractSize:        contractSize,
		Size:                snap.Size,
		Level:               snap.Level,
		Premium:             premium,
		Currency:            snap.Currency,
		MarketName:          snap.MarketName,
		Expiry:              expiry,
		CreatedAt:           createdAt,
		HedgeSize:           snap.HedgeSize,
		HedgeDealID:         snap.HedgeDealID,
		HedgeDirection:      Direction(snap.HedgeDirection),
		LastHedgePrice:      snap.LastHedgePrice,
		LastHedgeTime:       snap.LastHedgeTime,
		PnLThresholdCrossed: snap.PnLThresholdCrossed,
		IsActive:            true,
	}

	p.ExpiresAt = resolveExpiry(expiry, snap.TimeToExpiry, createdAt)
	p.TimeToExpiry = clampTenor(p.RemainingYears(time.Now().UTC()))

	return p, nil
}

// resolveExpiry turns the broker expiry string and/or an explicit tenor
// into an absolute expiry instant. A zero return means perpetual.
func resolveExpiry(expiry string, tenorYears float64, createdAt time.Time) time.Time {
	if expiry != "" && expiry != NoExpiry {
		if t, err := time.Parse(brokerExpiryFormat, expiry); err == nil {
			return t
		}
		slog.Warn("unparseable expiry, falling back to tenor", "expiry", expiry)
	}
	if tenorYears > 0 {
		return createdAt.Add(yearsToDuration(tenorYears))
	}
	return time.Time{}
}

// RemainingYears returns the unclamped time to expiry in year units.
// Negative or zero means the position has expired. Perpetual positions
// report the default tenor.
func (p *Position) RemainingYears(now time.Time) float64 {
	if p.ExpiresAt.IsZero() {
		return defaultTenorYears
	}
	return p.ExpiresAt.Sub(now).Hours() / 24 / 365
}

// RefreshTenor recomputes TimeToExpiry and flips the position inactive
// once expiry has passed. Returns true if the position just expired.
func (p *Position) RefreshTenor(now time.Time) bool {
	remaining := p.RemainingYears(now)
	if remaining <= 0 {
		p.TimeToExpiry = 0
		if p.IsActive {
			p.IsActive = false
			return true
		}
		return false
	}
	p.TimeToExpiry = clampTenor(remaining)
	return false
}

// IntrinsicValue is the in-the-money value of the option at the given
// underlying price, ignoring time value.
func (p *Position) IntrinsicValue(currentPrice decimal.Decimal) decimal.Decimal {
	var v decimal.Decimal
	if p.OptionType == OptionCall {
		v = currentPrice.Sub(p.Strike)
	} else {
		v = p.Strike.Sub(currentPrice)
	}
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// NeedsHedge implements the PnL hysteresis band around -|premium|.
// It reports true either to initiate a hedge (losses have eaten the
// premium and no hedge is flagged) or to signal removal of an existing
// hedge (PnL recovered above the threshold while a hedge is flagged).
// Only active short positions hedge.
func (p *Position) NeedsHedge(currentPnL decimal.Decimal) bool {
	if !p.IsActive || p.Direction != DirectionSell {
		return false
	}
	threshold := p.Premium.Abs().Neg()
	if p.PnLThresholdCrossed {
		return currentPnL.GreaterThan(threshold)
	}
	return currentPnL.LessThanOrEqual(threshold)
}

// AddHedgeRecord appends an immutable record of an executed hedge
// adjustment and rolls the live hedge state forward to match it.
func (p *Position) AddHedgeRecord(delta float64, hedgeSize, price, pnl decimal.Decimal) error {
	rec, err := NewHedgeRecord(delta, hedgeSize, price, pnl)
	if err != nil {
		return err
	}
	p.HedgeHistory = append(p.HedgeHistory, *rec)
	p.LastHedgeTime = rec.Timestamp
	p.LastHedgePrice = price
	p.HedgeSize = hedgeSize
	return nil
}

// UpdateHedge records the broker-confirmed hedge trade identity and arms
// the hysteresis flag. Record keeping happens separately through
// AddHedgeRecord so a single logical trigger yields exactly one record.
func (p *Position) UpdateHedge(dealID string, size, price decimal.Decimal, dir Direction) {
	p.HedgeDealID = dealID
	p.HedgeSize = size
	p.LastHedgePrice = price
	p.HedgeDirection = dir
	p.LastHedgeTime = time.Now().UTC()
	p.PnLThresholdCrossed = true
}

// ClearHedge resets the live hedge state after the hedge deal has been
// closed out. History is retained.
func (p *Position) ClearHedge() {
	p.HedgeDealID = ""
	p.HedgeSize = decimal.Zero
	p.HedgeDirection = ""
	p.PnLThresholdCrossed = false
}

// UpdateQuote stores the latest market data snapshot for the position's
// instrument.
func (p *Position) UpdateQuote(q *Quote) {
	p.LastQuote = q
	p.LastUpdate = time.Now().UTC()
}

// HasOpenHedge reports whether a hedge deal is currently on.
func (p *Position) HasOpenHedge() bool {
	return !p.HedgeSize.IsZero()
}

// Snapshot produces the flat projection of the position. Pure; no side
// effects.
func (p *Position) Snapshot() Snapshot {
	return Snapshot{
		DealID:              p.DealID,
		Epic:                p.Epic,
		UnderlyingEpic:      p.UnderlyingEpic,
		Strike:              p.Strike,
		OptionType:          string(p.OptionType),
		Direction:           string(p.Direction),
		ContractSize:        p.ContractSize,
		Size:                p.Size,
		Level:               p.Level,
		Premium:             p.Premium,
		Currency:            p.Currency,
		MarketName:          p.MarketName,
		Expiry:              p.Expiry,
		CreatedAt:           p.CreatedAt,
		TimeToExpiry:        p.TimeToExpiry,
		HedgeSize:           p.HedgeSize,
		HedgeDealID:         p.HedgeDealID,
		HedgeDirection:      string(p.HedgeDirection),
		LastHedgePrice:      p.LastHedgePrice,
		LastHedgeTime:       p.LastHedgeTime,
		PnLThresholdCrossed: p.PnLThresholdCrossed,
		TotalHedges:         len(p.HedgeHistory),
		IsActive:            p.IsActive,
		LastUpdate:          p.LastUpdate,
	}
}

func clampTenor(years float64) float64 {
	if years < minTenorYears {
		return minTenorYears
	}
	return years
}

func yearsToDuration(years float64) time.Duration {
	return time.Duration(years * 365 * 24 * float64(time.Hour))
}
