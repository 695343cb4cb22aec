// Package risk enforces hedge exposure limits across positions.
//
// A book of short options on the same index accumulates hedge exposure
// on one underlying. This package groups hedge exposure by underlying
// symbol and enforces per-underlying and gross limits before any hedge
// order reaches the broker.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/kneeraazon404/delta-hedging-platform/internal/instrument"
)

var (
	// ErrUnderlyingLimitExceeded is returned when a hedge would push the
	// aggregate exposure on a single underlying beyond the per-underlying
	// maximum.
	ErrUnderlyingLimitExceeded = errors.New("risk: per-underlying hedge exposure limit exceeded")

	// ErrGrossLimitExceeded is returned when a hedge would push the gross
	// exposure across all underlyings beyond the gross maximum.
	ErrGrossLimitExceeded = errors.New("risk: gross hedge exposure limit exceeded")
)

// ExposureLimiter enforces hedge exposure limits.
//
// Exposure is measured in underlying units (hedge size × contract size),
// always as an absolute quantity: a long hedge and a short hedge on the
// same underlying both consume limit. Grouping uses the underlying
// segment of the instrument name, so SPX-19DEC25-5500-C and
// SPX-16JAN26-5600-P share one bucket.
type ExposureLimiter struct {
	// MaxPerUnderlying is the maximum aggregate absolute hedge exposure
	// on any single underlying.
	MaxPerUnderlying decimal.Decimal

	// MaxGross is the maximum aggregate absolute hedge exposure across
	// all underlyings.
	MaxGross decimal.Decimal
}

// NewExposureLimiter creates a limiter with the given per-underlying and
// gross exposure limits.
func NewExposureLimiter(maxPerUnderlying, maxGross decimal.Decimal) *ExposureLimiter {
	return &ExposureLimiter{
		MaxPerUnderlying: maxPerUnderlying,
		MaxGross:         maxGross,
	}
}

// CheckLimit validates whether adding exposure respects the limits.
//
//   - targetEpic: instrument whose hedge is being adjusted
//   - exposureDelta: change in absolute exposure (negative when a hedge
//     is being reduced or closed)
//   - existingExposures: map of epic → current absolute hedge exposure
//
// Returns nil if the adjustment is within limits. Nothing mutates on
// rejection.
func (l *ExposureLimiter) CheckLimit(
	targetEpic string,
	exposureDelta decimal.Decimal,
	existingExposures map[string]decimal.Decimal,
) error {
	targetGroup := instrument.Underlying(targetEpic)

	newInTarget := existingExposures[targetEpic].Add(exposureDelta)
	if newInTarget.IsNegative() {
		newInTarget = decimal.Zero
	}

	perUnderlying := newInTarget
	gross := newInTarget
	for epic, exposure := range existingExposures {
		if epic == targetEpic {
			continue // already counted via newInTarget
		}
		gross = gross.Add(exposure.Abs())
		if instrument.Underlying(epic) == targetGroup {
			perUnderlying = perUnderlying.Add(exposure.Abs())
		}
	}

	if perUnderlying.GreaterThan(l.MaxPerUnderlying) {
		return ErrUnderlyingLimitExceeded
	}
	if gross.GreaterThan(l.MaxGross) {
		return ErrGrossLimitExceeded
	}
	return nil
}
