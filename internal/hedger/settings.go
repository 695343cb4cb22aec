package hedger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidSettings is returned when a settings update fails
// validation. The previous settings are retained in full.
var ErrInvalidSettings = errors.New("hedger: invalid settings")

// Settings is the engine's tunable configuration. Updates replace the
// whole struct atomically; there is no partial application.
type Settings struct {
	MinHedgeSize   decimal.Decimal `json:"min_hedge_size"`
	MaxHedgeSize   decimal.Decimal `json:"max_hedge_size"`
	HedgeInterval  time.Duration   `json:"hedge_interval"`
	DeltaThreshold float64         `json:"delta_threshold"`
}

// DefaultSettings are the stock engine settings.
func DefaultSettings() Settings {
	return Settings{
		MinHedgeSize:   decimal.NewFromFloat(0.01),
		MaxHedgeSize:   decimal.NewFromFloat(100.0),
		HedgeInterval:  60 * time.Second,
		DeltaThreshold: 0.05,
	}
}

// Validate checks the settings as a unit.
func (s Settings) Validate() error {
	if !s.MinHedgeSize.IsPositive() {
		return fmt.Errorf("%w: min_hedge_size must be positive", ErrInvalidSettings)
	}
	if s.MaxHedgeSize.LessThanOrEqual(s.MinHedgeSize) {
		return fmt.Errorf("%w: max_hedge_size must be greater than min_hedge_size", ErrInvalidSettings)
	}
	if s.HedgeInterval <= 0 {
		return fmt.Errorf("%w: hedge_interval must be positive", ErrInvalidSettings)
	}
	if s.DeltaThreshold <= 0 {
		return fmt.Errorf("%w: delta_threshold must be positive", ErrInvalidSettings)
	}
	return nil
}
