// Package pricing implements Black-Scholes option pricing: greeks,
// theoretical value, implied volatility, and hedge sizing.
//
// All internal math is float64 (decimal is unsuited to exp/log/erf);
// callers convert at the boundary. Sizing helpers accept and return
// decimal so money never rides a float across package lines.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/kneeraazon404/delta-hedging-platform/internal/model"
)

var (
	// ErrInvalidInput is returned when pricing inputs are non-positive
	// or non-finite.
	ErrInvalidInput = errors.New("pricing: invalid input")

	// ErrNoConvergence is returned when the implied volatility solver
	// fails to converge within its iteration budget.
	ErrNoConvergence = errors.New("pricing: implied volatility did not converge")
)

// minTenor is the floor applied to time-to-expiry inside d1/d2. At or
// below this horizon the model switches to intrinsic-value behavior.
const minTenor = 1.0 / 365.0

const (
	ivInitialGuess = 0.30
	ivMaxIter      = 100
	ivTolerance    = 1e-6
	ivVegaFloor    = 1e-10
)

// Pricer evaluates Black-Scholes quantities under a fixed risk-free rate
// and volatility band. Construct once; safe for concurrent use.
type Pricer struct {
	rate   float64
	minVol float64
	maxVol float64
}

// Greeks holds the standard option sensitivities. Theta is per calendar
// day; vega and rho are per percentage point.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

// New returns a Pricer with the given risk-free rate and volatility
// clamp band.
func New(rate, minVol, maxVol float64) *Pricer {
	return &Pricer{rate: rate, minVol: minVol, maxVol: maxVol}
}

// Rate returns the configured risk-free rate.
func (p *Pricer) Rate() float64 { return p.rate }

// ValidateInputs rejects spot/strike/tenor/vol combinations the model
// cannot price.
func (p *Pricer) ValidateInputs(spot, strike, tenor, sigma float64) error {
	for _, v := range []float64{spot, strike, tenor, sigma} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidInput)
		}
	}
	if spot <= 0 {
		return fmt.Errorf("%w: spot %v must be positive", ErrInvalidInput, spot)
	}
	if strike <= 0 {
		return fmt.Errorf("%w: strike %v must be positive", ErrInvalidInput, strike)
	}
	if tenor < 0 {
		return fmt.Errorf("%w: tenor %v must be non-negative", ErrInvalidInput, tenor)
	}
	if sigma < 0 {
		return fmt.Errorf("%w: volatility %v must be non-negative", ErrInvalidInput, sigma)
	}
	return nil
}

// clampVol pins sigma inside the configured band.
func (p *Pricer) clampVol(sigma float64) float64 {
	return math.Min(math.Max(sigma, p.minVol), p.maxVol)
}

// d1d2 computes the Black-Scholes d1/d2 terms with the tenor floored and
// sigma clamped, so the terms stay finite near expiry.
func (p *Pricer) d1d2(spot, strike, tenor, sigma float64) (float64, float64) {
	t := math.Max(tenor, minTenor)
	s := p.clampVol(sigma)
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (p.rate+s*s/2)*t) / (s * sqrtT)
	return d1, d1 - s*sqrtT
}

// Delta returns the Black-Scholes delta: N(d1) for calls, N(d1)-1 for
// puts. At or inside one day to expiry the option is treated as settled
// intrinsic and delta collapses to {-1, 0, 1}.
func (p *Pricer) Delta(spot, strike, tenor, sigma float64, optType model.OptionType) (float64, error) {
	if err := p.ValidateInputs(spot, strike, tenor, sigma); err != nil {
		return 0, err
	}
	if tenor <= minTenor {
		return expiryDelta(spot, strike, optType), nil
	}
	d1, _ := p.d1d2(spot, strike, tenor, sigma)
	if optType == model.OptionPut {
		return normCDF(d1) - 1, nil
	}
	return normCDF(d1), nil
}

// expiryDelta is the settled-intrinsic delta used at expiry.
func expiryDelta(spot, strike float64, optType model.OptionType) float64 {
	if optType == model.OptionPut {
		if spot < strike {
			return -1
		}
		return 0
	}
	if spot > strike {
		return 1
	}
	return 0
}

// AllGreeks computes the full sensitivity set in one pass.
func (p *Pricer) AllGreeks(spot, strike, tenor, sigma float64, optType model.OptionType) (Greeks, error) {
	if err := p.ValidateInputs(spot, strike, tenor, sigma); err != nil {
		return Greeks{}, err
	}
	if tenor <= minTenor {
		return Greeks{Delta: expiryDelta(spot, strike, optType)}, nil
	}

	t := math.Max(tenor, minTenor)
	s := p.clampVol(sigma)
	sqrtT := math.Sqrt(t)
	d1, d2 := p.d1d2(spot, strike, tenor, sigma)
	pdf := normPDF(d1)
	discount := math.Exp(-p.rate * t)

	g := Greeks{
		Gamma: pdf / (spot * s * sqrtT),
		Vega:  spot * pdf * sqrtT / 100,
	}
	if optType == model.OptionPut {
		g.Delta = normCDF(d1) - 1
		g.Theta = (-spot*pdf*s/(2*sqrtT) + p.rate*strike*discount*normCDF(-d2)) / 365
		g.Rho = -strike * t * discount * normCDF(-d2) / 100
	} else {
		g.Delta = normCDF(d1)
		g.Theta = (-spot*pdf*s/(2*sqrtT) - p.rate*strike*discount*normCDF(d2)) / 365
		g.Rho = strike * t * discount * normCDF(d2) / 100
	}
	return g, nil
}

// Price returns the Black-Scholes theoretical value of the option.
func (p *Pricer) Price(spot, strike, tenor, sigma float64, optType model.OptionType) (float64, error) {
	if err := p.ValidateInputs(spot, strike, tenor, sigma); err != nil {
		return 0, err
	}
	if tenor <= minTenor {
		return intrinsic(spot, strike, optType), nil
	}
	t := tenor
	d1, d2 := p.d1d2(spot, strike, tenor, sigma)
	discount := math.Exp(-p.rate * t)
	if optType == model.OptionPut {
		return strike*discount*normCDF(-d2) - spot*normCDF(-d1), nil
	}
	return spot*normCDF(d1) - strike*discount*normCDF(d2), nil
}

func intrinsic(spot, strike float64, optType model.OptionType) float64 {
	if optType == model.OptionPut {
		return math.Max(strike-spot, 0)
	}
	return math.Max(spot-strike, 0)
}

// ImpliedVolatility solves for the volatility that reproduces the
// observed option price via Newton-Raphson. The iterate is re-clamped
// into the configured band each step; a vanishing vega nudges the guess
// instead of dividing by zero.
func (p *Pricer) ImpliedVolatility(observed, spot, strike, tenor float64, optType model.OptionType) (float64, error) {
	if err := p.ValidateInputs(spot, strike, tenor, ivInitialGuess); err != nil {
		return 0, err
	}
	if observed <= 0 {
		return 0, fmt.Errorf("%w: observed price %v must be positive", ErrInvalidInput, observed)
	}

	sigma := ivInitialGuess
	for i := 0; i < ivMaxIter; i++ {
		theo, err := p.Price(spot, strike, tenor, sigma, optType)
		if err != nil {
			return 0, err
		}
		diff := theo - observed
		if math.Abs(diff) < ivTolerance {
			return sigma, nil
		}

		t := math.Max(tenor, minTenor)
		d1, _ := p.d1d2(spot, strike, tenor, sigma)
		vega := spot * normPDF(d1) * math.Sqrt(t)
		if vega < ivVegaFloor {
			sigma = p.clampVol(sigma + 0.01)
			continue
		}
		sigma = p.clampVol(sigma - diff/vega)
	}
	return 0, fmt.Errorf("%w after %d iterations", ErrNoConvergence, ivMaxIter)
}

// HedgeSize converts an option delta into an underlying hedge quantity:
// |delta| * position size * contract size, clamped into [minSize,
// maxSize].
func (p *Pricer) HedgeSize(delta float64, size, contractSize, minSize, maxSize decimal.Decimal) decimal.Decimal {
	raw := decimal.NewFromFloat(math.Abs(delta)).Mul(size).Mul(contractSize)
	if raw.LessThan(minSize) {
		return minSize
	}
	if raw.GreaterThan(maxSize) {
		return maxSize
	}
	return raw
}

// normCDF is the standard normal cumulative distribution function.
func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// normPDF is the standard normal density.
func normPDF(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}
