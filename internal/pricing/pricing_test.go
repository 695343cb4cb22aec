package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kneeraazon404/delta-hedging-platform/internal/model"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func approx(t *testing.T, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Fatalf("got %v, want %v (tol %v)", got, want, tol)
	}
}

func testPricer() *Pricer { return New(0.05, 0.001, 2.0) }

func TestValidateInputs(t *testing.T) {
	p := testPricer()
	tests := []struct {
		name                      string
		spot, strike, tenor, vol  float64
		wantErr                   bool
	}{
		{"valid", 100, 100, 0.25, 0.2, false},
		{"zero spot", 0, 100, 0.25, 0.2, true},
		{"negative strike", 100, -5, 0.25, 0.2, true},
		{"negative tenor", 100, 100, -0.1, 0.2, true},
		{"nan vol", 100, 100, 0.25, math.NaN(), true},
		{"inf spot", math.Inf(1), 100, 0.25, 0.2, true},
		{"zero tenor ok", 100, 100, 0, 0.2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.ValidateInputs(tt.spot, tt.strike, tt.tenor, tt.vol)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateInputs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("error %v is not ErrInvalidInput", err)
			}
		})
	}
}

func TestDeltaBoundsAndParity(t *testing.T) {
	p := testPricer()

	call, err := p.Delta(100, 100, 0.25, 0.2, model.OptionCall)
	if err != nil {
		t.Fatal(err)
	}
	if call <= 0 || call >= 1 {
		t.Fatalf("call delta %v out of (0, 1)", call)
	}

	put, err := p.Delta(100, 100, 0.25, 0.2, model.OptionPut)
	if err != nil {
		t.Fatal(err)
	}
	if put >= 0 || put <= -1 {
		t.Fatalf("put delta %v out of (-1, 0)", put)
	}

	// Call and put deltas on identical terms differ by exactly one.
	approx(t, call-put, 1.0, 1e-12)
}

func TestDeltaMonotoneInSpot(t *testing.T) {
	p := testPricer()
	prev := -1.0
	for spot := 50.0; spot <= 150; spot += 10 {
		delta, err := p.Delta(spot, 100, 0.5, 0.3, model.OptionCall)
		if err != nil {
			t.Fatal(err)
		}
		if delta <= prev {
			t.Fatalf("call delta not increasing at spot %v: %v <= %v", spot, delta, prev)
		}
		prev = delta
	}
}

func TestDeltaAtExpiry(t *testing.T) {
	p := testPricer()
	tests := []struct {
		name    string
		spot    float64
		optType model.OptionType
		want    float64
	}{
		{"itm call", 110, model.OptionCall, 1},
		{"otm call", 90, model.OptionCall, 0},
		{"atm call", 100, model.OptionCall, 0},
		{"itm put", 90, model.OptionPut, -1},
		{"otm put", 110, model.OptionPut, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Delta(tt.spot, 100, 0.0005, 0.2, tt.optType)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("Delta() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAllGreeks(t *testing.T) {
	p := testPricer()
	g, err := p.AllGreeks(100, 100, 0.25, 0.2, model.OptionCall)
	if err != nil {
		t.Fatal(err)
	}
	if g.Gamma <= 0 {
		t.Fatalf("gamma %v must be positive", g.Gamma)
	}
	if g.Vega <= 0 {
		t.Fatalf("vega %v must be positive", g.Vega)
	}
	if g.Theta >= 0 {
		t.Fatalf("long call theta %v must be negative", g.Theta)
	}

	// AllGreeks delta agrees with the standalone delta.
	delta, err := p.Delta(100, 100, 0.25, 0.2, model.OptionCall)
	if err != nil {
		t.Fatal(err)
	}
	approx(t, g.Delta, delta, 1e-12)
}

func TestPriceKnownValue(t *testing.T) {
	p := testPricer()

	// Textbook case: S=100, K=100, T=1, r=5%, sigma=20% -> call 10.4506.
	call, err := p.Price(100, 100, 1, 0.2, model.OptionCall)
	if err != nil {
		t.Fatal(err)
	}
	approx(t, call, 10.4506, 1e-3)

	put, err := p.Price(100, 100, 1, 0.2, model.OptionPut)
	if err != nil {
		t.Fatal(err)
	}
	// Put-call parity: C - P = S - K*exp(-rT).
	approx(t, call-put, 100-100*math.Exp(-0.05), 1e-9)
}

func TestPriceAtExpiryIsIntrinsic(t *testing.T) {
	p := testPricer()
	got, err := p.Price(110, 100, 0.0005, 0.2, model.OptionCall)
	if err != nil {
		t.Fatal(err)
	}
	approx(t, got, 10, 1e-12)
}

func TestImpliedVolatilityRoundTrip(t *testing.T) {
	p := testPricer()
	for _, sigma := range []float64{0.15, 0.30, 0.75} {
		price, err := p.Price(100, 105, 0.5, sigma, model.OptionCall)
		if err != nil {
			t.Fatal(err)
		}
		got, err := p.ImpliedVolatility(price, 100, 105, 0.5, model.OptionCall)
		if err != nil {
			t.Fatalf("sigma %v: %v", sigma, err)
		}
		approx(t, got, sigma, 1e-4)
	}
}

func TestImpliedVolatilityRejectsBadPrice(t *testing.T) {
	p := testPricer()
	if _, err := p.ImpliedVolatility(0, 100, 100, 0.5, model.OptionCall); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
}

func TestHedgeSizeClamp(t *testing.T) {
	p := testPricer()
	tests := []struct {
		name  string
		delta float64
		size  decimal.Decimal
		want  decimal.Decimal
	}{
		{"within band", 0.5, d(4), d(2)},
		{"clamped to max", 0.6, d(10), d(5)},
		{"clamped to min", 0.001, d(1), d(0.01)},
		{"negative delta uses magnitude", -0.5, d(4), d(2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.HedgeSize(tt.delta, tt.size, d(1), d(0.01), d(5))
			if !got.Equal(tt.want) {
				t.Fatalf("HedgeSize() = %s, want %s", got, tt.want)
			}
		})
	}
}
