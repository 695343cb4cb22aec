package hedger

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kneeraazon404/delta-hedging-platform/internal/model"
)

func soldPosition(t *testing.T, premium float64) *model.Position {
	t.Helper()
	pos, err := model.NewPosition(model.Snapshot{
		DealID:       "DEAL-1",
		Epic:         "TEST.OPT.EPIC",
		Strike:       d(100),
		OptionType:   "CALL",
		Direction:    "SELL",
		Size:         d(1),
		ContractSize: d(1),
		Level:        d(5),
		Premium:      d(premium),
		TimeToExpiry: 0.25,
	})
	if err != nil {
		t.Fatalf("NewPosition: %v", err)
	}
	return pos
}

func TestPnlHysteresisSequence(t *testing.T) {
	pos := soldPosition(t, 100)
	policy := PnlHysteresisPolicy{}

	decide := func(pnl float64) Action {
		return policy.Decide(PolicyInputs{Position: pos, PnL: d(pnl)})
	}

	// Comfortably above -premium while unhedged: nothing to do.
	if got := decide(-50); got != ActionNone {
		t.Fatalf("pnl=-50: got %v, want ActionNone", got)
	}

	// Losses consume the premium: open a hedge.
	if got := decide(-120); got != ActionOpen {
		t.Fatalf("pnl=-120: got %v, want ActionOpen", got)
	}
	pos.UpdateHedge("H-1", d(0.5), d(100), model.DirectionBuy)

	// Recovery back above -premium while hedged: unwind.
	if got := decide(-80); got != ActionClose {
		t.Fatalf("pnl=-80: got %v, want ActionClose", got)
	}
	pos.ClearHedge()

	// Full recovery while unhedged: nothing to do again.
	if got := decide(130); got != ActionNone {
		t.Fatalf("pnl=130: got %v, want ActionNone", got)
	}
}

func TestPnlHysteresisNoOscillationAtThreshold(t *testing.T) {
	pos := soldPosition(t, 100)
	policy := PnlHysteresisPolicy{}
	atThreshold := d(-100)

	// Unhedged at exactly -premium: initiate once.
	got := policy.Decide(PolicyInputs{Position: pos, PnL: atThreshold})
	if got != ActionOpen {
		t.Fatalf("unhedged at threshold: got %v, want ActionOpen", got)
	}
	pos.UpdateHedge("H-1", d(0.5), d(100), model.DirectionBuy)

	// Hedged at exactly -premium: hold, do not churn.
	for i := 0; i < 5; i++ {
		got = policy.Decide(PolicyInputs{Position: pos, PnL: atThreshold})
		if got != ActionNone {
			t.Fatalf("hedged at threshold (iter %d): got %v, want ActionNone", i, got)
		}
	}
}

func TestPnlHysteresisIgnoresBoughtAndInactive(t *testing.T) {
	policy := PnlHysteresisPolicy{}
	deep := d(-1000)

	bought := soldPosition(t, 100)
	bought.Direction = model.DirectionBuy
	if got := policy.Decide(PolicyInputs{Position: bought, PnL: deep}); got != ActionNone {
		t.Fatalf("bought position: got %v, want ActionNone", got)
	}

	inactive := soldPosition(t, 100)
	inactive.IsActive = false
	if got := policy.Decide(PolicyInputs{Position: inactive, PnL: deep}); got != ActionNone {
		t.Fatalf("inactive position: got %v, want ActionNone", got)
	}
}

func TestThresholdPolicy(t *testing.T) {
	pos := soldPosition(t, 100)
	policy := ThresholdPolicy{}

	in := PolicyInputs{Position: pos, PositionDelta: -0.4, DeltaThreshold: 0.05}
	if got := policy.Decide(in); got != ActionOpen {
		t.Fatalf("delta beyond tolerance: got %v, want ActionOpen", got)
	}

	// Within tolerance with no hedge on: nothing to do.
	in.PositionDelta = -0.01
	if got := policy.Decide(in); got != ActionNone {
		t.Fatalf("delta within tolerance: got %v, want ActionNone", got)
	}

	// Within tolerance with a hedge on: unwind it.
	pos.UpdateHedge("H-1", d(0.4), d(100), model.DirectionBuy)
	if got := policy.Decide(in); got != ActionClose {
		t.Fatalf("hedged within tolerance: got %v, want ActionClose", got)
	}
}

func TestPolicyByName(t *testing.T) {
	if got := PolicyByName("threshold").Name(); got != "threshold" {
		t.Fatalf("got %q, want threshold", got)
	}
	if got := PolicyByName("").Name(); got != "pnl_hysteresis" {
		t.Fatalf("got %q, want pnl_hysteresis", got)
	}
	if got := PolicyByName("bogus").Name(); got != "pnl_hysteresis" {
		t.Fatalf("got %q, want pnl_hysteresis", got)
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"defaults", func(*Settings) {}, false},
		{"zero min", func(s *Settings) { s.MinHedgeSize = decimal.Zero }, true},
		{"max below min", func(s *Settings) { s.MaxHedgeSize = d(0.001) }, true},
		{"max equals min", func(s *Settings) { s.MaxHedgeSize = s.MinHedgeSize }, true},
		{"zero interval", func(s *Settings) { s.HedgeInterval = 0 }, true},
		{"negative threshold", func(s *Settings) { s.DeltaThreshold = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
