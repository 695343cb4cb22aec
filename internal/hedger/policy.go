package hedger

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/kneeraazon404/delta-hedging-platform/internal/model"
)

// Action is a hedge policy decision.
type Action int

const (
	// ActionNone leaves the hedge state untouched.
	ActionNone Action = iota
	// ActionOpen opens (or force-refreshes) a hedge.
	ActionOpen
	// ActionClose closes the currently open hedge.
	ActionClose
)

// PolicyInputs carries everything a policy may consider for one
// evaluation. The position is locked by the engine for the duration of
// the call.
type PolicyInputs struct {
	Position       *model.Position
	Delta          float64
	PositionDelta  float64
	PnL            decimal.Decimal
	DeltaThreshold float64
}

// Policy decides whether a position needs a hedge adjustment. Policies
// are stateless; all hysteresis state lives on the Position.
type Policy interface {
	Name() string
	Decide(in PolicyInputs) Action
}

// PnlHysteresisPolicy hedges when realized losses have consumed the
// premium collected, and unwinds once PnL recovers above that level.
// The dead band around the threshold is carried by the position's
// crossed flag, preventing churn as PnL oscillates near -premium.
//
// This is the default policy for sold-premium books.
type PnlHysteresisPolicy struct{}

func (PnlHysteresisPolicy) Name() string { return "pnl_hysteresis" }

func (PnlHysteresisPolicy) Decide(in PolicyInputs) Action {
	p := in.Position
	if !p.NeedsHedge(in.PnL) {
		return ActionNone
	}
	if p.PnLThresholdCrossed {
		return ActionClose
	}
	return ActionOpen
}

// ThresholdPolicy hedges whenever the net position delta exceeds the
// configured tolerance, regardless of PnL. Used for raw delta-neutral
// mandates.
type ThresholdPolicy struct{}

func (ThresholdPolicy) Name() string { return "threshold" }

func (ThresholdPolicy) Decide(in PolicyInputs) Action {
	p := in.Position
	if !p.IsActive || p.Direction != model.DirectionSell {
		return ActionNone
	}
	if math.Abs(in.PositionDelta) > in.DeltaThreshold {
		return ActionOpen
	}
	if p.HasOpenHedge() {
		return ActionClose
	}
	return ActionNone
}

// PolicyByName resolves a configured policy name, defaulting to PnL
// hysteresis.
func PolicyByName(name string) Policy {
	if name == "threshold" {
		return ThresholdPolicy{}
	}
	return PnlHysteresisPolicy{}
}
