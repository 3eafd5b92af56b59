package orchestrator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Tox85/bsl-pengu-bot-sub001/internal/retry"
)

// Reason says why a position should be closed and reopened.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonPriceOutOfRange Reason = "PRICE_OUT_OF_RANGE"
	ReasonFeesHigh        Reason = "FEES_HIGH"
	ReasonSignificantMove Reason = "SIGNIFICANT_MOVE"
)

// RebalanceInput is everything the decision needs, pre-fetched by the
// caller. Fees and gas cost must be in the same unit.
type RebalanceInput struct {
	CurrentTick int
	LowerTick   int
	UpperTick   int

	LastRebalancePrice decimal.Decimal
	CurrentPrice       decimal.Decimal

	AccruedFees   decimal.Decimal
	EstGasCost    decimal.Decimal
	FeeMultiplier decimal.Decimal

	DriftThresholdPct decimal.Decimal
}

type RebalanceDecision struct {
	Rebalance bool
	Reason    Reason
	// DriftPct is the absolute relative price move since the last
	// rebalance, in percent. Informational; populated whenever last price
	// is known.
	DriftPct decimal.Decimal
}

// DecideRebalance evaluates the triggers in strict priority order. Being
// out of range earns nothing, so it overrides any fees-too-small hold; fee
// harvesting comes before the plain drift check.
func DecideRebalance(in RebalanceInput) (RebalanceDecision, error) {
	if in.LowerTick >= in.UpperTick {
		return RebalanceDecision{}, retry.Fatal(fmt.Errorf("tick range [%d, %d] inverted", in.LowerTick, in.UpperTick))
	}

	var drift decimal.Decimal
	if in.LastRebalancePrice.Sign() > 0 {
		drift = in.CurrentPrice.Sub(in.LastRebalancePrice).
			Div(in.LastRebalancePrice).
			Mul(decimal.NewFromInt(100)).
			Abs()
	}

	if in.CurrentTick < in.LowerTick || in.CurrentTick > in.UpperTick {
		return RebalanceDecision{Rebalance: true, Reason: ReasonPriceOutOfRange, DriftPct: drift}, nil
	}

	if in.FeeMultiplier.Sign() > 0 && in.EstGasCost.Sign() > 0 {
		if in.AccruedFees.GreaterThan(in.EstGasCost.Mul(in.FeeMultiplier)) {
			return RebalanceDecision{Rebalance: true, Reason: ReasonFeesHigh, DriftPct: drift}, nil
		}
	}

	if in.DriftThresholdPct.Sign() > 0 && in.LastRebalancePrice.Sign() > 0 {
		if drift.GreaterThan(in.DriftThresholdPct) {
			return RebalanceDecision{Rebalance: true, Reason: ReasonSignificantMove, DriftPct: drift}, nil
		}
	}

	return RebalanceDecision{DriftPct: drift}, nil
}
