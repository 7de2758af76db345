package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	scoreFloor = decimal.Zero
	scoreCeil  = decimal.NewFromInt(100)
)

// SubScores carries the four provider-supplied sub-scores, each in [0,100].
type SubScores struct {
	Slashing      decimal.Decimal
	Liquidity     decimal.Decimal
	SmartContract decimal.Decimal
	Market        decimal.Decimal
}

// Metrics is the composite risk snapshot for a single asset or address.
// Snapshots are rebuilt whole on every refresh, never patched field by field.
type Metrics struct {
	SlashingRisk      decimal.Decimal `json:"slashing_risk"`
	LiquidityRisk     decimal.Decimal `json:"liquidity_risk"`
	SmartContractRisk decimal.Decimal `json:"smart_contract_risk"`
	MarketRisk        decimal.Decimal `json:"market_risk"`
	CompositeRisk     decimal.Decimal `json:"composite_risk"`
	LastUpdate        time.Time       `json:"last_update"`
}

// SubScore returns the sub-score matching the given category. Composite maps
// to the composite score.
func (m Metrics) SubScore(cat Category) decimal.Decimal {
	switch cat {
	case CategorySlashing:
		return m.SlashingRisk
	case CategoryLiquidity:
		return m.LiquidityRisk
	case CategorySmartContract:
		return m.SmartContractRisk
	case CategoryMarket:
		return m.MarketRisk
	default:
		return m.CompositeRisk
	}
}

// Weights defines the fixed composite blend. The four weights must sum to 1.
type Weights struct {
	Slashing      decimal.Decimal
	Liquidity     decimal.Decimal
	SmartContract decimal.Decimal
	Market        decimal.Decimal
}

// DefaultWeights returns the standard 0.35/0.25/0.25/0.15 blend.
func DefaultWeights() Weights {
	return Weights{
		Slashing:      decimal.NewFromFloat(0.35),
		Liquidity:     decimal.NewFromFloat(0.25),
		SmartContract: decimal.NewFromFloat(0.25),
		Market:        decimal.NewFromFloat(0.15),
	}
}

// Validate checks each weight is in [0,1] and that the blend sums to 1.
func (w Weights) Validate() error {
	one := decimal.NewFromInt(1)
	for _, part := range []decimal.Decimal{w.Slashing, w.Liquidity, w.SmartContract, w.Market} {
		if part.IsNegative() || part.GreaterThan(one) {
			return fmt.Errorf("risk weight %s out of [0,1]", part)
		}
	}
	sum := w.Slashing.Add(w.Liquidity).Add(w.SmartContract).Add(w.Market)
	if !sum.Equal(one) {
		return fmt.Errorf("risk weights sum to %s, want 1", sum)
	}
	return nil
}

// Engine blends sub-scores into composite metrics. It holds no mutable state
// and performs no I/O, so a single instance is shared across call paths.
type Engine struct {
	weights Weights
	bands   SeverityBands
}

// NewEngine builds an engine for the given weights and severity bands.
func NewEngine(weights Weights, bands SeverityBands) *Engine {
	return &Engine{weights: weights, bands: bands}
}

// Score blends the sub-scores into a metrics snapshot stamped at the given
// time. Callers are expected to hand in sub-scores already normalised to
// [0,100]; the composite is clamped regardless.
func (e *Engine) Score(sub SubScores, at time.Time) Metrics {
	composite := sub.Slashing.Mul(e.weights.Slashing).
		Add(sub.Liquidity.Mul(e.weights.Liquidity)).
		Add(sub.SmartContract.Mul(e.weights.SmartContract)).
		Add(sub.Market.Mul(e.weights.Market))

	return Metrics{
		SlashingRisk:      sub.Slashing,
		LiquidityRisk:     sub.Liquidity,
		SmartContractRisk: sub.SmartContract,
		MarketRisk:        sub.Market,
		CompositeRisk:     Clamp(composite),
		LastUpdate:        at,
	}
}

// Severity maps a score onto the engine's configured bands.
func (e *Engine) Severity(score decimal.Decimal) Severity {
	return e.bands.For(score)
}

// CrossesThreshold reports whether the composite score has reached the given
// threshold.
func CrossesThreshold(m Metrics, threshold decimal.Decimal) bool {
	return m.CompositeRisk.GreaterThanOrEqual(threshold)
}

// Clamp bounds a score to [0,100].
func Clamp(score decimal.Decimal) decimal.Decimal {
	if score.LessThan(scoreFloor) {
		return scoreFloor
	}
	if score.GreaterThan(scoreCeil) {
		return scoreCeil
	}
	return score
}
