package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	weights := DefaultWeights()
	if err := weights.Validate(); err != nil {
		t.Fatalf("default weights should validate: %v", err)
	}
	return NewEngine(weights, DefaultBands())
}

func TestCompositeStaysBounded(t *testing.T) {
	engine := newTestEngine(t)

	for _, v := range []int64{0, 1, 50, 99, 100} {
		score := decimal.NewFromInt(v)
		m := engine.Score(SubScores{Slashing: score, Liquidity: score, SmartContract: score, Market: score}, time.Now())
		if m.CompositeRisk.IsNegative() || m.CompositeRisk.GreaterThan(decimal.NewFromInt(100)) {
			t.Fatalf("composite %s escaped [0,100] for input %d", m.CompositeRisk, v)
		}
		if !m.CompositeRisk.Equal(score) {
			t.Fatalf("uniform sub-scores %d should yield composite %d, got %s", v, v, m.CompositeRisk)
		}
	}
}

func TestCompositeMonotonicPerSubScore(t *testing.T) {
	engine := newTestEngine(t)
	base := SubScores{
		Slashing:      decimal.NewFromInt(40),
		Liquidity:     decimal.NewFromInt(40),
		SmartContract: decimal.NewFromInt(40),
		Market:        decimal.NewFromInt(40),
	}
	baseline := engine.Score(base, time.Now()).CompositeRisk

	bump := func(name string, modified SubScores) {
		raised := engine.Score(modified, time.Now()).CompositeRisk
		if !raised.GreaterThan(baseline) {
			t.Fatalf("raising %s should raise composite: %s -> %s", name, baseline, raised)
		}
	}

	higher := decimal.NewFromInt(60)
	bump("slashing", SubScores{Slashing: higher, Liquidity: base.Liquidity, SmartContract: base.SmartContract, Market: base.Market})
	bump("liquidity", SubScores{Slashing: base.Slashing, Liquidity: higher, SmartContract: base.SmartContract, Market: base.Market})
	bump("smart contract", SubScores{Slashing: base.Slashing, Liquidity: base.Liquidity, SmartContract: higher, Market: base.Market})
	bump("market", SubScores{Slashing: base.Slashing, Liquidity: base.Liquidity, SmartContract: base.SmartContract, Market: higher})
}

func TestCompositeScenario(t *testing.T) {
	engine := newTestEngine(t)

	m := engine.Score(SubScores{
		Slashing:      decimal.NewFromInt(90),
		Liquidity:     decimal.NewFromInt(20),
		SmartContract: decimal.NewFromInt(10),
		Market:        decimal.NewFromInt(5),
	}, time.Now())

	want := decimal.NewFromFloat(39.75)
	if !m.CompositeRisk.Equal(want) {
		t.Fatalf("composite should be %s, got %s", want, m.CompositeRisk)
	}
	if CrossesThreshold(m, decimal.NewFromInt(90)) {
		t.Fatalf("composite %s must not cross a 90 threshold", m.CompositeRisk)
	}
	if engine.Severity(m.CompositeRisk) != SeverityLow {
		t.Fatalf("composite %s should grade low", m.CompositeRisk)
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(decimal.NewFromInt(-5)); !got.IsZero() {
		t.Fatalf("negative scores clamp to 0, got %s", got)
	}
	if got := Clamp(decimal.NewFromInt(120)); !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("overshoot clamps to 100, got %s", got)
	}
}

func TestWeightsValidate(t *testing.T) {
	bad := Weights{
		Slashing:      decimal.NewFromFloat(0.5),
		Liquidity:     decimal.NewFromFloat(0.5),
		SmartContract: decimal.NewFromFloat(0.5),
		Market:        decimal.Zero,
	}
	if err := bad.Validate(); err == nil {
		t.Fatal("weights summing to 1.5 must not validate")
	}
}

func TestSeverityBands(t *testing.T) {
	bands := DefaultBands()
	cases := map[int64]Severity{
		95: SeverityCritical,
		90: SeverityCritical,
		80: SeverityHigh,
		60: SeverityMedium,
		10: SeverityLow,
	}
	for score, want := range cases {
		if got := bands.For(decimal.NewFromInt(score)); got != want {
			t.Fatalf("score %d should grade %s, got %s", score, want, got)
		}
	}

	inverted := SeverityBands{Critical: decimal.NewFromInt(50), High: decimal.NewFromInt(75), Medium: decimal.NewFromInt(90)}
	if err := inverted.Validate(); err == nil {
		t.Fatal("non-monotonic bands must not validate")
	}
}
