package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Severity grades how urgent an alert is.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalJSON renders the severity as its lowercase name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses a quoted severity name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSeverity(string(trimQuotes(data)))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSeverity converts a severity name back to its enum value.
func ParseSeverity(v string) (Severity, error) {
	switch v {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return SeverityLow, fmt.Errorf("unknown severity %q", v)
	}
}

// Category names which risk dimension an alert or sub-score belongs to.
type Category int

const (
	CategoryComposite Category = iota
	CategorySlashing
	CategoryLiquidity
	CategorySmartContract
	CategoryMarket
)

func (c Category) String() string {
	switch c {
	case CategoryComposite:
		return "composite"
	case CategorySlashing:
		return "slashing"
	case CategoryLiquidity:
		return "liquidity"
	case CategorySmartContract:
		return "smart_contract"
	case CategoryMarket:
		return "market"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// MarshalJSON renders the category as its lowercase name.
func (c Category) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// UnmarshalJSON parses a quoted category name.
func (c *Category) UnmarshalJSON(data []byte) error {
	parsed, err := ParseCategory(string(trimQuotes(data)))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCategory converts a category name back to its enum value.
func ParseCategory(v string) (Category, error) {
	switch v {
	case "composite":
		return CategoryComposite, nil
	case "slashing":
		return CategorySlashing, nil
	case "liquidity":
		return CategoryLiquidity, nil
	case "smart_contract":
		return CategorySmartContract, nil
	case "market":
		return CategoryMarket, nil
	default:
		return CategoryComposite, fmt.Errorf("unknown category %q", v)
	}
}

// Categories lists every evaluated dimension, composite first.
func Categories() []Category {
	return []Category{CategoryComposite, CategorySlashing, CategoryLiquidity, CategorySmartContract, CategoryMarket}
}

// SeverityBands maps scores onto severities. Severity must be monotonic in the
// score, so the cutoffs must strictly decrease from critical to medium.
type SeverityBands struct {
	Critical decimal.Decimal
	High     decimal.Decimal
	Medium   decimal.Decimal
}

// DefaultBands returns the 90/75/50 policy cutoffs.
func DefaultBands() SeverityBands {
	return SeverityBands{
		Critical: decimal.NewFromInt(90),
		High:     decimal.NewFromInt(75),
		Medium:   decimal.NewFromInt(50),
	}
}

// Validate rejects band configurations that are not strictly decreasing.
func (b SeverityBands) Validate() error {
	if !b.Critical.GreaterThan(b.High) || !b.High.GreaterThan(b.Medium) {
		return fmt.Errorf("severity bands must decrease: critical %s > high %s > medium %s",
			b.Critical, b.High, b.Medium)
	}
	if b.Medium.IsNegative() || b.Critical.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("severity bands must lie within [0,100]")
	}
	return nil
}

// For grades a score against the bands.
func (b SeverityBands) For(score decimal.Decimal) Severity {
	switch {
	case score.GreaterThanOrEqual(b.Critical):
		return SeverityCritical
	case score.GreaterThanOrEqual(b.High):
		return SeverityHigh
	case score.GreaterThanOrEqual(b.Medium):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func trimQuotes(data []byte) []byte {
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		return data[1 : len(data)-1]
	}
	return data
}
