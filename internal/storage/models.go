package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskSample is one persisted scoring observation for an asset. The scheduler
// writes a sample on every successful refresh; exports and rescoring read
// them back.
type RiskSample struct {
	Asset         string
	SampledAt     time.Time
	Slashing      decimal.Decimal
	Liquidity     decimal.Decimal
	SmartContract decimal.Decimal
	Market        decimal.Decimal
	Composite     decimal.Decimal
	Severity      string
	CreatedAt     time.Time
}
