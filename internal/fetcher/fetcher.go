package fetcher

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// ChainScores carries the on-chain sub-scores for an asset, each in [0,100].
type ChainScores struct {
	Slashing      decimal.Decimal
	SmartContract decimal.Decimal
}

// MarketScores carries the aggregator-supplied sub-scores for an asset, each
// in [0,100].
type MarketScores struct {
	Liquidity decimal.Decimal
	Market    decimal.Decimal
}

// ChainScoreFetcher retrieves slashing and smart-contract sub-scores from the
// on-chain risk oracle.
type ChainScoreFetcher interface {
	FetchChainScores(ctx context.Context, asset string) (ChainScores, error)
}

// MarketScoreFetcher retrieves liquidity and market sub-scores from the
// off-chain aggregator.
type MarketScoreFetcher interface {
	FetchMarketScores(ctx context.Context, asset string) (MarketScores, error)
}

// UpstreamError wraps a provider failure. Callers treat it as transient: the
// value is not cached and the next scheduled tick retries.
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
