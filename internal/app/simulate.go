package app

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"restake-risk-alerts/internal/fetcher"
	"restake-risk-alerts/internal/risk"
	"restake-risk-alerts/internal/storage"
)

// SimulateAlert runs the full scoring and alerting pipeline once with fixed
// sub-scores, dispatching through the configured notifier. State stays in
// memory.
func (a *App) SimulateAlert(ctx context.Context, asset string, sub risk.SubScores) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	backend := storage.NewMemory()
	chain := &staticChainFetcher{slashing: sub.Slashing, contract: sub.SmartContract}
	market := &staticMarketFetcher{liquidity: sub.Liquidity, market: sub.Market}
	svc, _, _, _, _ := a.newComponents(backend, notifier, chain, market)

	m, err := svc.RefreshAsset(ctx, asset)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Str("asset", asset).
		Str("composite", m.CompositeRisk.String()).
		Msg("simulation complete")
	return nil
}

type staticChainFetcher struct {
	slashing, contract decimal.Decimal
}

func (s *staticChainFetcher) FetchChainScores(ctx context.Context, asset string) (fetcher.ChainScores, error) {
	return fetcher.ChainScores{Slashing: s.slashing, SmartContract: s.contract}, nil
}

type staticMarketFetcher struct {
	liquidity, market decimal.Decimal
}

func (s *staticMarketFetcher) FetchMarketScores(ctx context.Context, asset string) (fetcher.MarketScores, error) {
	return fetcher.MarketScores{Liquidity: s.liquidity, Market: s.market}, nil
}

var _ fetcher.ChainScoreFetcher = (*staticChainFetcher)(nil)
var _ fetcher.MarketScoreFetcher = (*staticMarketFetcher)(nil)
