package app

import (
	"context"
	"errors"

	"restake-risk-alerts/internal/risk"
)

// Rescore recomputes stored composites under the currently configured
// weights. Useful after a weight change so historical exports stay
// comparable.
func (a *App) Rescore(ctx context.Context, opts RescoreOptions) error {
	if opts.Asset == "" {
		return errors.New("--asset must be provided")
	}
	if !opts.From.Before(opts.To) {
		return errors.New("rescore window is empty; check --from/--to")
	}

	store, err := a.openPgStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	engine := a.newEngine()

	samples, err := store.ListSamplesBetween(ctx, opts.Asset, opts.From.UTC(), opts.To.UTC())
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Str("asset", opts.Asset).Msg("no samples in rescore window")
		return nil
	}

	if opts.DryRun {
		a.Logger.Warn().Msg("rescore dry-run: no rows will be updated")
	}

	updated := 0
	unchanged := 0
	failed := 0
	for _, sample := range samples {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		m := engine.Score(risk.SubScores{
			Slashing:      sample.Slashing,
			Liquidity:     sample.Liquidity,
			SmartContract: sample.SmartContract,
			Market:        sample.Market,
		}, sample.SampledAt)

		if m.CompositeRisk.Equal(sample.Composite) {
			unchanged++
			continue
		}

		severity := engine.Severity(m.CompositeRisk).String()
		if opts.DryRun {
			updated++
			continue
		}

		if err := store.UpdateSampleScore(ctx, opts.Asset, sample.SampledAt, m.CompositeRisk, severity); err != nil {
			failed++
			a.Logger.Error().Err(err).Time("sampled_at", sample.SampledAt).Msg("rescore update failed")
			continue
		}
		updated++
	}

	a.Logger.Info().
		Int("updated", updated).
		Int("unchanged", unchanged).
		Int("failed", failed).
		Msg("rescore complete")
	if failed > 0 {
		return errors.New("some samples failed to rescore; check logs")
	}
	return nil
}
