package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"restake-risk-alerts/internal/storage"
)

// Show prints recent score samples for an asset, or recent alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openPgStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if opts.Alerts {
		return a.showAlerts(ctx, store, opts.Limit)
	}

	if opts.Asset == "" {
		return errors.New("--asset must be provided")
	}

	samples, err := store.ListRecentSamples(ctx, opts.Asset, opts.Limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSlashing\tLiquidity\tContract\tMarket\tComposite\tSeverity")

	for _, sample := range samples {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			sample.SampledAt.UTC().Format(time.RFC3339),
			formatDecimal(sample.Slashing, 2),
			formatDecimal(sample.Liquidity, 2),
			formatDecimal(sample.SmartContract, 2),
			formatDecimal(sample.Market, 2),
			formatDecimal(sample.Composite, 2),
			sample.Severity,
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showAlerts(ctx context.Context, store *storage.Store, limit int) error {
	alerts, err := store.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSeverity\tCategory\tScore\tRead\tAction\tMessage")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%v\t%v\t%s\n",
			alert.Timestamp.UTC().Format(time.RFC3339),
			alert.Severity,
			alert.Category,
			formatDecimal(alert.Score, 2),
			alert.IsRead,
			alert.ActionRequired,
			sanitizeInline(alert.Message),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
