package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"restake-risk-alerts/internal/app"
)

var (
	rescoreAsset  string
	rescoreFrom   string
	rescoreTo     string
	rescoreDryRun bool
)

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Recompute stored composites under the current weights",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rescoreFrom == "" || rescoreTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := time.Parse(time.RFC3339, rescoreFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		to, err := time.Parse(time.RFC3339, rescoreTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		if !from.Before(to) {
			return fmt.Errorf("--from must be before --to")
		}

		opts := app.RescoreOptions{
			Asset:  rescoreAsset,
			From:   from,
			To:     to,
			DryRun: rescoreDryRun,
		}

		return getApp().Rescore(cmd.Context(), opts)
	},
}

func init() {
	rescoreCmd.Flags().StringVar(&rescoreAsset, "asset", "", "Asset address to rescore")
	rescoreCmd.Flags().StringVar(&rescoreFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	rescoreCmd.Flags().StringVar(&rescoreTo, "to", "", "End timestamp (RFC3339, exclusive)")
	rescoreCmd.Flags().BoolVar(&rescoreDryRun, "dry-run", false, "Run without writing to storage")
}
