package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"restake-risk-alerts/internal/risk"
)

var (
	simulateAsset    string
	simulateSlashing float64
	simulateLiq      float64
	simulateContract float64
	simulateMarket   float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Score fixed sub-scores once and dispatch any resulting alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateAsset == "" {
			return errors.New("--asset must be provided")
		}

		sub := risk.SubScores{
			Slashing:      decimal.NewFromFloat(simulateSlashing),
			Liquidity:     decimal.NewFromFloat(simulateLiq),
			SmartContract: decimal.NewFromFloat(simulateContract),
			Market:        decimal.NewFromFloat(simulateMarket),
		}
		return getApp().SimulateAlert(cmd.Context(), simulateAsset, sub)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAsset, "asset", "", "Asset address to simulate")
	simulateCmd.Flags().Float64Var(&simulateSlashing, "slashing", 0, "Slashing sub-score (0-100)")
	simulateCmd.Flags().Float64Var(&simulateLiq, "liquidity", 0, "Liquidity sub-score (0-100)")
	simulateCmd.Flags().Float64Var(&simulateContract, "contract", 0, "Smart-contract sub-score (0-100)")
	simulateCmd.Flags().Float64Var(&simulateMarket, "market", 0, "Market sub-score (0-100)")
}
