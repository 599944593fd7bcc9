package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"FinAlloc/internal/domain/models"
	"FinAlloc/pkg/util"
)

var (
	allocSymbols     string
	allocModel       string
	allocPortfolio   string
	allocHorizon     int
	allocRisk        string
	allocMinWeight   float64
	allocMaxWeight   float64
	allocCashReserve float64
	allocMethod      string
	allocTimeout     time.Duration
)

var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Compute target weights for a symbol list and print them",
	Long: `Fetch data for the given symbols, score them with a signal model and
print the optimized allocation as JSON. With --portfolio the result is
registered as that portfolio's drift target.

Example usage:
  finalloc allocate --symbols AAPL,MSFT,NVDA
  finalloc allocate --symbols AAPL,MSFT --model momentum --risk conservative
  finalloc allocate --symbols AAPL,MSFT,GLD --portfolio retirement --max-weight 0.5
  finalloc allocate --symbols SPY,TLT,GLD --method risk_parity --cash-reserve 0`,
	RunE: runAllocate,
}

func init() {
	rootCmd.AddCommand(allocateCmd)

	allocateCmd.Flags().StringVar(&allocSymbols, "symbols", "", "comma separated symbols")
	allocateCmd.Flags().StringVar(&allocModel, "model", "", "signal model id (default model when empty)")
	allocateCmd.Flags().StringVar(&allocPortfolio, "portfolio", "", "register the result as this portfolio's target")
	allocateCmd.Flags().IntVar(&allocHorizon, "horizon", 20, "signal horizon in trading days")
	allocateCmd.Flags().StringVar(&allocRisk, "risk", string(models.RiskModerate), "risk tier: conservative, moderate, aggressive")
	allocateCmd.Flags().Float64Var(&allocMinWeight, "min-weight", 0, "per-symbol minimum weight")
	allocateCmd.Flags().Float64Var(&allocMaxWeight, "max-weight", 0.4, "per-symbol maximum weight")
	allocateCmd.Flags().Float64Var(&allocCashReserve, "cash-reserve", 0, "fraction held as cash (configured default when unset)")
	allocateCmd.Flags().StringVar(&allocMethod, "method", string(models.MethodMeanVariance), "allocation method: mean_variance, risk_parity")
	allocateCmd.Flags().DurationVar(&allocTimeout, "timeout", time.Minute, "request timeout")

	_ = allocateCmd.MarkFlagRequired("symbols")
}

func runAllocate(cmd *cobra.Command, args []string) error {
	c, cleanup, err := buildContainer()
	if err != nil {
		return err
	}
	defer cleanup()

	req := models.AllocationRequest{
		Symbols: util.SplitSymbols(allocSymbols),
		Horizon: allocHorizon,
		Constraints: models.AllocationConstraint{
			DefaultBound: models.WeightBound{Min: allocMinWeight, Max: allocMaxWeight},
			RiskTier:     models.RiskTier(allocRisk),
			Method:       models.AllocationMethod(allocMethod),
		},
		PortfolioID: allocPortfolio,
	}
	if cmd.Flags().Changed("cash-reserve") {
		req.CashReserve = &allocCashReserve
	}
	if allocModel != "" {
		req.ModelIDs = []string{allocModel}
	}

	ctx, cancel := contextWithTimeout(cmd.Context(), allocTimeout)
	defer cancel()
	resp, err := c.Orchestrator.AnalyzeAndAllocate(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func contextWithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, d)
}
