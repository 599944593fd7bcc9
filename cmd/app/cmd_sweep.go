package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var sweepTimeout time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Re-evaluate every registered portfolio once and print the report",
	Long: `Run one drift sweep over all registered portfolios, the same job the
scheduler runs periodically, and print the sweep report as JSON.

Example usage:
  finalloc sweep --config config/config.yaml
  finalloc sweep --timeout 2m`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cleanup, err := buildContainer()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		if sweepTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = contextWithTimeout(ctx, sweepTimeout)
			defer cancel()
		}
		report := c.Orchestrator.ReEvaluateAll(ctx)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		if len(report.Failed) > 0 {
			return fmt.Errorf("%d portfolios failed", len(report.Failed))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().DurationVar(&sweepTimeout, "timeout", 5*time.Minute, "upper bound for the whole sweep")
}
