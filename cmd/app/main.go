package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"FinAlloc/internal/di"
	"FinAlloc/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "finalloc",
	Short: "Market signals and portfolio allocation service",
	Long: `finalloc aggregates market data from several providers, turns it into
model signals and constrained portfolio weights, and watches registered
portfolios for drift against their targets.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildContainer loads the configuration and wires every dependency.
func buildContainer() (*di.Container, func(), error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config load failed: %w", err)
	}
	c, cleanup, err := di.InitializeContainer(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("app initialization failed: %w", err)
	}
	return c, cleanup, nil
}
