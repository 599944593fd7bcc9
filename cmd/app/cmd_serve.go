package main

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, drift trigger consumer, sweep schedule and quote stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cleanup, err := buildContainer()
		if err != nil {
			return err
		}
		defer cleanup()

		c.Logger.Info("starting")
		// blocks until signal
		return c.App.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
