package main

import (
	"fmt"

	"QuantPipe/internal/di"
	"QuantPipe/pkg/config"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve experiment results over HTTP",
	Long: `Start the read-only results API:

  GET /api/experiments
  GET /api/experiments/:name/dates
  GET /api/experiments/:name/predictions?date=YYYY-MM&limit=N
  GET /api/experiments/:name/topbot?ks=10,-10
  GET /healthz
  GET /metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWithEnv(configPath)
		if err != nil {
			return fmt.Errorf("config load failed: %w", err)
		}
		app, err := di.InitializeApp(cfg)
		if err != nil {
			return fmt.Errorf("app initialization failed: %w", err)
		}
		ctx, cancel := signalContext()
		defer cancel()
		return app.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
