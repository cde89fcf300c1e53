package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"QuantPipe/internal/di"
	"QuantPipe/pkg/config"

	"github.com/spf13/cobra"
)

var (
	configPath     string
	experimentPath string
	force          bool
)

// rootCmd is the base command of the QuantPipe CLI.
var rootCmd = &cobra.Command{
	Use:   "quantpipe",
	Short: "Walk-forward research pipeline for equity return prediction",
	Long: `QuantPipe assembles point-in-time feature datasets, trains one model per
period on trailing windows, scores every later date with the newest model
that could have existed at the time, and backtests the rankings.

Each stage is a resumable step of an experiment; completed steps are skipped
unless --force is given.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "Path to the pipeline configuration")
	rootCmd.PersistentFlags().StringVar(&experimentPath, "experiment", "", "Path to the experiment YAML")
	rootCmd.PersistentFlags().BoolVar(&force, "force", false, "Rerun steps that are already complete")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadRuntime loads the configuration and wires the batch clients.
func loadRuntime() (*di.Runtime, error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	rt, err := di.InitializeRuntime(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialization failed: %w", err)
	}
	return rt, nil
}

func loadExperiment() (*config.Experiment, error) {
	if experimentPath == "" {
		return nil, fmt.Errorf("--experiment is required")
	}
	return config.LoadExperiment(experimentPath)
}
