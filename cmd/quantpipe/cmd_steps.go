package main

import (
	"context"
	"fmt"

	"QuantPipe/internal/di"
	"QuantPipe/pkg/logger"

	"github.com/spf13/cobra"
)

var clearAll bool

var stepsCmd = &cobra.Command{
	Use:   "steps",
	Short: "Inspect and reset experiment step markers",
}

var stepsClearCmd = &cobra.Command{
	Use:   "clear [step...]",
	Short: "Mark steps as incomplete so the next run repeats them",
	Long: `Clear the completion markers of the named steps, or of every step
including per-period training steps with --all.

Examples:
  quantpipe steps clear predict analyze --experiment experiments/value.yaml
  quantpipe steps clear --all --experiment experiments/value.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !clearAll {
			return fmt.Errorf("name at least one step or pass --all")
		}
		return withExperiment(func(ctx context.Context, _ *di.Runtime, e *di.Experiment) error {
			if clearAll {
				all, ok := e.Steps.(interface{ ClearAll(context.Context) error })
				if !ok {
					return fmt.Errorf("step store cannot clear all markers")
				}
				return all.ClearAll(ctx)
			}
			for _, id := range args {
				if err := e.Steps.ClearStep(ctx, id); err != nil {
					return err
				}
				e.RC.Logger.Info("step cleared", logger.String("step", id))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(stepsCmd)
	stepsCmd.AddCommand(stepsClearCmd)
	stepsClearCmd.Flags().BoolVar(&clearAll, "all", false, "Clear every marker of the experiment")
}
