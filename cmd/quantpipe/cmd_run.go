package main

import (
	"context"
	"fmt"

	"QuantPipe/internal/di"
	internalrepo "QuantPipe/internal/repository"
	"QuantPipe/internal/usecase"
	"QuantPipe/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	legacyDir    string
	importLegacy string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every pipeline step of an experiment",
	Long: `Run feature_list, collect_data, filter_train, filter_predict,
train_models, predict and analyze in order.

Examples:
  quantpipe run --experiment experiments/value.yaml
  quantpipe run --experiment experiments/value.yaml --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSteps(usecase.PipelineSteps...)
	},
}

var assembleCmd = &cobra.Command{
	Use:   "assemble",
	Short: "Expand the feature list and assemble the full dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withExperiment(func(ctx context.Context, rt *di.Runtime, e *di.Experiment) error {
			if importLegacy != "" {
				n, err := e.ImportLegacy(ctx, importLegacy)
				if err != nil {
					return err
				}
				rt.Logger.Info("legacy dataset imported", logger.String("dir", importLegacy), logger.Int("rows", n))
				return nil
			}
			for _, id := range []string{usecase.StepFeatureList, usecase.StepCollectData} {
				if err := e.Runner.RunStep(ctx, id); err != nil {
					return err
				}
			}
			if legacyDir == "" {
				return nil
			}
			ds, err := e.Datasets.Read(ctx, usecase.DatasetAll)
			if err != nil {
				return err
			}
			if err := internalrepo.ExportLegacy(legacyDir, ds); err != nil {
				return err
			}
			rt.Logger.Info("legacy dataset exported", logger.String("dir", legacyDir), logger.Int("rows", len(ds.Rows)))
			return nil
		})
	},
}

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Derive the train and predict datasets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSteps(usecase.StepFilterTrain, usecase.StepFilterPredict)
	},
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train one model per walk-forward period",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSteps(usecase.StepTrainModels)
	},
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Score every prediction date with its period-correct model",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSteps(usecase.StepPredict)
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Backtest the prediction results",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSteps(usecase.StepAnalyze)
	},
}

func init() {
	rootCmd.AddCommand(runCmd, assembleCmd, filterCmd, trainCmd, predictCmd, analyzeCmd)
	assembleCmd.Flags().StringVar(&legacyDir, "legacy-dir", "", "Also export the dataset in the parallel-file layout to this directory")
	assembleCmd.Flags().StringVar(&importLegacy, "import-legacy", "", "Load the full dataset from a parallel-file directory instead of collecting it")
	assembleCmd.MarkFlagsMutuallyExclusive("legacy-dir", "import-legacy")
}

func runSteps(ids ...string) error {
	return withExperiment(func(ctx context.Context, _ *di.Runtime, e *di.Experiment) error {
		for _, id := range ids {
			if err := e.Runner.RunStep(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// withExperiment wires the experiment, runs fn and flushes metrics even
// when fn fails.
func withExperiment(fn func(ctx context.Context, rt *di.Runtime, e *di.Experiment) error) error {
	exp, err := loadExperiment()
	if err != nil {
		return err
	}
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	e := rt.NewExperiment(exp, usecase.WithForce(force))
	runErr := fn(ctx, rt, e)
	if err := e.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("close publish sinks: %w", err)
	}
	if err := rt.FlushMetrics(context.Background()); err != nil {
		rt.Logger.Warn("metrics flush failed", logger.Error(err))
	}
	if runErr != nil {
		e.RC.Logger.Error("experiment failed", logger.Error(runErr))
	}
	return runErr
}
