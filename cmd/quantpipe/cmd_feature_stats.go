package main

import (
	"fmt"
	"os"
	"path/filepath"

	internalrepo "QuantPipe/internal/repository"
	"QuantPipe/internal/usecase"
	"QuantPipe/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	statsGroups   []string
	statsOut      string
	statsInfoDir  string
	holesCalendar string
	holesSource   string
	holesTarget   string
	holesWindow   int
)

var featureStatsCmd = &cobra.Command{
	Use:   "feature-stats",
	Short: "Compute the feature range table and optional hole ratios",
	Long: `Scan every security of each feature and write the range table
(feature, coverage, p1, p99) consumed by the join stage.

With --holes-calendar, first derive the trailing fraction of trading days
without data for every security of --holes-source.

Examples:
  quantpipe feature-stats --groups base,extra
  quantpipe feature-stats --groups base --info-dir stats/info
  quantpipe feature-stats --groups base --holes-calendar trading_days --holes-window 252`,
	RunE: runFeatureStats,
}

func init() {
	rootCmd.AddCommand(featureStatsCmd)
	featureStatsCmd.Flags().StringSliceVar(&statsGroups, "groups", nil, "Feature list names to scan")
	featureStatsCmd.Flags().StringVar(&statsOut, "out", "", "Range table path (default: paths.feature_stats_file)")
	featureStatsCmd.Flags().StringVar(&statsInfoDir, "info-dir", "", "Write one yearly breakdown file per feature here")
	featureStatsCmd.Flags().StringVar(&holesCalendar, "holes-calendar", "", "Trading-day calendar for the hole ratios")
	featureStatsCmd.Flags().StringVar(&holesSource, "holes-source", "raw-price", "Feature whose dates mark days with data")
	featureStatsCmd.Flags().StringVar(&holesTarget, "holes-target", "holes", "Feature receiving the hole ratios")
	featureStatsCmd.Flags().IntVar(&holesWindow, "holes-window", 252, "Trailing window in trading days")
	_ = featureStatsCmd.MarkFlagRequired("groups")
}

func runFeatureStats(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	runner := usecase.NewFeatureStatsRunner(rt.Series, rt.Metrics, rt.Logger)

	if holesCalendar != "" {
		days, err := rt.Refs.Calendar(ctx, holesCalendar)
		if err != nil {
			return fmt.Errorf("read calendar: %w", err)
		}
		if _, err := runner.ComputeHoles(ctx, rt.SeriesOut, usecase.HolesParams{
			Source:      holesSource,
			Target:      holesTarget,
			TradingDays: days,
			Window:      holesWindow,
		}); err != nil {
			return err
		}
	}

	names, err := rt.Refs.FeatureGroups(ctx, statsGroups)
	if err != nil {
		return fmt.Errorf("expand feature groups: %w", err)
	}
	res, err := runner.Compute(ctx, names, rt.Config.Workers)
	if err != nil {
		return err
	}

	out := statsOut
	if out == "" {
		out = rt.Config.Paths.FeatureStatsFile
	}
	if out == "" {
		return fmt.Errorf("--out or paths.feature_stats_file is required")
	}
	if err := internalrepo.WriteRangeTable(out, res.Stats); err != nil {
		return err
	}
	rt.Logger.Info("range table written",
		logger.String("path", out),
		logger.Int("features", len(res.Stats)),
		logger.Strings("empty", res.Empty))

	if statsInfoDir != "" {
		if err := os.MkdirAll(statsInfoDir, 0o755); err != nil {
			return fmt.Errorf("create info dir: %w", err)
		}
		for _, info := range res.Info {
			if err := writeInfoFile(filepath.Join(statsInfoDir, info.Feature), info); err != nil {
				return err
			}
		}
	}
	return rt.FlushMetrics(ctx)
}

func writeInfoFile(path string, info usecase.FeatureInfo) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create info file: %w", err)
	}
	if err := usecase.WriteFeatureInfo(f, info); err != nil {
		_ = f.Close()
		return fmt.Errorf("write info %s: %w", info.Feature, err)
	}
	return f.Close()
}
