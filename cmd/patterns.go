package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/negotiator/internal/pattern"
)

var (
	patternsDays int
	patternsOut  string
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect learned negotiation patterns",
}

var patternsAnalyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Summarize patterns recorded in the last --days days",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "patterns", "")
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Patterns.GetAnalytics(ctx, analyticsDays())
		if err != nil {
			return err
		}
		return printJSON(summary)
	},
}

var patternsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every pattern and an analytics summary to an .xlsx workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "patterns", "")
		if err != nil {
			return err
		}
		defer env.Close()

		all, err := env.Patterns.All(ctx)
		if err != nil {
			return err
		}
		summary, err := env.Patterns.GetAnalytics(ctx, analyticsDays())
		if err != nil {
			return err
		}
		if err := pattern.ExportXLSX(patternsOut, all, summary); err != nil {
			return eris.Wrap(err, "export patterns")
		}

		zap.L().Info("patterns exported", zap.String("path", patternsOut), zap.Int("patterns", len(all)))
		return nil
	},
}

func analyticsDays() int {
	if patternsDays > 0 {
		return patternsDays
	}
	return cfg.Patterns.AnalyticsDays
}

func init() {
	patternsCmd.PersistentFlags().IntVar(&patternsDays, "days", 0, "analytics window in days (default patterns.analytics_days)")
	patternsExportCmd.Flags().StringVar(&patternsOut, "out", "patterns.xlsx", "output workbook path")
	patternsCmd.AddCommand(patternsAnalyticsCmd, patternsExportCmd)
	rootCmd.AddCommand(patternsCmd)
}
