package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/negotiator/internal/model"
	"github.com/sells-group/negotiator/internal/optimizer"
)

var (
	strategyThread   string
	strategyGoal     string
	strategySettings string
)

var strategyCmd = &cobra.Command{
	Use:   "strategy",
	Short: "Query the strategy optimizer",
}

var strategyRecommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Recommend a strategy for a thread or for the company defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "strategy", strategySettings)
		if err != nil {
			return err
		}
		defer env.Close()

		goal := model.Goal(strategyGoal)
		if goal == "" && env.Settings != nil {
			goal = env.Settings.Goal
		}
		if goal == "" {
			goal = model.GoalClosureRate
		}
		if !goal.Valid() {
			return eris.Errorf("unknown goal %q", goal)
		}

		var state *model.ThreadState
		if strategyThread != "" {
			if state, err = env.Threads.GetState(ctx, strategyThread); err != nil {
				return err
			}
		}

		history, err := env.Orchestrator.History(ctx)
		if err != nil {
			return err
		}
		strategy, err := env.Optimizer.OptimizeStrategy(ctx, optimizer.SituationFor(state, nil, env.Settings), history, goal)
		if err != nil {
			return err
		}
		return printJSON(strategy)
	},
}

func init() {
	strategyRecommendCmd.Flags().StringVar(&strategyThread, "thread", "", "thread to recommend for")
	strategyRecommendCmd.Flags().StringVar(&strategyGoal, "goal", "", "closure_rate, deal_value, speed or satisfaction")
	strategyRecommendCmd.Flags().StringVar(&strategySettings, "settings", "", "company settings YAML (default automation.company_settings_path)")
	strategyCmd.AddCommand(strategyRecommendCmd)
	rootCmd.AddCommand(strategyCmd)
}
