package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runUser     string
	runMode     string
	runSettings string
	runOnce     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run automation in the foreground until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "run", runSettings)
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Settings == nil {
			return eris.New("company settings are required (--settings or automation.company_settings_path)")
		}
		user, err := automationUser(runUser)
		if err != nil {
			return err
		}
		mode, err := automationMode(runMode)
		if err != nil {
			return err
		}

		if err := env.Orchestrator.Start(ctx, user, env.Settings, mode); err != nil {
			return eris.Wrap(err, "start automation")
		}

		// The loops wait one interval before their first pass.
		report, err := env.Orchestrator.RunOnce(ctx)
		if err != nil {
			zap.L().Error("initial pass failed", zap.Error(err))
		} else {
			zap.L().Info("initial pass complete",
				zap.Int("candidates", report.Candidates),
				zap.Int("sent", report.Sent),
				zap.Int("queued_for_approval", report.Queued),
				zap.Int("escalated", report.Escalated),
			)
		}

		if !runOnce {
			<-ctx.Done()
		}

		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		summary, err := env.Orchestrator.Stop(stopCtx)
		if err != nil {
			return eris.Wrap(err, "stop automation")
		}
		return printJSON(summary)
	},
}

func init() {
	runCmd.Flags().StringVar(&runUser, "user", "", "user the automation acts for (default automation.user_id)")
	runCmd.Flags().StringVar(&runMode, "mode", "", "manual, semi_auto, full_auto or learning (default automation.mode)")
	runCmd.Flags().StringVar(&runSettings, "settings", "", "company settings YAML (default automation.company_settings_path)")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single pass and stop")
	rootCmd.AddCommand(runCmd)
}
