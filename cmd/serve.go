package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/negotiator/internal/api"
	"github.com/sells-group/negotiator/internal/monitoring"
)

const shutdownTimeout = 15 * time.Second

var (
	servePort     int
	serveSettings string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control API, optionally starting automation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve", serveSettings)
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store)
		router := api.NewRouter(api.Deps{
			Orchestrator: env.Orchestrator,
			Threads:      env.Threads,
			Patterns:     env.Patterns,
			Optimizer:    env.Optimizer,
			Collector:    collector,
			Settings:     env.Settings,
			UserID:       cfg.Automation.UserID,
		}, cfg.Server.AllowedOrigins)

		if cfg.Automation.AutoStart {
			if err := autoStart(ctx, env); err != nil {
				return err
			}
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()

			if env.Orchestrator.Status().Running {
				summary, err := env.Orchestrator.Stop(shutdownCtx)
				if err != nil {
					zap.L().Error("stop automation failed", zap.Error(err))
				} else {
					zap.L().Info("automation stopped",
						zap.Int("preserved", len(summary.Preserved)),
						zap.Int("failed", len(summary.Failed)),
					)
				}
			}
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

// autoStart starts automation with the configured user, mode and settings.
func autoStart(ctx context.Context, env *negotiatorEnv) error {
	if env.Settings == nil {
		return eris.New("automation.auto_start needs automation.company_settings_path")
	}
	user, err := automationUser("")
	if err != nil {
		return err
	}
	mode, err := automationMode("")
	if err != nil {
		return err
	}
	return env.Orchestrator.Start(ctx, user, env.Settings, mode)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveSettings, "settings", "", "company settings YAML (default automation.company_settings_path)")
	rootCmd.AddCommand(serveCmd)
}
