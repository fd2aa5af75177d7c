package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/negotiator/internal/analyzer"
	"github.com/sells-group/negotiator/internal/model"
	"github.com/sells-group/negotiator/internal/notify"
	"github.com/sells-group/negotiator/internal/optimizer"
	"github.com/sells-group/negotiator/internal/orchestrator"
	"github.com/sells-group/negotiator/internal/outreach"
	"github.com/sells-group/negotiator/internal/pattern"
	"github.com/sells-group/negotiator/internal/resilience"
	"github.com/sells-group/negotiator/internal/store"
	"github.com/sells-group/negotiator/internal/threadstate"
	anthropicpkg "github.com/sells-group/negotiator/pkg/anthropic"
	openaipkg "github.com/sells-group/negotiator/pkg/openai"
)

// negotiatorEnv holds the store and every component the serve, run and
// inspection commands need.
type negotiatorEnv struct {
	Store        store.Store
	Threads      *threadstate.Manager
	Patterns     *pattern.Storage
	Optimizer    *optimizer.Engine
	Orchestrator *orchestrator.Orchestrator
	// Settings may be nil when no company settings file is configured.
	Settings *model.CompanySettings
}

// Close releases resources held by the environment.
func (e *negotiatorEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured document store.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "negotiator.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initAnalyzer builds the analyzer selected by analyzer.provider, guarded by
// the shared resilience policy.
func initAnalyzer() (analyzer.ContextAnalyzer, error) {
	opts := analyzer.Options{
		MaxMessages:     cfg.Analyzer.MaxMessages,
		CompetitorTerms: cfg.Analyzer.CompetitorTerms,
	}

	var completer analyzer.Completer
	switch cfg.Analyzer.Provider {
	case "anthropic":
		completer = anthropicpkg.NewCompleter(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
	case "openai":
		completer = openaipkg.NewCompleter(openaipkg.NewClient(cfg.OpenAI.Key, cfg.OpenAI.BaseURL), cfg.OpenAI.Model, cfg.OpenAI.MaxTokens)
	}

	var guard *resilience.Guard
	if completer != nil {
		retry, breaker := resilience.FromConfig(cfg.Resilience)
		guard = resilience.NewGuard(completer.Name(), cfg.Analyzer.RatePerSecond, cfg.Analyzer.Burst, retry, breaker)
	}

	timeout := time.Duration(cfg.Analyzer.TimeoutSecs) * time.Second
	return analyzer.New(cfg.Analyzer.Provider, completer, guard, opts, timeout)
}

// loadSettings reads company settings from path, falling back to
// automation.company_settings_path. A nil result means none are configured.
func loadSettings(path string) (*model.CompanySettings, error) {
	if path == "" {
		path = cfg.Automation.CompanySettingsPath
	}
	if path == "" {
		return nil, nil
	}
	s, err := model.LoadCompanySettings(path)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// initEnv validates config for command, opens and migrates the store and
// wires every component. Callers should defer env.Close().
func initEnv(ctx context.Context, command, settingsPath string) (*negotiatorEnv, error) {
	if err := cfg.Validate(command); err != nil {
		return nil, err
	}

	settings, err := loadSettings(settingsPath)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	an, err := initAnalyzer()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	retry, breaker := resilience.FromConfig(cfg.Resilience)
	sender, err := outreach.NewSender(cfg.Sender, retry, breaker)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	threads := threadstate.New(st, threadstate.Options{
		ResponseTimeoutHours: cfg.Threads.ResponseTimeoutHours,
		MaxDurationDays:      cfg.Threads.MaxDurationDays,
	})
	patterns := pattern.New(st, pattern.Options{
		MinSimilarity: cfg.Patterns.MinSimilarity,
		MaxResults:    cfg.Patterns.MaxResults,
	})
	opt := optimizer.New(patterns, st, optimizer.Options{
		ExplorationRate: cfg.Optimizer.ExplorationRate,
		LearningRate:    cfg.Optimizer.LearningRate,
	})
	if err := opt.LoadWeights(ctx); err != nil {
		zap.L().Warn("load optimizer weights failed, using priors", zap.Error(err))
	}

	orch := orchestrator.New(orchestrator.Deps{
		Store:     st,
		Threads:   threads,
		Patterns:  patterns,
		Optimizer: opt,
		Analyzer:  an,
		Composer:  outreach.NewTemplateComposer(),
		Sender:    sender,
		Notifier:  notify.New(cfg.Notion),
	}, cfg.Automation, orchestrator.Options{
		HistoryLimit: cfg.Optimizer.HistoryLimit,
	})

	zap.L().Debug("environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("analyzer", cfg.Analyzer.Provider),
		zap.String("sender", cfg.Sender.Mode),
		zap.Bool("settings", settings != nil),
	)

	return &negotiatorEnv{
		Store:        st,
		Threads:      threads,
		Patterns:     patterns,
		Optimizer:    opt,
		Orchestrator: orch,
		Settings:     settings,
	}, nil
}

// automationMode resolves a --mode flag against automation.mode.
func automationMode(flag string) (model.AutomationMode, error) {
	m := model.AutomationMode(flag)
	if m == "" {
		m = model.AutomationMode(cfg.Automation.Mode)
	}
	if !m.Valid() {
		return "", eris.Errorf("unknown automation mode %q", m)
	}
	return m, nil
}

// automationUser resolves a --user flag against automation.user_id.
func automationUser(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if cfg.Automation.UserID != "" {
		return cfg.Automation.UserID, nil
	}
	return "", eris.New("a user is required (--user or NEGOTIATOR_AUTOMATION_USER_ID)")
}
