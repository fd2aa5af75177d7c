package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer" mapstructure:"analyzer"`
	Sender     SenderConfig     `yaml:"sender" mapstructure:"sender"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Automation AutomationConfig `yaml:"automation" mapstructure:"automation"`
	Optimizer  OptimizerConfig  `yaml:"optimizer" mapstructure:"optimizer"`
	Threads    ThreadsConfig    `yaml:"threads" mapstructure:"threads"`
	Patterns   PatternsConfig   `yaml:"patterns" mapstructure:"patterns"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
}

// StoreConfig configures the document store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP control API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AnalyzerConfig selects and throttles the negotiation analyzer.
type AnalyzerConfig struct {
	Provider        string   `yaml:"provider" mapstructure:"provider"` // heuristic, anthropic, openai
	RatePerSecond   float64  `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst           int      `yaml:"burst" mapstructure:"burst"`
	TimeoutSecs     int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxMessages     int      `yaml:"max_messages" mapstructure:"max_messages"`
	CompetitorTerms []string `yaml:"competitor_terms" mapstructure:"competitor_terms"`
}

// SenderConfig configures outbound message delivery.
type SenderConfig struct {
	Mode          string  `yaml:"mode" mapstructure:"mode"` // dryrun, webhook
	WebhookURL    string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	Token         string  `yaml:"token" mapstructure:"token"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// NotionConfig holds Notion credentials for the human review queue.
type NotionConfig struct {
	Token      string `yaml:"token" mapstructure:"token"`
	ApprovalDB string `yaml:"approval_db" mapstructure:"approval_db"`
}

// AutomationConfig holds orchestrator defaults. Company settings may
// override the decision thresholds per run.
type AutomationConfig struct {
	Mode                        string  `yaml:"mode" mapstructure:"mode"`
	UserID                      string  `yaml:"user_id" mapstructure:"user_id"`
	CompanySettingsPath         string  `yaml:"company_settings_path" mapstructure:"company_settings_path"`
	AutoStart                   bool    `yaml:"auto_start" mapstructure:"auto_start"`
	PollIntervalSecs            int     `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	MaxConcurrentNegotiations   int     `yaml:"max_concurrent_negotiations" mapstructure:"max_concurrent_negotiations"`
	DecisionConfidenceThreshold float64 `yaml:"decision_confidence_threshold" mapstructure:"decision_confidence_threshold"`
	EmergencyStopEnabled        *bool   `yaml:"emergency_stop_enabled" mapstructure:"emergency_stop_enabled"` // nil means enabled
	BudgetDeviationPercentage   float64 `yaml:"budget_deviation_percentage" mapstructure:"budget_deviation_percentage"`
	NegotiationRoundsLimit      int     `yaml:"negotiation_rounds_limit" mapstructure:"negotiation_rounds_limit"`
	RiskScoreThreshold          float64 `yaml:"risk_score_threshold" mapstructure:"risk_score_threshold"`
	ActiveTimeoutHours          int     `yaml:"active_timeout_hours" mapstructure:"active_timeout_hours"`
	OptimizationIntervalHours   int     `yaml:"optimization_interval_hours" mapstructure:"optimization_interval_hours"`
	PerformanceIntervalMins     int     `yaml:"performance_interval_mins" mapstructure:"performance_interval_mins"`
	LowSuccessRate              float64 `yaml:"low_success_rate" mapstructure:"low_success_rate"`
	MinOutcomesForThrottle      int     `yaml:"min_outcomes_for_throttle" mapstructure:"min_outcomes_for_throttle"`
	ThrottledConfidence         float64 `yaml:"throttled_confidence" mapstructure:"throttled_confidence"`
}

// OptimizerConfig configures the strategy optimization engine.
type OptimizerConfig struct {
	ExplorationRate float64 `yaml:"exploration_rate" mapstructure:"exploration_rate"`
	LearningRate    float64 `yaml:"learning_rate" mapstructure:"learning_rate"`
	HistoryLimit    int     `yaml:"history_limit" mapstructure:"history_limit"`
}

// ThreadsConfig holds per-thread timeout defaults.
type ThreadsConfig struct {
	ResponseTimeoutHours int `yaml:"response_timeout_hours" mapstructure:"response_timeout_hours"`
	MaxDurationDays      int `yaml:"max_duration_days" mapstructure:"max_duration_days"`
}

// PatternsConfig configures pattern similarity lookup.
type PatternsConfig struct {
	MinSimilarity float64 `yaml:"min_similarity" mapstructure:"min_similarity"`
	MaxResults    int     `yaml:"max_results" mapstructure:"max_results"`
	AnalyticsDays int     `yaml:"analytics_days" mapstructure:"analytics_days"`
}

// MonitoringConfig configures the health checker and alert thresholds.
type MonitoringConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalMins   int     `yaml:"check_interval_mins" mapstructure:"check_interval_mins"`
	LookbackHours       int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	MinSuccessRate      float64 `yaml:"min_success_rate" mapstructure:"min_success_rate"`
	MinOutcomesForAlert int     `yaml:"min_outcomes_for_alert" mapstructure:"min_outcomes_for_alert"`
	MaxPendingApprovals int     `yaml:"max_pending_approvals" mapstructure:"max_pending_approvals"`
	MaxExpiredShare     float64 `yaml:"max_expired_share" mapstructure:"max_expired_share"`
}

// ResilienceConfig configures retries and circuit breakers for outbound calls.
type ResilienceConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("NEGOTIATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "negotiator.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 1024)
	v.SetDefault("analyzer.provider", "heuristic")
	v.SetDefault("analyzer.rate_per_second", 2.0)
	v.SetDefault("analyzer.burst", 1)
	v.SetDefault("analyzer.timeout_secs", 30)
	v.SetDefault("analyzer.max_messages", 20)
	v.SetDefault("sender.mode", "dryrun")
	v.SetDefault("sender.rate_per_second", 1.0)
	v.SetDefault("sender.timeout_secs", 15)
	v.SetDefault("automation.mode", "semi_auto")
	v.SetDefault("automation.poll_interval_secs", 30)
	v.SetDefault("automation.max_concurrent_negotiations", 5)
	v.SetDefault("automation.decision_confidence_threshold", 0.8)
	v.SetDefault("automation.emergency_stop_enabled", true)
	v.SetDefault("automation.budget_deviation_percentage", 30.0)
	v.SetDefault("automation.negotiation_rounds_limit", 5)
	v.SetDefault("automation.risk_score_threshold", 0.8)
	v.SetDefault("automation.active_timeout_hours", 48)
	v.SetDefault("automation.optimization_interval_hours", 24)
	v.SetDefault("automation.performance_interval_mins", 5)
	v.SetDefault("automation.low_success_rate", 0.3)
	v.SetDefault("automation.min_outcomes_for_throttle", 10)
	v.SetDefault("automation.throttled_confidence", 0.9)
	v.SetDefault("optimizer.exploration_rate", 0.2)
	v.SetDefault("optimizer.learning_rate", 0.1)
	v.SetDefault("optimizer.history_limit", 200)
	v.SetDefault("threads.response_timeout_hours", 48)
	v.SetDefault("threads.max_duration_days", 7)
	v.SetDefault("patterns.min_similarity", 0.7)
	v.SetDefault("patterns.max_results", 5)
	v.SetDefault("patterns.analytics_days", 30)
	v.SetDefault("monitoring.check_interval_mins", 15)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.min_success_rate", 0.3)
	v.SetDefault("monitoring.min_outcomes_for_alert", 10)
	v.SetDefault("monitoring.max_pending_approvals", 25)
	v.SetDefault("monitoring.max_expired_share", 0.5)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 10000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.25)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// Validate checks that the settings required by the given command are
// present. All problems are reported together.
func (c *Config) Validate(command string) error {
	var problems []string
	require := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		require(c.Store.DatabaseURL != "", "store.database_url is required for postgres")
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	switch command {
	case "serve", "run":
		if command == "serve" {
			require(c.Server.Port > 0 && c.Server.Port <= 65535, "server.port must be between 1 and 65535")
		}
		switch c.Analyzer.Provider {
		case "heuristic":
		case "anthropic":
			require(c.Anthropic.Key != "", "anthropic.key is required for the anthropic analyzer")
		case "openai":
			require(c.OpenAI.Key != "", "openai.key is required for the openai analyzer")
		default:
			problems = append(problems, "analyzer.provider must be heuristic, anthropic or openai")
		}
		switch c.Sender.Mode {
		case "dryrun":
		case "webhook":
			require(c.Sender.WebhookURL != "", "sender.webhook_url is required for webhook delivery")
		default:
			problems = append(problems, "sender.mode must be dryrun or webhook")
		}
		require(c.Automation.MaxConcurrentNegotiations > 0, "automation.max_concurrent_negotiations must be positive")
		require(c.Automation.DecisionConfidenceThreshold > 0 && c.Automation.DecisionConfidenceThreshold <= 1,
			"automation.decision_confidence_threshold must be in (0, 1]")
		require(c.Optimizer.ExplorationRate >= 0 && c.Optimizer.ExplorationRate <= 1,
			"optimizer.exploration_rate must be in [0, 1]")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
